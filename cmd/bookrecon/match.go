package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/bookrecon/internal/connect"
	"github.com/hurttlocker/bookrecon/internal/match"
)

type matchFlags struct {
	dryRun bool
	from   string
	to     string
	limit  int
	source string
	file   string
}

func matchCmd(a *app) *cobra.Command {
	var f matchFlags
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link email messages to bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMatch(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "match and report without writing")
	cmd.Flags().StringVar(&f.from, "from", "", "first message day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last message day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum messages to fetch (0 = unbounded)")
	cmd.Flags().StringVar(&f.source, "source", "imap", "message source: imap, gmail or file")
	cmd.Flags().StringVar(&f.file, "file", "", "JSON messages file for --source file")
	return cmd
}

// emailSource builds the configured source and a function releasing it.
func (a *app) emailSource(f matchFlags) (connect.EmailSource, func(), error) {
	switch f.source {
	case "file":
		if f.file == "" {
			return nil, nil, fmt.Errorf("--source file needs --file")
		}
		mb, err := connect.LoadFileMailbox(f.file)
		if err != nil {
			return nil, nil, err
		}
		return mb, func() {}, nil
	case "imap":
		if a.cfg.IMAPServer.Value == "" {
			return nil, nil, fmt.Errorf("no IMAP server: set imap.server or BOOKRECON_IMAP_SERVER")
		}
		src := connect.NewIMAPSource(a.cfg.IMAPServer.Value, a.cfg.IMAPUser.Value, a.cfg.IMAPPassword.Value, a.cfg.IMAPMailbox.Value)
		return src, func() {
			if err := src.Close(); err != nil {
				a.log.WithError(err).Debug("closing imap connection")
			}
		}, nil
	case "gmail":
		if a.cfg.GmailAccount.Value == "" {
			return nil, nil, fmt.Errorf("no Gmail account: set gmail.account or BOOKRECON_GMAIL_ACCOUNT")
		}
		return &connect.GogGmail{
			Account:       a.cfg.GmailAccount.Value,
			Query:         a.cfg.GmailQuery.Value,
			IncludeBodies: true,
			GogPath:       a.cfg.GogPath.Value,
		}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown message source %q (want imap, gmail or file)", f.source)
	}
}

func (a *app) runMatch(ctx context.Context, f matchFlags) error {
	since, until, err := parseRange(f.from, f.to)
	if err != nil {
		return err
	}
	src, closeSource, err := a.emailSource(f)
	if err != nil {
		return err
	}
	defer closeSource()

	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	matcher, err := match.NewMatcher(s, match.Options{
		CompanyDomains:    a.cfg.CompanyDomains.List(),
		WindowDays:        a.intSetting(a.cfg.WindowDays, match.DefaultWindowDays),
		TieBreak:          match.TieBreak(strings.ToLower(a.cfg.TieBreak.Value)),
		IdentifierPattern: a.cfg.IdentifierPattern.Value,
	})
	if err != nil {
		return err
	}

	queue, closeQueue := a.reviewQueue(s)
	defer closeQueue()

	runID, finish, err := a.trackRun(ctx, s, "match", f.source, f.dryRun)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	a.printDryRunBanner(f.dryRun)
	result, err := match.NewRunner(src, s, matcher, queue, a.log).Run(ctx, match.RunOptions{
		Since:    since,
		Until:    until,
		Limit:    f.limit,
		PageSize: a.intSetting(a.cfg.PageSize, 0),
		DryRun:   f.dryRun,
		RunID:    runID,
	})
	if err != nil {
		finish(nil, err)
		return fmt.Errorf("match: %w", err)
	}
	finish(result.Counts(), nil)

	if a.verbose && len(result.Links) > 0 {
		fmt.Fprintln(a.out, "Links:")
		fmt.Fprint(a.out, match.FormatLinks(result))
		fmt.Fprintln(a.out)
	}
	fmt.Fprint(a.out, match.FormatRunResult(result))
	a.printDryRunReminder(f.dryRun)
	return nil
}
