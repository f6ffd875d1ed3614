package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/bookrecon/internal/connect"
	"github.com/hurttlocker/bookrecon/internal/extract"
	"github.com/hurttlocker/bookrecon/internal/ingest"
)

type importFlags struct {
	dryRun bool
	from   string
	to     string
	limit  int
	source string
	file   string
}

func importCmd(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import historical bookings from calendar events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "parse and report without writing")
	cmd.Flags().StringVar(&f.from, "from", "", "first event day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last event day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum events to fetch (0 = config max_results or unbounded)")
	cmd.Flags().StringVar(&f.source, "source", "google", "event source: google or file")
	cmd.Flags().StringVar(&f.file, "file", "", "JSON events file for --source file")
	return cmd
}

func (a *app) calendarSource(f importFlags) (connect.CalendarSource, error) {
	switch f.source {
	case "file":
		if f.file == "" {
			return nil, fmt.Errorf("--source file needs --file")
		}
		cal, err := connect.LoadFileCalendar(f.file)
		if err != nil {
			return nil, err
		}
		return cal, nil
	case "google":
		creds, err := a.googleCredentials()
		if err != nil {
			return nil, err
		}
		return connect.NewGoogleCalendar(a.cfg.CalendarID.Value, creds), nil
	default:
		return nil, fmt.Errorf("unknown event source %q (want google or file)", f.source)
	}
}

func (a *app) googleCredentials() (connect.CredentialProvider, error) {
	switch {
	case a.cfg.GoogleTokenFile.Value != "":
		return connect.NewFileTokenProvider(a.cfg.GoogleTokenFile.Value, a.cfg.GoogleClientID.Value, a.cfg.GoogleClientSecret.Value), nil
	case a.cfg.GoogleAccessToken.Value != "":
		return connect.StaticToken(a.cfg.GoogleAccessToken.Value), nil
	default:
		return nil, fmt.Errorf("no Google credentials: set google.token_file or GOOGLE_ACCESS_TOKEN")
	}
}

func (a *app) runImport(ctx context.Context, f importFlags) error {
	from, to, err := parseRange(f.from, f.to)
	if err != nil {
		return err
	}
	src, err := a.calendarSource(f)
	if err != nil {
		return err
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	queue, closeQueue := a.reviewQueue(s)
	defer closeQueue()

	runID, finish, err := a.trackRun(ctx, s, "import", f.source, f.dryRun)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	domains := a.cfg.CompanyDomains.List()
	importer := ingest.NewImporter(
		src,
		s,
		extract.NewParser(extract.ParserOptions{CompanyDomains: domains}),
		ingest.NewRelevanceFilter(a.cfg.IncludeKeywords.List(), a.cfg.ExcludeKeywords.List(), domains),
		ingest.WithReviewQueue(queue),
		ingest.WithLogger(a.log),
	)

	limit := f.limit
	if limit == 0 {
		limit = a.intSetting(a.cfg.MaxResults, 0)
	}

	a.printDryRunBanner(f.dryRun)
	result, err := importer.Run(ctx, ingest.ImportOptions{
		From:          from,
		To:            to,
		Limit:         limit,
		PageSize:      a.intSetting(a.cfg.PageSize, 0),
		DryRun:        f.dryRun,
		BookingPrefix: a.cfg.BookingPrefix.Value,
		SourceTag:     a.cfg.SourceTag.Value,
		RunID:         runID,
	})
	if err != nil {
		finish(nil, err)
		return fmt.Errorf("import: %w", err)
	}
	finish(result.Counts(), nil)

	if a.verbose {
		fmt.Fprint(a.out, ingest.FormatOutcomes(result))
		fmt.Fprintln(a.out)
	}
	fmt.Fprint(a.out, ingest.FormatImportResult(result))
	a.printDryRunReminder(f.dryRun)
	return nil
}
