package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/bookrecon/internal/config"
	"github.com/hurttlocker/bookrecon/internal/logging"
	"github.com/hurttlocker/bookrecon/internal/pgstore"
	"github.com/hurttlocker/bookrecon/internal/review"
	"github.com/hurttlocker/bookrecon/internal/store"
)

var version = "0.1.0-dev"

const dateLayout = "2006-01-02"

// app carries the global flags and everything resolved from them.
type app struct {
	configPath string
	envFile    string
	dbPath     string
	dbDriver   string
	verbose    bool

	cfg config.ResolvedConfig
	log *logrus.Logger
	out io.Writer
}

func main() {
	a := &app{out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "bookrecon",
		Short:         "Reconcile historical bookings from calendars, mailboxes and driver records",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.bookrecon/config.yaml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file layered under the environment")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path (default ~/.bookrecon/bookrecon.db)")
	flags.StringVar(&a.dbDriver, "db-driver", "", "store driver: sqlite or postgres")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "per-record trace and debug logging")

	root.AddCommand(importCmd(a))
	root.AddCommand(matchCmd(a))
	root.AddCommand(complianceCmd(a))
	root.AddCommand(statsCmd(a))
	root.AddCommand(timelineCmd(a))
	root.AddCommand(versionCmd(a))
	return root
}

func (a *app) setup() error {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  a.configPath,
		EnvFile:     a.envFile,
		CLIDBPath:   a.dbPath,
		CLIDBDriver: a.dbDriver,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	a.log = logging.New(logging.Options{Verbose: a.verbose, Format: cfg.LogFormat.Value})
	a.log.WithFields(logrus.Fields{
		"config":    cfg.ConfigPath,
		"db_driver": cfg.DBDriver.Value,
	}).Debug("configuration resolved")
	return nil
}

// openStore opens the configured backend.
func (a *app) openStore() (store.Store, error) {
	switch a.cfg.DBDriver.Value {
	case config.DriverPostgres:
		s, err := pgstore.Open(a.cfg.PostgresDSN.Value)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value})
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		return s, nil
	}
}

// reviewQueue returns the store-backed queue, fanned out to RabbitMQ when a
// broker is configured. An unreachable broker is logged and skipped.
func (a *app) reviewQueue(s store.Store) (review.Queue, func()) {
	q := review.Fanout{review.NewStoreQueue(s)}
	url := a.cfg.AMQPURL.Value
	if url == "" {
		return q, func() {}
	}
	amqpQueue, err := review.DialAMQP(url, a.cfg.AMQPExchange.Value)
	if err != nil {
		a.log.WithError(err).Warn("review broker unavailable, review items are stored only")
		return q, func() {}
	}
	return append(q, amqpQueue), func() {
		if err := amqpQueue.Close(); err != nil {
			a.log.WithError(err).Debug("closing review broker")
		}
	}
}

// trackRun records the run in the store and returns the function that
// records its outcome. Read-only runs keep their run id in memory and write
// nothing.
func (a *app) trackRun(ctx context.Context, s store.RunStore, command, source string, readOnly bool) (string, func(map[string]int, error), error) {
	runID := uuid.NewString()
	if readOnly {
		return runID, func(map[string]int, error) {
			a.log.WithFields(logrus.Fields{"run_id": runID, "command": command}).Debug("read-only run not recorded")
		}, nil
	}
	if err := s.StartRun(ctx, &store.Run{RunID: runID, Command: command, Source: source}); err != nil {
		return "", nil, err
	}
	finish := func(counts map[string]int, runErr error) {
		if err := s.FinishRun(context.Background(), runID, counts, runErr); err != nil {
			a.log.WithError(err).WithField("run_id", runID).Warn("recording run outcome failed")
		}
	}
	return runID, finish, nil
}

func (a *app) printDryRunBanner(dryRun bool) {
	if dryRun {
		fmt.Fprintln(a.out, "Dry run mode: no changes will be written")
		fmt.Fprintln(a.out)
	}
}

func (a *app) printDryRunReminder(dryRun bool) {
	if !dryRun {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Tip: pass --dry-run to preview a run without writing anything.")
	}
}

func (a *app) intSetting(v config.ResolvedValue, def int) int {
	n, err := v.Int(def)
	if err != nil {
		return def
	}
	return n
}

// parseDay parses a YYYY-MM-DD flag; an empty value is the zero time.
func parseDay(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %q is not a YYYY-MM-DD date", flag, value)
	}
	return t, nil
}

// parseRange parses inclusive --from/--to flags into a half-open window.
func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := parseDay("from", from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDay("to", to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.IsZero() {
		end = end.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return start, end, nil
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "bookrecon %s\n", version)
		},
	}
}
