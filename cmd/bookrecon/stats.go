package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func statsCmd(a *app) *cobra.Command {
	var asJSON bool
	var runs int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			stats, err := s.Stats(ctx)
			if err != nil {
				return fmt.Errorf("reading stats: %w", err)
			}
			recent, err := s.ListRuns(ctx, runs)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"stats": stats,
					"runs":  recent,
				})
			}

			fmt.Fprintln(a.out, "bookrecon store")
			fmt.Fprintln(a.out, strings.Repeat("=", 40))
			fmt.Fprintf(a.out, "  Driver:            %s\n", a.cfg.DBDriver.Value)
			fmt.Fprintf(a.out, "  Bookings:          %d (%d imported)\n", stats.BookingCount, stats.ImportedCount)
			if stats.EarliestTourDate != "" {
				fmt.Fprintf(a.out, "  Tour dates:        %s .. %s\n", stats.EarliestTourDate, stats.LatestTourDate)
			}
			fmt.Fprintf(a.out, "  Timeline entries:  %d\n", stats.TimelineCount)
			fmt.Fprintf(a.out, "  Linked messages:   %d\n", stats.LinkedMessages)
			fmt.Fprintf(a.out, "  Time cards:        %d (%d linked)\n", stats.TimeCardCount, stats.LinkedTimeCards)
			fmt.Fprintf(a.out, "  Inspections:       %d\n", stats.InspectionCount)
			fmt.Fprintf(a.out, "  Review items:      %d\n", stats.ReviewCount)
			fmt.Fprintf(a.out, "  Runs:              %d\n", stats.RunCount)
			if stats.DBSizeBytes > 0 {
				fmt.Fprintf(a.out, "  Database size:     %.1f KB\n", float64(stats.DBSizeBytes)/1024)
			}

			if len(recent) > 0 {
				fmt.Fprintln(a.out, "\nRecent runs:")
				for _, r := range recent {
					mode := ""
					if r.DryRun {
						mode = " (dry run)"
					}
					fmt.Fprintf(a.out, "  %s  %-10s %-6s %-9s%s\n", r.StartedAt.Format("2006-01-02 15:04"), r.Command, r.Source, r.Status, mode)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().IntVar(&runs, "runs", 5, "recent runs to list")
	return cmd
}
