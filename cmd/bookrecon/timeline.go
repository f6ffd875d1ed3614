package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func timelineCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "timeline <booking-number>",
		Short: "Show a booking's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			b, err := s.FindBookingByNumber(ctx, args[0])
			if err != nil {
				return fmt.Errorf("looking up booking: %w", err)
			}
			if b == nil {
				return fmt.Errorf("no booking %s", args[0])
			}
			entries, err := s.ListTimeline(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("reading timeline: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"booking":  b,
					"timeline": entries,
				})
			}

			fmt.Fprintf(a.out, "%s  %s  %s (party of %d)\n", b.BookingNumber, b.TourDate, b.CustomerName, b.PartySize)
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "  (no timeline entries)")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "  %s  %-18s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.EventType, e.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
