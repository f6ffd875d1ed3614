package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/bookrecon/internal/compliance"
)

type complianceFlags struct {
	from       string
	to         string
	driver     int64
	reportOnly bool
	dryRun     bool
	sample     int
}

func complianceCmd(a *app) *cobra.Command {
	var f complianceFlags
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Link time cards to bookings and report documentation gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompliance(cmd.Context(), f, cmd.Flags().Changed("driver"))
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", "first tour day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last tour day (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&f.driver, "driver", 0, "only analyze this driver's bookings")
	cmd.Flags().BoolVar(&f.reportOnly, "report-only", false, "skip linking and print the gap report only")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "report links that would be written without writing them")
	cmd.Flags().IntVar(&f.sample, "sample", 0, "bookings listed per gap type (0 = config sample_cap or 10)")
	return cmd
}

func (a *app) runCompliance(ctx context.Context, f complianceFlags, driverSet bool) error {
	if _, _, err := parseRange(f.from, f.to); err != nil {
		return err
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	readOnly := f.dryRun || f.reportOnly
	runID, finish, err := a.trackRun(ctx, s, "compliance", "store", readOnly)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	opts := compliance.Options{
		From:       f.from,
		To:         f.to,
		DryRun:     f.dryRun,
		ReportOnly: f.reportOnly,
		RunID:      runID,
	}
	if driverSet {
		opts.DriverID = &f.driver
	}

	a.printDryRunBanner(f.dryRun)
	result, err := compliance.NewLinker(s, a.log).Run(ctx, opts)
	if err != nil {
		finish(nil, err)
		return fmt.Errorf("compliance: %w", err)
	}
	finish(result.Counts(), nil)

	sample := f.sample
	if sample == 0 {
		sample = a.intSetting(a.cfg.SampleCap, compliance.DefaultSampleCap)
	}
	fmt.Fprint(a.out, compliance.FormatResult(result))
	fmt.Fprintln(a.out)
	fmt.Fprint(a.out, compliance.FormatReport(compliance.BuildReport(result.Records, sample)))
	a.printDryRunReminder(readOnly)
	return nil
}
