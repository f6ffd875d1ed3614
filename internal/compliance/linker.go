// Package compliance joins bookings with driver time cards and vehicle
// inspections, writes the time-card links it discovers and classifies the
// bookings that are still missing documentation.
package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hurttlocker/bookrecon/internal/store"
)

// Gap tags.
const (
	TagNoDriver        = "no_driver"
	TagMissingTimeCard = "missing_time_card"
	TagMissingPreTrip  = "missing_pre_trip"
	TagMissingPostTrip = "missing_post_trip"
)

// AllTags lists the gap tags in report order.
var AllTags = []string{TagNoDriver, TagMissingTimeCard, TagMissingPreTrip, TagMissingPostTrip}

// Store is the subset of the store the linker uses.
type Store interface {
	ListBookings(ctx context.Context, f store.BookingFilter) ([]*store.Booking, error)
	SetTimeCard(ctx context.Context, bookingID, timeCardID int64) error
	FindTimeCard(ctx context.Context, driverID int64, date string) (*store.TimeCard, error)
	FindInspections(ctx context.Context, driverID int64, date string, vehicleID *int64) ([]*store.Inspection, error)
}

// Options configures one linking run.
type Options struct {
	From       string // inclusive YYYY-MM-DD
	To         string // inclusive YYYY-MM-DD
	DriverID   *int64
	DryRun     bool
	ReportOnly bool
	RunID      string
}

// GapRecord is the documentation status of one analyzed booking.
type GapRecord struct {
	BookingID     int64
	BookingNumber string
	CustomerName  string
	TourDate      string
	DriverID      *int64
	VehicleID     *int64
	TimeCardID    *int64
	HasDriver     bool
	HasTimeCard   bool
	HasPreTrip    bool
	HasPostTrip   bool
}

// Gaps returns the record's gap tags. A booking without a driver carries
// only TagNoDriver since every other check is keyed on the driver.
func (g GapRecord) Gaps() []string {
	if !g.HasDriver {
		return []string{TagNoDriver}
	}
	var tags []string
	if !g.HasTimeCard {
		tags = append(tags, TagMissingTimeCard)
	}
	if !g.HasPreTrip {
		tags = append(tags, TagMissingPreTrip)
	}
	if !g.HasPostTrip {
		tags = append(tags, TagMissingPostTrip)
	}
	return tags
}

// Compliant reports whether the record has no gaps.
func (g GapRecord) Compliant() bool {
	return len(g.Gaps()) == 0
}

// RecordError is a per-booking failure. The booking is left out of Records.
type RecordError struct {
	BookingNumber string
	Message       string
}

// Result is the outcome of a linking run.
type Result struct {
	RunID           string
	DryRun          bool
	ReportOnly      bool
	Records         []GapRecord
	TimeCardsLinked int
	AlreadyLinked   int
	Errors          []RecordError
}

// Counts returns the counters keyed for run history.
func (r *Result) Counts() map[string]int {
	counts := map[string]int{
		"analyzed":          len(r.Records),
		"time_cards_linked": r.TimeCardsLinked,
		"already_linked":    r.AlreadyLinked,
		"errors":            len(r.Errors),
	}
	for _, g := range r.Records {
		for _, tag := range g.Gaps() {
			counts[tag]++
		}
	}
	return counts
}

// Linker runs the compliance join.
type Linker struct {
	store Store
	log   logrus.FieldLogger
}

// NewLinker creates a linker. A nil logger uses the standard logger.
func NewLinker(s Store, log logrus.FieldLogger) *Linker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Linker{store: s, log: log}
}

// Run analyzes every booking in the range. Failing to list bookings is fatal;
// per-booking lookup failures are collected in the result.
func (l *Linker) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	log := l.log.WithField("run_id", opts.RunID)

	bookings, err := l.store.ListBookings(ctx, store.BookingFilter{
		From:     opts.From,
		To:       opts.To,
		DriverID: opts.DriverID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing bookings: %w", err)
	}
	log.WithField("bookings", len(bookings)).Info("analyzing bookings")

	result := &Result{RunID: opts.RunID, DryRun: opts.DryRun, ReportOnly: opts.ReportOnly}
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("compliance run interrupted: %w", err)
		}
		rec, err := l.check(ctx, b, opts, result)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{BookingNumber: b.BookingNumber, Message: err.Error()})
			log.WithError(err).WithField("booking_number", b.BookingNumber).Warn("compliance check failed")
			continue
		}
		result.Records = append(result.Records, rec)
	}

	log.WithFields(logrus.Fields{
		"analyzed":          len(result.Records),
		"time_cards_linked": result.TimeCardsLinked,
	}).Info("compliance run finished")
	return result, nil
}

func (l *Linker) check(ctx context.Context, b *store.Booking, opts Options, result *Result) (GapRecord, error) {
	rec := GapRecord{
		BookingID:     b.ID,
		BookingNumber: b.BookingNumber,
		CustomerName:  b.CustomerName,
		TourDate:      b.TourDate,
		DriverID:      b.DriverID,
		VehicleID:     b.VehicleID,
		TimeCardID:    b.TimeCardID,
	}
	if b.DriverID == nil {
		return rec, nil
	}
	rec.HasDriver = true
	driverID := *b.DriverID

	if b.TimeCardID != nil {
		rec.HasTimeCard = true
		result.AlreadyLinked++
	} else {
		tc, err := l.store.FindTimeCard(ctx, driverID, b.TourDate)
		if err != nil {
			return rec, err
		}
		if tc != nil {
			rec.HasTimeCard = true
			rec.TimeCardID = &tc.ID
			if err := l.link(ctx, b, tc, opts); err != nil {
				return rec, err
			}
			if !opts.ReportOnly {
				result.TimeCardsLinked++
			}
		}
	}

	inspections, err := l.store.FindInspections(ctx, driverID, b.TourDate, b.VehicleID)
	if err != nil {
		return rec, err
	}
	for _, in := range inspections {
		switch in.InspectionType {
		case store.InspectionPreTrip:
			rec.HasPreTrip = true
		case store.InspectionPostTrip:
			rec.HasPostTrip = true
		}
	}
	return rec, nil
}

// link writes the booking's time card reference unless the run is read-only.
func (l *Linker) link(ctx context.Context, b *store.Booking, tc *store.TimeCard, opts Options) error {
	if opts.DryRun || opts.ReportOnly {
		return nil
	}
	err := l.store.SetTimeCard(ctx, b.ID, tc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("booking %s disappeared while linking: %w", b.BookingNumber, err)
	}
	if err != nil {
		return fmt.Errorf("linking time card %d: %w", tc.ID, err)
	}
	b.TimeCardID = &tc.ID
	return nil
}
