// Package ingest imports historical calendar events as bookings.
//
// A run pages the calendar source, keeps the events that look like customer
// bookings, and for each one checks the ledger, parses, validates and inserts
// a booking plus a "historical_import" timeline entry. Per-record failures are
// collected in the result; only a source that cannot be paged at all, or a
// store that cannot be read up front, fails the run.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hurttlocker/bookrecon/internal/connect"
	"github.com/hurttlocker/bookrecon/internal/extract"
	"github.com/hurttlocker/bookrecon/internal/review"
	"github.com/hurttlocker/bookrecon/internal/store"
)

// Defaults for ImportOptions.
const (
	DefaultBookingPrefix = "HIST"
	DefaultSourceTag     = "calendar_import"

	// EventHistoricalImport is the timeline event type written per import.
	EventHistoricalImport = "historical_import"
)

// Store is the subset of store.Store the importer uses.
type Store interface {
	store.BookingStore
	store.TimelineStore
}

// ImportOptions configures one import run.
type ImportOptions struct {
	From          time.Time // inclusive; zero = unbounded
	To            time.Time // exclusive; zero = unbounded
	Limit         int       // max events fetched; 0 = unbounded
	PageSize      int
	DryRun        bool
	BookingPrefix string
	SourceTag     string
	RunID         string
}

// Normalize fills defaults.
func (o *ImportOptions) Normalize() {
	if o.BookingPrefix == "" {
		o.BookingPrefix = DefaultBookingPrefix
	}
	if o.SourceTag == "" {
		o.SourceTag = DefaultSourceTag
	}
	if o.PageSize <= 0 {
		o.PageSize = connect.DefaultPageSize
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
}

// Importer runs historical imports from one calendar source into a store.
type Importer struct {
	source connect.CalendarSource
	store  Store
	parser *extract.Parser
	filter *RelevanceFilter
	queue  review.Queue
	log    logrus.FieldLogger
	now    func() time.Time
}

// Option customizes an Importer.
type Option func(*Importer)

// WithReviewQueue routes low-confidence imports to q.
func WithReviewQueue(q review.Queue) Option {
	return func(im *Importer) { im.queue = q }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(im *Importer) { im.log = l }
}

// WithClock overrides the clock used to decide completed vs confirmed.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// NewImporter creates an importer. A nil filter uses the default keywords.
func NewImporter(src connect.CalendarSource, s Store, p *extract.Parser, f *RelevanceFilter, opts ...Option) *Importer {
	if f == nil {
		f = NewRelevanceFilter(nil, nil, nil)
	}
	if p == nil {
		p = extract.NewParser(extract.ParserOptions{})
	}
	im := &Importer{
		source: src,
		store:  s,
		parser: p,
		filter: f,
		queue:  review.Discard{},
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run executes one import. Records are processed strictly in source order.
func (im *Importer) Run(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	opts.Normalize()
	log := im.log.WithField("run_id", opts.RunID)
	result := &ImportResult{RunID: opts.RunID, DryRun: opts.DryRun}

	events, err := connect.FetchEvents(ctx, im.source, connect.EventQuery{
		TimeMin:  opts.From,
		TimeMax:  opts.To,
		PageSize: opts.PageSize,
	}, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar events: %w", err)
	}
	log.WithField("events", len(events)).Info("fetched calendar events")

	seq, err := im.store.MaxBookingSequence(ctx, opts.BookingPrefix)
	if err != nil {
		return nil, fmt.Errorf("reading booking sequence: %w", err)
	}

	run := &importRun{
		Importer: im,
		opts:     opts,
		result:   result,
		log:      log,
		seq:      seq,
		sources:  make(map[string]bool),
		names:    make(map[string][]string),
		today:    im.now().Format("2006-01-02"),
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import interrupted: %w", err)
		}
		run.process(ctx, ev)
	}

	log.WithFields(logrus.Fields{
		"imported":         result.Imported,
		"already_imported": result.AlreadyImported,
		"errors":           len(result.Errors),
	}).Info("import finished")
	return result, nil
}

// importRun holds the state of one Run.
type importRun struct {
	*Importer
	opts    ImportOptions
	result  *ImportResult
	log     logrus.FieldLogger
	seq     int
	sources map[string]bool     // source ids accepted earlier in this run
	names   map[string][]string // tour date -> lower-cased names accepted earlier in this run
	today   string
}

func (r *importRun) process(ctx context.Context, ev connect.CalendarEvent) {
	res := r.result
	res.Seen++
	sourceID := SourceID(ev)
	label := recordLabel(ev)
	log := r.log.WithField("source_id", sourceID)

	if ok, reason := r.filter.Relevant(ev); !ok {
		res.outcome(sourceID, label, OutcomeIrrelevant, reason)
		log.WithField("reason", reason).Debug("skipping event")
		return
	}
	res.Relevant++

	// Ledger check.
	if r.sources[sourceID] {
		r.alreadyImported(sourceID, label, "repeated in this run")
		return
	}
	entry, err := r.store.FindTimelineBySource(ctx, sourceID)
	if err != nil {
		r.storeFailure(sourceID, label, err)
		return
	}
	if entry != nil {
		r.alreadyImported(sourceID, label, fmt.Sprintf("ledger entry on booking %d", entry.BookingID))
		return
	}

	pb, err := r.parser.Parse(ev)
	if err != nil {
		res.ParseFailures++
		res.fail(sourceID, label, OutcomeParseFailed, err.Error())
		log.WithError(err).Debug("parse failed")
		return
	}

	// Existence check on (tour date, name prefix), same containment rule as
	// the store so dry runs count what a real run would.
	prefix := namePrefix(pb.CustomerName)
	if r.acceptedEarlier(pb.TourDate, prefix) {
		r.alreadyImported(sourceID, label, "same date and name earlier in this run")
		return
	}
	existing, err := r.store.FindBookingByDateAndName(ctx, pb.TourDate, prefix)
	if err != nil {
		r.storeFailure(sourceID, label, err)
		return
	}
	if existing != nil {
		r.alreadyImported(sourceID, label, "matches booking "+existing.BookingNumber)
		return
	}

	if problems := extract.Validate(pb); len(problems) > 0 {
		res.ValidationFailures++
		res.fail(sourceID, label, OutcomeInvalid, strings.Join(problems, "; "))
		return
	}

	number := store.FormatBookingNumber(r.opts.BookingPrefix, r.seq+1)

	if r.opts.DryRun {
		r.accept(sourceID, pb)
		r.flagIfLow(ctx, sourceID, number, pb)
		res.Imported++
		res.outcomeWithBooking(sourceID, label, number, pb.Confidence, "dry run")
		return
	}

	b := r.booking(pb, number)
	if _, err := r.store.AddBooking(ctx, b); err != nil {
		r.storeFailure(sourceID, label, err)
		return
	}
	r.accept(sourceID, pb)
	// Only a booking that exists gets a review item naming its number.
	r.flagIfLow(ctx, sourceID, number, pb)

	_, err = r.store.AddTimelineEntry(ctx, &store.TimelineEntry{
		BookingID:   b.ID,
		EventType:   EventHistoricalImport,
		Description: "Imported from calendar event " + ev.ID,
		SourceID:    sourceID,
		Payload: map[string]interface{}{
			"run_id":      r.opts.RunID,
			"confidence":  string(pb.Confidence),
			"warnings":    nonNil(pb.Warnings),
			"event_title": ev.Title,
		},
	})
	if err != nil {
		r.storeFailure(sourceID, label, fmt.Errorf("booking %s written without ledger entry: %w", number, err))
		return
	}

	res.Imported++
	res.outcomeWithBooking(sourceID, label, number, pb.Confidence, "")
	log.WithField("booking_number", number).Debug("imported booking")
}

func (r *importRun) accept(sourceID string, pb extract.ParsedBooking) {
	r.seq++
	r.sources[sourceID] = true
	r.names[pb.TourDate] = append(r.names[pb.TourDate], strings.ToLower(pb.CustomerName))
}

func (r *importRun) acceptedEarlier(date, prefix string) bool {
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return false
	}
	for _, name := range r.names[date] {
		if strings.Contains(name, prefix) {
			return true
		}
	}
	return false
}

func (r *importRun) alreadyImported(sourceID, label, detail string) {
	r.result.AlreadyImported++
	r.result.outcome(sourceID, label, OutcomeAlreadyImported, detail)
}

func (r *importRun) storeFailure(sourceID, label string, err error) {
	r.result.StoreFailures++
	r.result.fail(sourceID, label, OutcomeStoreFailed, err.Error())
	r.log.WithError(err).WithField("source_id", sourceID).Warn("store operation failed")
}

func (r *importRun) flagIfLow(ctx context.Context, sourceID, number string, pb extract.ParsedBooking) {
	if pb.Confidence == extract.ConfidenceLow {
		r.flagForReview(ctx, sourceID, number, pb)
	}
}

func (r *importRun) flagForReview(ctx context.Context, sourceID, number string, pb extract.ParsedBooking) {
	res := r.result
	res.ReviewQueued++
	res.Review = append(res.Review, ReviewCandidate{
		SourceID:      sourceID,
		BookingNumber: number,
		CustomerName:  pb.CustomerName,
		TourDate:      pb.TourDate,
		Warnings:      append([]string(nil), pb.Warnings...),
	})
	if r.opts.DryRun {
		return
	}
	err := r.queue.Enqueue(ctx, review.Item{
		RunID:    r.opts.RunID,
		Kind:     store.ReviewLowConfidence,
		SourceID: sourceID,
		Label:    fmt.Sprintf("%s %s (%s)", pb.TourDate, pb.CustomerName, number),
		Reason:   strings.Join(pb.Warnings, "; "),
		Payload: map[string]interface{}{
			"booking_number": number,
			"parsed":         pb,
		},
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		res.Errors = append(res.Errors, ImportError{Record: sourceID, Message: "review queue: " + err.Error()})
		r.log.WithError(err).WithField("source_id", sourceID).Warn("enqueueing review item failed")
	}
}

// booking builds the record to insert. Past tours are completed, upcoming
// ones confirmed; historical imports carry no price.
func (r *importRun) booking(pb extract.ParsedBooking, number string) *store.Booking {
	status := "confirmed"
	if pb.TourDate < r.today {
		status = "completed"
	}
	return &store.Booking{
		BookingNumber:   number,
		CustomerName:    pb.CustomerName,
		CustomerEmail:   pb.Email,
		CustomerPhone:   pb.Phone,
		PartySize:       pb.PartySize,
		TourDate:        pb.TourDate,
		StartTime:       pb.StartTime,
		EndTime:         pb.EndTime,
		DurationHours:   pb.DurationHours,
		PickupLocation:  pb.Pickup,
		DropoffLocation: pb.Dropoff,
		Stops:           append([]string(nil), pb.Stops...),
		SpecialRequests: pb.SpecialRequests,
		DriverNotes:     pb.DriverNotes,
		TotalPrice:      0,
		Status:          status,
		SourceTag:       r.opts.SourceTag,
	}
}

// SourceID is the ledger id of a calendar event.
func SourceID(ev connect.CalendarEvent) string {
	return "calendar:" + ev.ID
}

func recordLabel(ev connect.CalendarEvent) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = "(untitled)"
	}
	if day := ev.Start.Day(); day != "" {
		return day + " " + title
	}
	return title
}

// namePrefix is the first word of a customer name.
func namePrefix(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
