package match

import (
	"context"
	"errors"
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

// EventEmailLinked is the timeline event type written per linked message.
const EventEmailLinked = "email_linked"

// MaxListed caps the unmatched and error lists in FormatRunResult.
const MaxListed = 10

// LedgerStore is what the runner needs besides the matcher's reads.
type LedgerStore interface {
	Store
	FindTimelineBySource(ctx context.Context, sourceID string) (*store.TimelineEntry, error)
	AddTimelineEntry(ctx context.Context, e *store.TimelineEntry) (int64, error)
	ListReviewItems(ctx context.Context, f store.ReviewFilter) ([]*store.ReviewItem, error)
}

// RunOptions configures one matching run.
type RunOptions struct {
	Since    time.Time
	Until    time.Time
	Limit    int
	PageSize int
	DryRun   bool
	RunID    string
}

// Link is one message linked (or, in a dry run, linkable) to a booking.
type Link struct {
	SourceID string
	Subject  string
	Match    BookingMatch
}

// UnmatchedMessage is a message no strategy could place.
type UnmatchedMessage struct {
	SourceID string
	From     string
	Subject  string
	Date     time.Time
}

// RunError is a non-fatal per-message error.
type RunError struct {
	SourceID string
	Message  string
}

// RunResult summarizes a matching run.
type RunResult struct {
	RunID         string
	DryRun        bool
	Seen          int
	AlreadyLinked int
	Matched       int
	ByConfidence  map[extract.Confidence]int
	Unmatched     int
	Links         []Link
	UnmatchedList []UnmatchedMessage
	Errors        []RunError
}

// Counts returns the counters keyed for run history.
func (r *RunResult) Counts() map[string]int {
	return map[string]int{
		"seen":           r.Seen,
		"already_linked": r.AlreadyLinked,
		"matched":        r.Matched,
		"matched_high":   r.ByConfidence[extract.ConfidenceHigh],
		"matched_medium": r.ByConfidence[extract.ConfidenceMedium],
		"matched_low":    r.ByConfidence[extract.ConfidenceLow],
		"unmatched":      r.Unmatched,
		"errors":         len(r.Errors),
	}
}

// Runner matches every message of an email source against the store.
type Runner struct {
	source  connect.EmailSource
	store   LedgerStore
	matcher *Matcher
	queue   review.Queue
	log     logrus.FieldLogger
}

// NewRunner creates a runner. A nil queue discards unmatched messages and a
// nil logger uses the standard logger.
func NewRunner(src connect.EmailSource, s LedgerStore, m *Matcher, q review.Queue, log logrus.FieldLogger) *Runner {
	if q == nil {
		q = review.Discard{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{source: src, store: s, matcher: m, queue: q, log: log}
}

// Run executes one matching pass. Only a source that cannot be paged fails
// the run; per-message problems are collected in the result.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	log := r.log.WithField("run_id", opts.RunID)

	messages, err := connect.FetchMessages(ctx, r.source, connect.MessageQuery{
		Since:    opts.Since,
		Until:    opts.Until,
		PageSize: opts.PageSize,
	}, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	log.WithField("messages", len(messages)).Info("fetched messages")

	result := &RunResult{
		RunID:        opts.RunID,
		DryRun:       opts.DryRun,
		ByConfidence: make(map[extract.Confidence]int),
	}
	linked := make(map[string]bool)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("matching interrupted: %w", err)
		}
		result.Seen++
		sourceID := msg.SourceID()
		mlog := log.WithField("source_id", sourceID)

		if linked[sourceID] {
			result.AlreadyLinked++
			continue
		}
		entry, err := r.store.FindTimelineBySource(ctx, sourceID)
		if err != nil {
			result.fail(sourceID, err)
			mlog.WithError(err).Warn("ledger lookup failed")
			continue
		}
		if entry != nil {
			result.AlreadyLinked++
			continue
		}

		match, err := r.matcher.Match(ctx, msg)
		if err != nil {
			result.fail(sourceID, err)
			mlog.WithError(err).Warn("match failed")
			continue
		}

		if match == nil {
			result.Unmatched++
			result.UnmatchedList = append(result.UnmatchedList, UnmatchedMessage{
				SourceID: sourceID,
				From:     msg.From,
				Subject:  msg.Subject,
				Date:     msg.Timestamp,
			})
			if !opts.DryRun {
				r.queueUnmatched(ctx, result, opts.RunID, msg, mlog)
			}
			continue
		}

		if !opts.DryRun {
			_, err := r.store.AddTimelineEntry(ctx, &store.TimelineEntry{
				BookingID:   match.BookingID,
				EventType:   EventEmailLinked,
				Description: "Email: " + msg.Subject,
				SourceID:    sourceID,
				Payload: map[string]interface{}{
					"run_id":     opts.RunID,
					"subject":    msg.Subject,
					"from":       msg.From,
					"date":       msg.Timestamp.UTC().Format(time.RFC3339),
					"strategy":   match.Strategy,
					"confidence": string(match.Confidence),
					"reason":     match.Reason,
				},
			})
			if errors.Is(err, store.ErrDuplicateSource) {
				result.AlreadyLinked++
				continue
			}
			if err != nil {
				result.fail(sourceID, err)
				mlog.WithError(err).Warn("linking message failed")
				continue
			}
		}

		linked[sourceID] = true
		result.Matched++
		result.ByConfidence[match.Confidence]++
		result.Links = append(result.Links, Link{SourceID: sourceID, Subject: msg.Subject, Match: *match})
		mlog.WithFields(logrus.Fields{
			"booking_number": match.BookingNumber,
			"strategy":       match.Strategy,
		}).Debug("linked message")
	}

	log.WithFields(logrus.Fields{
		"matched":   result.Matched,
		"unmatched": result.Unmatched,
	}).Info("matching finished")
	return result, nil
}

// queueUnmatched sends msg to review unless an earlier run already did.
func (r *Runner) queueUnmatched(ctx context.Context, result *RunResult, runID string, msg connect.EmailRecord, log logrus.FieldLogger) {
	sourceID := msg.SourceID()
	existing, err := r.store.ListReviewItems(ctx, store.ReviewFilter{
		Kind:     store.ReviewUnmatchedMessage,
		SourceID: sourceID,
		Limit:    1,
	})
	if err != nil {
		result.fail(sourceID, fmt.Errorf("review lookup: %w", err))
		return
	}
	if len(existing) > 0 {
		log.WithField("review_run_id", existing[0].RunID).Debug("unmatched message already queued for review")
		return
	}
	if err := r.queue.Enqueue(ctx, unmatchedItem(runID, msg)); err != nil {
		result.fail(sourceID, fmt.Errorf("review queue: %w", err))
	}
}

func (r *RunResult) fail(sourceID string, err error) {
	r.Errors = append(r.Errors, RunError{SourceID: sourceID, Message: err.Error()})
}

func unmatchedItem(runID string, msg connect.EmailRecord) review.Item {
	return review.Item{
		RunID:    runID,
		Kind:     store.ReviewUnmatchedMessage,
		SourceID: msg.SourceID(),
		Label:    msg.Subject,
		Reason:   "no booking matched sender, name or booking number",
		Payload: map[string]interface{}{
			"from":    msg.From,
			"to":      msg.To,
			"date":    msg.Timestamp.UTC().Format(time.RFC3339),
			"snippet": msg.Snippet,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// FormatRunResult returns a human-readable summary.
func FormatRunResult(r *RunResult) string {
	var sb strings.Builder

	if r.DryRun {
		sb.WriteString("Matching complete (dry run, nothing written):\n")
	} else {
		sb.WriteString("Matching complete:\n")
	}
	fmt.Fprintf(&sb, "  Messages seen:   %d\n", r.Seen)
	fmt.Fprintf(&sb, "  Already linked:  %d\n", r.AlreadyLinked)
	fmt.Fprintf(&sb, "  Matched:         %d (high %d, medium %d, low %d)\n", r.Matched,
		r.ByConfidence[extract.ConfidenceHigh], r.ByConfidence[extract.ConfidenceMedium], r.ByConfidence[extract.ConfidenceLow])
	fmt.Fprintf(&sb, "  Unmatched:       %d\n", r.Unmatched)
	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "  Errors:          %d\n", len(r.Errors))
	}

	if len(r.UnmatchedList) > 0 {
		sb.WriteString("\nUnmatched messages:\n")
		for i, u := range r.UnmatchedList {
			if i >= MaxListed {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(r.UnmatchedList)-MaxListed)
				break
			}
			fmt.Fprintf(&sb, "  %s  %s  %s\n", u.Date.Format("2006-01-02"), u.From, u.Subject)
		}
	}

	if len(r.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for i, e := range r.Errors {
			if i >= MaxListed {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(r.Errors)-MaxListed)
				break
			}
			fmt.Fprintf(&sb, "  %s: %s\n", e.SourceID, e.Message)
		}
	}
	return sb.String()
}

// FormatLinks returns one line per linked message.
func FormatLinks(r *RunResult) string {
	var sb strings.Builder
	for _, l := range r.Links {
		fmt.Fprintf(&sb, "  %s -> %s [%s, %s] %s\n", l.SourceID, l.Match.BookingNumber, l.Match.Strategy, l.Match.Confidence, l.Match.Reason)
	}
	return sb.String()
}
