package ingest

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/bookrecon/internal/extract"
)

// Per-record outcomes.
const (
	OutcomeIrrelevant      = "irrelevant"
	OutcomeAlreadyImported = "already_imported"
	OutcomeImported        = "imported"
	OutcomeParseFailed     = "parse_failed"
	OutcomeInvalid         = "invalid"
	OutcomeStoreFailed     = "store_failed"
)

// MaxListed caps the review and error lists in FormatImportResult.
const MaxListed = 10

// ImportResult summarizes an import run.
type ImportResult struct {
	RunID              string
	DryRun             bool
	Seen               int
	Relevant           int
	AlreadyImported    int
	Imported           int
	ParseFailures      int
	ValidationFailures int
	StoreFailures      int
	ReviewQueued       int // low-confidence records; enqueued only outside dry runs
	Review             []ReviewCandidate
	Errors             []ImportError
	Outcomes           []RecordOutcome
}

// ImportError records a non-fatal per-record error.
type ImportError struct {
	Record  string
	Message string
}

// ReviewCandidate is a low-confidence record flagged for human review.
type ReviewCandidate struct {
	SourceID      string
	BookingNumber string
	CustomerName  string
	TourDate      string
	Warnings      []string
}

// RecordOutcome is the verbose trace of one record.
type RecordOutcome struct {
	SourceID      string
	Label         string
	Outcome       string
	BookingNumber string
	Confidence    extract.Confidence
	Detail        string
}

// Counts returns the counters keyed for run history.
func (r *ImportResult) Counts() map[string]int {
	return map[string]int{
		"seen":                r.Seen,
		"relevant":            r.Relevant,
		"already_imported":    r.AlreadyImported,
		"imported":            r.Imported,
		"parse_failures":      r.ParseFailures,
		"validation_failures": r.ValidationFailures,
		"store_failures":      r.StoreFailures,
		"review_queued":       r.ReviewQueued,
	}
}

func (r *ImportResult) outcome(sourceID, label, outcome, detail string) {
	r.Outcomes = append(r.Outcomes, RecordOutcome{SourceID: sourceID, Label: label, Outcome: outcome, Detail: detail})
}

func (r *ImportResult) outcomeWithBooking(sourceID, label, number string, c extract.Confidence, detail string) {
	r.Outcomes = append(r.Outcomes, RecordOutcome{
		SourceID:      sourceID,
		Label:         label,
		Outcome:       OutcomeImported,
		BookingNumber: number,
		Confidence:    c,
		Detail:        detail,
	})
}

func (r *ImportResult) fail(sourceID, label, outcome, msg string) {
	r.Errors = append(r.Errors, ImportError{Record: label, Message: msg})
	r.outcome(sourceID, label, outcome, msg)
}

// FormatImportResult returns a human-readable summary.
func FormatImportResult(r *ImportResult) string {
	var sb strings.Builder

	if r.DryRun {
		sb.WriteString("Import complete (dry run, nothing written):\n")
	} else {
		sb.WriteString("Import complete:\n")
	}
	imported := "Imported"
	if r.DryRun {
		imported = "Would import"
	}
	fmt.Fprintf(&sb, "  Events seen:          %d\n", r.Seen)
	fmt.Fprintf(&sb, "  Relevant:             %d\n", r.Relevant)
	fmt.Fprintf(&sb, "  Already imported:     %d\n", r.AlreadyImported)
	fmt.Fprintf(&sb, "  %-21s %d\n", imported+":", r.Imported)
	if r.ParseFailures > 0 {
		fmt.Fprintf(&sb, "  Parse failures:       %d\n", r.ParseFailures)
	}
	if r.ValidationFailures > 0 {
		fmt.Fprintf(&sb, "  Validation failures:  %d\n", r.ValidationFailures)
	}
	if r.StoreFailures > 0 {
		fmt.Fprintf(&sb, "  Store failures:       %d\n", r.StoreFailures)
	}

	if len(r.Review) > 0 {
		fmt.Fprintf(&sb, "\nNeeds review (low confidence): %d\n", len(r.Review))
		for i, c := range r.Review {
			if i >= MaxListed {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(r.Review)-MaxListed)
				break
			}
			fmt.Fprintf(&sb, "  %s  %s %s: %s\n", c.BookingNumber, c.TourDate, c.CustomerName, strings.Join(c.Warnings, "; "))
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "\nErrors: %d\n", len(r.Errors))
		for i, e := range r.Errors {
			if i >= MaxListed {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(r.Errors)-MaxListed)
				break
			}
			fmt.Fprintf(&sb, "  %s: %s\n", e.Record, e.Message)
		}
	}

	return sb.String()
}

// FormatOutcomes returns one line per processed record.
func FormatOutcomes(r *ImportResult) string {
	var sb strings.Builder
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-16s %s", o.Outcome, o.Label)
		if o.BookingNumber != "" {
			line += fmt.Sprintf(" -> %s [%s]", o.BookingNumber, o.Confidence)
		}
		if o.Detail != "" {
			line += " (" + o.Detail + ")"
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}
