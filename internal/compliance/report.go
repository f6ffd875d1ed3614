package compliance

import (
	"fmt"
	"strings"
)

// DefaultSampleCap is the number of bookings listed per gap tag.
const DefaultSampleCap = 10

var tagTitles = map[string]string{
	TagNoDriver:        "No driver assigned",
	TagMissingTimeCard: "Missing time card",
	TagMissingPreTrip:  "Missing pre-trip inspection",
	TagMissingPostTrip: "Missing post-trip inspection",
}

// TagGroup is the bookings carrying one gap tag.
type TagGroup struct {
	Tag     string
	Title   string
	Count   int
	Samples []GapRecord
}

// Report aggregates gap records.
type Report struct {
	Analyzed  int
	Compliant int
	Percent   float64
	Groups    []TagGroup
}

// Group returns the group for tag.
func (r Report) Group(tag string) TagGroup {
	for _, g := range r.Groups {
		if g.Tag == tag {
			return g
		}
	}
	return TagGroup{Tag: tag, Title: tagTitles[tag]}
}

// BuildReport counts the records per gap tag and keeps up to sampleCap
// records per tag. A non-positive sampleCap uses DefaultSampleCap.
func BuildReport(records []GapRecord, sampleCap int) Report {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	groups := make(map[string]*TagGroup, len(AllTags))
	for _, tag := range AllTags {
		groups[tag] = &TagGroup{Tag: tag, Title: tagTitles[tag]}
	}

	r := Report{Analyzed: len(records)}
	for _, rec := range records {
		tags := rec.Gaps()
		if len(tags) == 0 {
			r.Compliant++
			continue
		}
		for _, tag := range tags {
			g := groups[tag]
			g.Count++
			if len(g.Samples) < sampleCap {
				g.Samples = append(g.Samples, rec)
			}
		}
	}

	r.Percent = 100
	if r.Analyzed > 0 {
		r.Percent = float64(r.Compliant) * 100 / float64(r.Analyzed)
	}
	for _, tag := range AllTags {
		r.Groups = append(r.Groups, *groups[tag])
	}
	return r
}

// FormatReport renders the report grouped by gap tag. Tags without bookings
// are omitted.
func FormatReport(r Report) string {
	var sb strings.Builder

	sb.WriteString("Compliance report:\n")
	fmt.Fprintf(&sb, "  Bookings analyzed: %d\n", r.Analyzed)
	fmt.Fprintf(&sb, "  Fully documented:  %d\n", r.Compliant)
	fmt.Fprintf(&sb, "  Compliance:        %.1f%%\n", r.Percent)

	for _, g := range r.Groups {
		if g.Count == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%d):\n", g.Title, g.Count)
		for _, rec := range g.Samples {
			fmt.Fprintf(&sb, "  %s  %s  %s%s\n", rec.TourDate, rec.BookingNumber, rec.CustomerName, driverSuffix(rec))
		}
		if g.Count > len(g.Samples) {
			fmt.Fprintf(&sb, "  ... and %d more\n", g.Count-len(g.Samples))
		}
	}
	return sb.String()
}

// FormatResult summarizes the linking side of a run.
func FormatResult(r *Result) string {
	var sb strings.Builder
	switch {
	case r.ReportOnly:
		sb.WriteString("Linking skipped (report only)\n")
	case r.DryRun:
		fmt.Fprintf(&sb, "Would link %d time cards (dry run, nothing written)\n", r.TimeCardsLinked)
	default:
		fmt.Fprintf(&sb, "Linked %d time cards\n", r.TimeCardsLinked)
	}
	fmt.Fprintf(&sb, "Already linked: %d\n", r.AlreadyLinked)
	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "Errors: %d\n", len(r.Errors))
		for i, e := range r.Errors {
			if i >= DefaultSampleCap {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(r.Errors)-DefaultSampleCap)
				break
			}
			fmt.Fprintf(&sb, "  %s: %s\n", e.BookingNumber, e.Message)
		}
	}
	return sb.String()
}

func driverSuffix(rec GapRecord) string {
	if rec.DriverID == nil {
		return ""
	}
	return fmt.Sprintf("  (driver %d)", *rec.DriverID)
}
