package ingest

import (
	"regexp"
	"strings"

	"github.com/hurttlocker/bookrecon/internal/connect"
)

// Default keyword lists for the relevance filter.
var (
	DefaultIncludeKeywords = []string{
		"tour", "wine", "winery", "tasting", "booking", "reservation", "charter",
		"pickup", "pick up", "transfer", "guests", "pax", "party of", "group of",
	}
	DefaultExcludeKeywords = []string{
		"internal", "staff", "team meeting", "training", "maintenance", "oil change",
		"car wash", "day off", "pto", "vacation", "dentist", "doctor",
	}
)

// Relevance reasons reported by RelevanceFilter.
const (
	ReasonCancelled        = "cancelled"
	ReasonExcludedKeyword  = "excluded keyword"
	ReasonIncludedKeyword  = "included keyword"
	ReasonExternalAttendee = "external attendee"
	ReasonNoSignal         = "no booking signal"
)

// RelevanceFilter decides whether a calendar event looks like a customer
// booking. Exclusion keywords win over inclusion keywords, and an attendee
// outside the company domains is the fallback inclusion signal.
type RelevanceFilter struct {
	include        []*regexp.Regexp
	exclude        []*regexp.Regexp
	companyDomains []string
}

// NewRelevanceFilter compiles the keyword lists. Nil lists take the defaults.
func NewRelevanceFilter(include, exclude, companyDomains []string) *RelevanceFilter {
	if include == nil {
		include = DefaultIncludeKeywords
	}
	if exclude == nil {
		exclude = DefaultExcludeKeywords
	}
	return &RelevanceFilter{
		include:        compileKeywords(include),
		exclude:        compileKeywords(exclude),
		companyDomains: companyDomains,
	}
}

func compileKeywords(words []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		parts := strings.Fields(regexp.QuoteMeta(strings.ToLower(w)))
		out = append(out, regexp.MustCompile(`(?i)\b`+strings.Join(parts, `\s+`)+`\b`))
	}
	return out
}

// Relevant reports whether ev should be imported and why.
func (f *RelevanceFilter) Relevant(ev connect.CalendarEvent) (bool, string) {
	if strings.EqualFold(ev.Status, "cancelled") {
		return false, ReasonCancelled
	}
	text := ev.Title + "\n" + ev.Description
	for _, re := range f.exclude {
		if re.MatchString(text) {
			return false, ReasonExcludedKeyword
		}
	}
	for _, re := range f.include {
		if re.MatchString(text) {
			return true, ReasonIncludedKeyword
		}
	}
	for _, a := range ev.Attendees {
		if a.Self || a.Email == "" {
			continue
		}
		if !connect.IsCompanyAddress(a.Email, f.companyDomains) {
			return true, ReasonExternalAttendee
		}
	}
	return false, ReasonNoSignal
}
