package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Duration bounds accepted by Validate, in hours.
const (
	MinDurationHours = 1.0
	MaxDurationHours = 24.0
)

// Validate checks the structural invariants of a candidate booking and
// returns one message per violated rule. An empty result means valid.
func Validate(pb ParsedBooking) []string {
	var problems []string

	if utf8.RuneCountInString(strings.TrimSpace(pb.CustomerName)) < 2 {
		problems = append(problems, fmt.Sprintf("customer name %q must be at least 2 characters", pb.CustomerName))
	}
	if pb.PartySize < MinPartySize || pb.PartySize > MaxPartySize {
		problems = append(problems, fmt.Sprintf("party size %d outside [%d,%d]", pb.PartySize, MinPartySize, MaxPartySize))
	}
	if !isCanonicalDate(pb.TourDate) {
		problems = append(problems, fmt.Sprintf("tour date %q is not a valid YYYY-MM-DD date", pb.TourDate))
	}
	if pb.DurationHours < MinDurationHours || pb.DurationHours > MaxDurationHours {
		problems = append(problems, fmt.Sprintf("duration %.1fh outside [%.0f,%.0f]", pb.DurationHours, MinDurationHours, MaxDurationHours))
	}

	return problems
}

// isCanonicalDate reports whether s is a real calendar date written exactly
// as YYYY-MM-DD.
func isCanonicalDate(s string) bool {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return false
	}
	return t.Format("2006-01-02") == s
}
