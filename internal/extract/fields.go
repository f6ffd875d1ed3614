// Package extract turns loosely structured calendar text into booking fields.
//
// Extraction is rule-based: each field has an ordered table of patterns that is
// evaluated first-match-wins. There is no LLM or semantic component; anything
// the rules cannot see is reported as absent and left to the parser's defaults
// and confidence scoring.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hurttlocker/bookrecon/internal/connect"
)

// MinPartySize and MaxPartySize bound an acceptable party size.
const (
	MinPartySize = 1
	MaxPartySize = 50
)

// fieldRule is one entry of a priority-ordered extraction table.
type fieldRule struct {
	name  string
	regex *regexp.Regexp
}

// namePart matches one capitalized name word ("Davis", "O'Brien", "Émile").
const namePart = `\p{Lu}[\p{L}'\-]+`

// nameWords matches one or two capitalized words.
const nameWords = namePart + `(?:\s+` + namePart + `)?`

var (
	partySizeRules = initPartySizeRules()
	titleNameRules = initTitleNameRules()
	descNameRules  = initDescriptionNameRules()
	emailRE        = regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`)
	phoneRules     = initPhoneRules()
	driverNotesRE  = regexp.MustCompile(`(?im)^\s*driver\s*notes?\s*[:\-]\s*(.+?)\s*$`)
	requestsRE     = regexp.MustCompile(`(?im)^\s*(?:special\s+requests?|requests?|dietary(?:\s+restrictions)?|allergies|notes?)\s*[:\-]\s*(.+?)\s*$`)
	pickupRE       = regexp.MustCompile(`(?im)^\s*pick\s*-?\s*up(?:\s+(?:location|at|from|point))?\s*[:\-]\s*(.+?)\s*$`)
	dropoffRE      = regexp.MustCompile(`(?im)^\s*(?:drop\s*-?\s*off(?:\s+(?:location|at|point))?|return\s+to)\s*[:\-]\s*(.+?)\s*$`)
	whitespaceRE   = regexp.MustCompile(`\s+`)
)

// initPartySizeRules returns the party-size patterns in priority order.
func initPartySizeRules() []fieldRule {
	return []fieldRule{
		// "6 guests", "12 pax", "4 adults"
		{
			name:  "count_noun",
			regex: regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:guests?|people|persons?|pax|ppl|adults?|passengers?)\b`),
		},
		// "party of 8", "group of 12", "table for 4"
		{
			name:  "party_of",
			regex: regexp.MustCompile(`(?i)\b(?:party|group|table)\s+(?:of|for)\s+(\d{1,3})\b`),
		},
		// "guests: 6", "party size = 4"
		{
			name:  "labelled",
			regex: regexp.MustCompile(`(?i)\b(?:guests?|party\s+size|group\s+size|pax|people|passengers?)\s*[:=]\s*(\d{1,3})\b`),
		},
		// "Tour: Davis, 5" (trailing count on the title line)
		{
			name:  "trailing_count",
			regex: regexp.MustCompile(`\A[^\n]*,\s*(\d{1,3})[ \t]*(?:\n|\z)`),
		},
	}
}

// initTitleNameRules returns the customer-name patterns applied to a title.
func initTitleNameRules() []fieldRule {
	return []fieldRule{
		// "Tour: Davis, 5", "Private Booking - Maria Lopez"
		{
			name:  "keyword_prefix",
			regex: regexp.MustCompile(`\b(?i:tour|booking|reservation|trip)\s*[:\-–]\s*(` + nameWords + `)`),
		},
		// "Smith Party - 6 guests", "Jones Family Wine Tour"
		{
			name:  "group_suffix",
			regex: regexp.MustCompile(`\b(` + nameWords + `)\s+(?i:party|group|family|wedding|birthday|anniversary|bachelorette|reunion)\b`),
		},
		// "Lee - 4 pax", "Jane Doe (4)"
		{
			name:  "leading_name",
			regex: regexp.MustCompile(`\A\s*(` + namePart + `(?:\s+` + namePart + `){0,2})\s*[-–—|:(,/]`),
		},
	}
}

// initDescriptionNameRules returns the labelled-line name patterns.
func initDescriptionNameRules() []fieldRule {
	return []fieldRule{
		{
			name:  "labelled",
			regex: regexp.MustCompile(`(?im)^\s*(?:name|customer(?:\s+name)?|contact(?:\s+name)?|booked\s+by|client|guest\s+name)\s*[:\-]\s*(.+?)\s*$`),
		},
	}
}

// initPhoneRules returns phone patterns; international first so a leading
// country code is not cut off by the US rule.
func initPhoneRules() []fieldRule {
	return []fieldRule{
		{
			name:  "phone_intl",
			regex: regexp.MustCompile(`\+\d{1,3}[-.\s]?\(?\d{1,4}\)?(?:[-.\s]?\d{1,4}){1,4}`),
		},
		{
			name:  "phone_us",
			regex: regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`),
		},
	}
}

// genericNameWords are title words that look like names but never are.
var genericNameWords = map[string]bool{
	"tour": true, "wine": true, "private": true, "booking": true, "reservation": true,
	"trip": true, "custom": true, "day": true, "full": true, "half": true, "the": true,
	"party": true, "group": true, "family": true, "wedding": true, "birthday": true,
	"anniversary": true, "bachelorette": true, "reunion": true, "pickup": true,
	"airport": true, "transfer": true, "shuttle": true, "napa": true, "sonoma": true,
	"vip": true, "new": true, "hold": true, "tentative": true,
}

// ExtractPartySize returns the first range-valid party size. Each rule's
// matches are tried in order; an out-of-range value falls through to the
// next match and then to the next rule.
func ExtractPartySize(text string) (int, bool) {
	for _, rule := range partySizeRules {
		for _, m := range rule.regex.FindAllStringSubmatch(text, -1) {
			n, ok := parseInteger(m[1])
			if ok && n >= MinPartySize && n <= MaxPartySize {
				return n, true
			}
		}
	}
	return 0, false
}

// ExtractCustomerName tries the title rules, then labelled description lines.
func ExtractCustomerName(title, description string) (string, bool) {
	for _, rule := range titleNameRules {
		for _, m := range rule.regex.FindAllStringSubmatch(title, -1) {
			if name := cleanName(m[1]); name != "" {
				return name, true
			}
		}
	}
	for _, rule := range descNameRules {
		for _, m := range rule.regex.FindAllStringSubmatch(description, -1) {
			if name := cleanLabelledName(m[1]); name != "" {
				return name, true
			}
		}
	}
	return "", false
}

// ExtractEmail returns the first address outside the excluded domains,
// lower-cased.
func ExtractEmail(text string, excludeDomains []string) (string, bool) {
	for _, m := range emailRE.FindAllStringSubmatch(text, -1) {
		addr := strings.ToLower(m[1])
		if connect.IsCompanyAddress(addr, excludeDomains) {
			continue
		}
		return addr, true
	}
	return "", false
}

// ExtractPhone returns the first US or international phone number.
func ExtractPhone(text string) (string, bool) {
	for _, rule := range phoneRules {
		for _, m := range rule.regex.FindAllString(text, -1) {
			digits := countDigits(m)
			switch rule.name {
			case "phone_intl":
				if digits < 8 || digits > 15 {
					continue
				}
			case "phone_us":
				if digits != 10 {
					continue
				}
			}
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

// ExtractDriverNotes returns the first "driver notes:" line.
func ExtractDriverNotes(text string) (string, bool) {
	return firstLabelled(driverNotesRE, text)
}

// ExtractSpecialRequests joins every labelled request line, in order.
func ExtractSpecialRequests(text string) (string, bool) {
	var parts []string
	seen := make(map[string]bool)
	for _, m := range requestsRE.FindAllStringSubmatch(text, -1) {
		v := normalizeWhitespace(m[1])
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "; "), true
}

// ExtractPickup returns the first labelled pickup line.
func ExtractPickup(text string) (string, bool) {
	return firstLabelled(pickupRE, text)
}

// ExtractDropoff returns the first labelled dropoff line.
func ExtractDropoff(text string) (string, bool) {
	return firstLabelled(dropoffRE, text)
}

func firstLabelled(re *regexp.Regexp, text string) (string, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v := normalizeWhitespace(m[1]); v != "" {
			return v, true
		}
	}
	return "", false
}

// cleanName drops generic words from both ends of a title-derived name.
func cleanName(raw string) string {
	words := strings.Fields(raw)
	for len(words) > 0 && genericNameWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	for len(words) > 0 && genericNameWords[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// cleanLabelledName cuts a labelled value at the first contact detail or
// separator ("Jane Smith (jane@x.com)" -> "Jane Smith").
func cleanLabelledName(raw string) string {
	if i := strings.IndexAny(raw, ",(<|;/"); i >= 0 {
		raw = raw[:i]
	}
	if loc := emailRE.FindStringIndex(raw); loc != nil {
		raw = raw[:loc[0]]
	}
	for _, rule := range phoneRules {
		if loc := rule.regex.FindStringIndex(raw); loc != nil {
			raw = raw[:loc[0]]
		}
	}
	raw = strings.Trim(normalizeWhitespace(raw), "-–: ")
	return raw
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// normalizeWhitespace collapses runs of whitespace and trims.
func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// parseInteger safely parses an integer from a string.
func parseInteger(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return val, true
}
