// Package match links inbound email messages to existing bookings.
//
// Strategies are tried in a fixed order and the first that produces a match
// wins: exact contact address, then customer name, then a booking number
// quoted in the message.
package match

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/bookrecon/internal/connect"
	"github.com/hurttlocker/bookrecon/internal/extract"
	"github.com/hurttlocker/bookrecon/internal/store"
)

// Defaults for Options.
const (
	DefaultWindowDays        = 30
	DefaultIdentifierPattern = `\bHIST-\d{5}\b`
)

// TieBreak chooses between several bookings that satisfy the same strategy.
type TieBreak string

const (
	// TieNearest picks the booking whose tour date is closest to the message.
	TieNearest TieBreak = "nearest"
	// TieEarliest picks the booking with the earliest tour date.
	TieEarliest TieBreak = "earliest"
)

// Strategy names.
const (
	StrategyContact    = "contact"
	StrategyName       = "name"
	StrategyIdentifier = "identifier"
)

// BookingMatch is the result of one successful match attempt.
type BookingMatch struct {
	BookingID     int64
	BookingNumber string
	Confidence    extract.Confidence
	Reason        string
	Strategy      string
}

// Options configures a Matcher.
type Options struct {
	CompanyDomains    []string
	WindowDays        int
	TieBreak          TieBreak
	IdentifierPattern string
}

// Store is the subset of the booking store the matcher reads.
type Store interface {
	ListBookings(ctx context.Context, f store.BookingFilter) ([]*store.Booking, error)
	FindBookingByNumber(ctx context.Context, number string) (*store.Booking, error)
}

// attempt carries the per-message state shared by the strategies.
type attempt struct {
	msg      connect.EmailRecord
	text     string // lower-cased subject, body and sender name
	inWindow func(ctx context.Context) ([]*store.Booking, error)
}

type strategy struct {
	name string
	run  func(m *Matcher, ctx context.Context, a *attempt) (*BookingMatch, error)
}

// strategies is the cascade, in priority order.
var strategies = []strategy{
	{name: StrategyContact, run: (*Matcher).matchContact},
	{name: StrategyName, run: (*Matcher).matchName},
	{name: StrategyIdentifier, run: (*Matcher).matchIdentifier},
}

// Matcher finds the booking an email message refers to.
type Matcher struct {
	store      Store
	opts       Options
	identifier *regexp.Regexp
}

// NewMatcher validates opts and returns a Matcher.
func NewMatcher(s Store, opts Options) (*Matcher, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	switch opts.TieBreak {
	case "":
		opts.TieBreak = TieNearest
	case TieNearest, TieEarliest:
	default:
		return nil, fmt.Errorf("unknown tie-break %q (want nearest or earliest)", opts.TieBreak)
	}
	if opts.IdentifierPattern == "" {
		opts.IdentifierPattern = DefaultIdentifierPattern
	}
	re, err := regexp.Compile(opts.IdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling identifier pattern: %w", err)
	}
	return &Matcher{store: s, opts: opts, identifier: re}, nil
}

// Match returns the booking msg refers to, or nil when no strategy matches.
func (m *Matcher) Match(ctx context.Context, msg connect.EmailRecord) (*BookingMatch, error) {
	var window []*store.Booking
	loaded := false
	a := &attempt{
		msg:  msg,
		text: strings.ToLower(msg.Text()),
		inWindow: func(ctx context.Context) ([]*store.Booking, error) {
			if loaded {
				return window, nil
			}
			var err error
			window, err = m.store.ListBookings(ctx, m.windowFilter(msg.Timestamp))
			if err != nil {
				return nil, fmt.Errorf("listing bookings near %s: %w", msg.Timestamp.Format("2006-01-02"), err)
			}
			loaded = true
			return window, nil
		},
	}

	for _, s := range strategies {
		match, err := s.run(m, ctx, a)
		if err != nil {
			return nil, fmt.Errorf("%s strategy: %w", s.name, err)
		}
		if match != nil {
			match.Strategy = s.name
			return match, nil
		}
	}
	return nil, nil
}

func (m *Matcher) windowFilter(at time.Time) store.BookingFilter {
	if at.IsZero() {
		return store.BookingFilter{}
	}
	span := time.Duration(m.opts.WindowDays) * 24 * time.Hour
	return store.BookingFilter{
		From: at.Add(-span).Format("2006-01-02"),
		To:   at.Add(span).Format("2006-01-02"),
	}
}

// matchContact compares the message's external address with booking emails.
func (m *Matcher) matchContact(ctx context.Context, a *attempt) (*BookingMatch, error) {
	addr := m.externalAddress(a.msg)
	if addr == "" {
		return nil, nil
	}
	window, err := a.inWindow(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []*store.Booking
	for _, b := range window {
		if b.CustomerEmail != "" && strings.EqualFold(b.CustomerEmail, addr) {
			candidates = append(candidates, b)
		}
	}
	if b := m.pick(candidates, a.msg.Timestamp); b != nil {
		return &BookingMatch{
			BookingID:     b.ID,
			BookingNumber: b.BookingNumber,
			Confidence:    extract.ConfidenceHigh,
			Reason:        "exact contact match",
		}, nil
	}
	return nil, nil
}

// matchName looks for a window booking's full name in the message, then for
// its first name as a whole word.
func (m *Matcher) matchName(ctx context.Context, a *attempt) (*BookingMatch, error) {
	window, err := a.inWindow(ctx)
	if err != nil {
		return nil, err
	}

	var full, first []*store.Booking
	for _, b := range window {
		name := strings.ToLower(strings.Join(strings.Fields(b.CustomerName), " "))
		if name == "" {
			continue
		}
		if containsWords(a.text, name) {
			full = append(full, b)
			continue
		}
		given := strings.Fields(name)[0]
		if len([]rune(given)) >= 3 && containsWords(a.text, given) {
			first = append(first, b)
		}
	}

	if b := m.pick(full, a.msg.Timestamp); b != nil {
		return &BookingMatch{
			BookingID:     b.ID,
			BookingNumber: b.BookingNumber,
			Confidence:    extract.ConfidenceMedium,
			Reason:        fmt.Sprintf("customer name %q in message", b.CustomerName),
		}, nil
	}
	if b := m.pick(first, a.msg.Timestamp); b != nil {
		return &BookingMatch{
			BookingID:     b.ID,
			BookingNumber: b.BookingNumber,
			Confidence:    extract.ConfidenceMedium,
			Reason:        fmt.Sprintf("first name of %q in message", b.CustomerName),
		}, nil
	}
	return nil, nil
}

// matchIdentifier looks up booking numbers quoted in the subject or body,
// regardless of date.
func (m *Matcher) matchIdentifier(ctx context.Context, a *attempt) (*BookingMatch, error) {
	text := a.msg.Text()
	seen := make(map[string]bool)
	for _, number := range m.identifier.FindAllString(text, -1) {
		number = strings.ToUpper(number)
		if seen[number] {
			continue
		}
		seen[number] = true
		b, err := m.store.FindBookingByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return &BookingMatch{
				BookingID:     b.ID,
				BookingNumber: b.BookingNumber,
				Confidence:    extract.ConfidenceHigh,
				Reason:        "booking number " + number + " in message",
			}, nil
		}
	}
	return nil, nil
}

// externalAddress is the sender, or the first recipient when the sender is
// a company address.
func (m *Matcher) externalAddress(msg connect.EmailRecord) string {
	if msg.From != "" && !connect.IsCompanyAddress(msg.From, m.opts.CompanyDomains) {
		return strings.ToLower(strings.TrimSpace(msg.From))
	}
	for _, to := range msg.To {
		if to != "" && !connect.IsCompanyAddress(to, m.opts.CompanyDomains) {
			return strings.ToLower(strings.TrimSpace(to))
		}
	}
	return ""
}

// pick applies the tie-break to candidates. Ties on distance go to the
// earlier tour, then the lower ID.
func (m *Matcher) pick(candidates []*store.Booking, at time.Time) *store.Booking {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]*store.Booking(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := sorted[i], sorted[j]
		if m.opts.TieBreak == TieNearest && !at.IsZero() {
			di, dj := distance(bi.TourDate, at), distance(bj.TourDate, at)
			if di != dj {
				return di < dj
			}
		}
		if bi.TourDate != bj.TourDate {
			return bi.TourDate < bj.TourDate
		}
		return bi.ID < bj.ID
	})
	return sorted[0]
}

// distance is the absolute number of days between a tour date and at.
func distance(tourDate string, at time.Time) int {
	d, err := time.Parse("2006-01-02", tourDate)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	days := int(d.Sub(day).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// containsWords reports whether phrase occurs in text on word boundaries.
func containsWords(text, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
