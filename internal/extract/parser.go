package extract

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hurttlocker/bookrecon/internal/connect"
)

// Defaults applied when an event carries no signal for a field.
const (
	DefaultStartTime     = "10:00"
	DefaultDurationHours = 6.0
	DefaultPartySize     = 2
)

// Field names recorded in ParsedBooking.Defaulted.
const (
	FieldCustomerName = "customer_name"
	FieldPartySize    = "party_size"
	FieldStartTime    = "start_time"
	FieldDuration     = "duration"
)

// ErrNoCustomerName is the one extraction failure that fails a whole parse.
var ErrNoCustomerName = errors.New("no customer name found")

// ParseError reports why an event could not become a ParsedBooking.
type ParseError struct {
	EventID string
	Title   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("event %s (%q): %v", e.EventID, e.Title, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsedBooking is the structured candidate built from one calendar event.
// Treat it as a value: use Clone to derive a corrected copy.
type ParsedBooking struct {
	CustomerName    string     `json:"customer_name"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	PartySize       int        `json:"party_size"`
	TourDate        string     `json:"tour_date"`  // YYYY-MM-DD
	StartTime       string     `json:"start_time"` // HH:MM
	EndTime         string     `json:"end_time"`   // HH:MM
	DurationHours   float64    `json:"duration_hours"`
	Pickup          string     `json:"pickup,omitempty"`
	Dropoff         string     `json:"dropoff,omitempty"`
	Stops           []string   `json:"stops,omitempty"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	DriverNotes     string     `json:"driver_notes,omitempty"`
	SourceEventID   string     `json:"source_event_id"`
	SourceTitle     string     `json:"source_title"`
	Confidence      Confidence `json:"confidence"`
	Warnings        []string   `json:"warnings,omitempty"`
	Defaulted       []string   `json:"defaulted,omitempty"`
}

// Clone returns a deep copy; slices are not shared with the receiver.
func (pb ParsedBooking) Clone() ParsedBooking {
	c := pb
	c.Stops = append([]string(nil), pb.Stops...)
	c.Warnings = append([]string(nil), pb.Warnings...)
	c.Defaulted = append([]string(nil), pb.Defaulted...)
	return c
}

// ParserOptions configures the parser's defaults and what counts as a
// company address.
type ParserOptions struct {
	CompanyDomains   []string
	DefaultStartTime string  // HH:MM
	DefaultDuration  float64 // hours
	DefaultPartySize int
}

// Parser converts calendar events into ParsedBookings. It performs no I/O
// and never reads the clock.
type Parser struct {
	opts ParserOptions
}

// NewParser creates a parser; zero-valued options take the package defaults.
func NewParser(opts ParserOptions) *Parser {
	if opts.DefaultStartTime == "" {
		opts.DefaultStartTime = DefaultStartTime
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultDurationHours
	}
	if opts.DefaultPartySize <= 0 {
		opts.DefaultPartySize = DefaultPartySize
	}
	return &Parser{opts: opts}
}

// Parse builds a ParsedBooking from ev. The only failure is a missing
// customer name, reported as a *ParseError wrapping ErrNoCustomerName.
func (p *Parser) Parse(ev connect.CalendarEvent) (ParsedBooking, error) {
	pb := ParsedBooking{
		SourceEventID: ev.ID,
		SourceTitle:   ev.Title,
	}
	text := ev.Title + "\n" + ev.Description

	// Customer name
	if name, ok := ExtractCustomerName(ev.Title, ev.Description); ok {
		pb.CustomerName = name
	} else if name := p.attendeeName(ev); name != "" {
		pb.CustomerName = name
		pb.warn("customer name taken from attendee display name")
		pb.defaulted(FieldCustomerName)
	} else {
		return ParsedBooking{}, &ParseError{EventID: ev.ID, Title: ev.Title, Err: ErrNoCustomerName}
	}

	// Party size
	if n, ok := ExtractPartySize(text); ok {
		pb.PartySize = n
	} else {
		pb.PartySize = p.opts.DefaultPartySize
		pb.warn(fmt.Sprintf("party size not found, defaulted to %d", p.opts.DefaultPartySize))
		pb.defaulted(FieldPartySize)
	}

	p.resolveSchedule(ev, &pb)

	// Contact: free text first, then the first outside attendee.
	if email, ok := ExtractEmail(text, p.opts.CompanyDomains); ok {
		pb.Email = email
	} else if email := p.attendeeEmail(ev); email != "" {
		pb.Email = email
	}
	if phone, ok := ExtractPhone(text); ok {
		pb.Phone = phone
	}

	if pickup, ok := ExtractPickup(ev.Description); ok {
		pb.Pickup = pickup
	} else if loc := strings.TrimSpace(ev.Location); loc != "" {
		pb.Pickup = loc
	}
	if dropoff, ok := ExtractDropoff(ev.Description); ok {
		pb.Dropoff = dropoff
	}
	pb.Stops = ExtractVenues(text + "\n" + ev.Location)
	if req, ok := ExtractSpecialRequests(ev.Description); ok {
		pb.SpecialRequests = req
	}
	if notes, ok := ExtractDriverNotes(ev.Description); ok {
		pb.DriverNotes = notes
	}

	var acc Accumulator
	if len(pb.Defaulted) > 0 {
		acc.Downgrade(ConfidenceMedium)
	}
	if pb.Email == "" && pb.Phone == "" {
		pb.warn("no email or phone found")
		acc.Downgrade(ConfidenceLow)
	}
	pb.Confidence = acc.Level()

	return pb, nil
}

// resolveSchedule fills date, start/end time and duration.
func (p *Parser) resolveSchedule(ev connect.CalendarEvent, pb *ParsedBooking) {
	switch {
	case ev.Start.HasTimestamp():
		start := ev.Start.DateTime
		pb.TourDate = start.Format("2006-01-02")
		pb.StartTime = start.Format("15:04")
		if ev.End.HasTimestamp() {
			pb.DurationHours = roundHours(ev.End.DateTime.Sub(start).Hours())
			pb.EndTime = ev.End.DateTime.In(start.Location()).Format("15:04")
			return
		}
		pb.DurationHours = p.opts.DefaultDuration
		pb.defaulted(FieldDuration)
		pb.EndTime = start.Add(hoursToDuration(p.opts.DefaultDuration)).Format("15:04")

	case ev.Start.Date != "":
		// All-day events carry no time-of-day signal.
		pb.TourDate = ev.Start.Date
		pb.StartTime = p.opts.DefaultStartTime
		pb.DurationHours = p.opts.DefaultDuration
		pb.defaulted(FieldStartTime)
		pb.defaulted(FieldDuration)
		pb.EndTime = addHours(p.opts.DefaultStartTime, p.opts.DefaultDuration)

	default:
		pb.warn("event has no start date")
	}
}

// attendeeName returns the display name of the first outside attendee.
func (p *Parser) attendeeName(ev connect.CalendarEvent) string {
	for _, a := range p.outsideAttendees(ev) {
		if name := normalizeWhitespace(a.DisplayName); name != "" {
			return name
		}
	}
	return ""
}

// attendeeEmail returns the address of the first outside attendee.
func (p *Parser) attendeeEmail(ev connect.CalendarEvent) string {
	for _, a := range p.outsideAttendees(ev) {
		if a.Email != "" {
			return strings.ToLower(a.Email)
		}
	}
	return ""
}

// outsideAttendees drops self, organizer and company-domain attendees.
func (p *Parser) outsideAttendees(ev connect.CalendarEvent) []connect.Attendee {
	var out []connect.Attendee
	for _, a := range ev.Attendees {
		if a.Self || a.Organizer || connect.IsCompanyAddress(a.Email, p.opts.CompanyDomains) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (pb *ParsedBooking) warn(msg string) {
	pb.Warnings = append(pb.Warnings, msg)
}

func (pb *ParsedBooking) defaulted(field string) {
	pb.Defaulted = append(pb.Defaulted, field)
}

// roundHours rounds to one decimal place.
func roundHours(h float64) float64 {
	return math.Round(h*10) / 10
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// addHours adds h hours to an HH:MM clock value, wrapping at midnight.
func addHours(clock string, h float64) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return ""
	}
	return t.Add(hoursToDuration(h)).Format("15:04")
}
