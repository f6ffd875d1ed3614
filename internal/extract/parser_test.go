package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/bookrecon/internal/connect"
)

var testDomains = []string{"example.com"}

func newTestParser() *Parser {
	return NewParser(ParserOptions{CompanyDomains: testDomains})
}

func allDay(date string) connect.EventTime {
	return connect.EventTime{Date: date}
}

func TestParseAllDayGroupEvent(t *testing.T) {
	ev := connect.CalendarEvent{
		ID:    "evt-smith",
		Title: "Smith Party - 6 guests",
		Start: allDay("2025-06-01"),
		End:   allDay("2025-06-02"),
		Attendees: []connect.Attendee{
			{Email: "bookings@example.com", Self: true, Organizer: true},
			{Email: "Jane@Smith.org"},
		},
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, "Smith", pb.CustomerName)
	assert.Equal(t, 6, pb.PartySize)
	assert.Equal(t, "2025-06-01", pb.TourDate)
	assert.Equal(t, "10:00", pb.StartTime)
	assert.Equal(t, "16:00", pb.EndTime)
	assert.Equal(t, 6.0, pb.DurationHours)
	assert.Equal(t, "jane@smith.org", pb.Email)
	assert.Equal(t, ConfidenceMedium, pb.Confidence)
	assert.ElementsMatch(t, []string{FieldStartTime, FieldDuration}, pb.Defaulted)
	assert.Equal(t, "evt-smith", pb.SourceEventID)
	assert.Equal(t, "Smith Party - 6 guests", pb.SourceTitle)
}

func TestParseNoContactIsLow(t *testing.T) {
	ev := connect.CalendarEvent{
		ID:    "evt-smith",
		Title: "Smith Party - 6 guests",
		Start: allDay("2025-06-01"),
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, ConfidenceLow, pb.Confidence)
	assert.Contains(t, pb.Warnings, "no email or phone found")
}

func TestParseDriverNotes(t *testing.T) {
	ev := connect.CalendarEvent{
		ID:          "evt-davis",
		Title:       "Tour: Davis, 5",
		Description: "driver notes: bring extra water",
		Start:       allDay("2025-06-03"),
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, "Davis", pb.CustomerName)
	assert.Equal(t, 5, pb.PartySize)
	assert.Equal(t, "bring extra water", pb.DriverNotes)
	assert.Empty(t, pb.SpecialRequests)
}

func TestParseTimestampedEventIsHigh(t *testing.T) {
	pdt := time.FixedZone("PDT", -7*3600)
	ev := connect.CalendarEvent{
		ID:    "evt-ruiz",
		Title: "Ruiz Group, 4 guests",
		Description: "Contact: Ana Ruiz, ana@ruiz.net, (415) 555-1234\n" +
			"Pickup: Hotel Nikko\n" +
			"Stop 1: Domaine Carneros\n" +
			"Dietary: vegetarian",
		Location: "Union Square",
		Start:    connect.EventTime{DateTime: time.Date(2025, 6, 1, 9, 30, 0, 0, pdt)},
		End:      connect.EventTime{DateTime: time.Date(2025, 6, 1, 15, 0, 0, 0, pdt)},
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, "Ruiz", pb.CustomerName)
	assert.Equal(t, 4, pb.PartySize)
	assert.Equal(t, "2025-06-01", pb.TourDate)
	assert.Equal(t, "09:30", pb.StartTime)
	assert.Equal(t, "15:00", pb.EndTime)
	assert.Equal(t, 5.5, pb.DurationHours)
	assert.Equal(t, "ana@ruiz.net", pb.Email)
	assert.Equal(t, "(415) 555-1234", pb.Phone)
	assert.Equal(t, "Hotel Nikko", pb.Pickup)
	assert.Equal(t, []string{"Domaine Carneros"}, pb.Stops)
	assert.Equal(t, "vegetarian", pb.SpecialRequests)
	assert.Empty(t, pb.Defaulted)
	assert.Equal(t, ConfidenceHigh, pb.Confidence)
}

func TestParseDurationRounding(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ev := connect.CalendarEvent{
		ID:    "evt-round",
		Title: "Lee Group, 3 guests",
		Start: connect.EventTime{DateTime: start},
		End:   connect.EventTime{DateTime: start.Add(4*time.Hour + 20*time.Minute)},
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)
	assert.Equal(t, 4.3, pb.DurationHours)
}

func TestParseTimestampWithoutEnd(t *testing.T) {
	ev := connect.CalendarEvent{
		ID:          "evt-open",
		Title:       "Lee Group, 3 guests",
		Description: "email: kim@lee.org",
		Start:       connect.EventTime{DateTime: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)},
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, "11:00", pb.StartTime)
	assert.Equal(t, "17:00", pb.EndTime)
	assert.Equal(t, DefaultDurationHours, pb.DurationHours)
	assert.Equal(t, []string{FieldDuration}, pb.Defaulted)
	assert.Equal(t, ConfidenceMedium, pb.Confidence)
}

func TestParseAttendeeNameFallback(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ev := connect.CalendarEvent{
		ID:    "evt-kim",
		Title: "wine tasting",
		Start: connect.EventTime{DateTime: start},
		End:   connect.EventTime{DateTime: start.Add(5 * time.Hour)},
		Attendees: []connect.Attendee{
			{Email: "ops@example.com", DisplayName: "Ops Desk", Self: true},
			{Email: "driver@ops.example.com", DisplayName: "Driver Pool"},
			{Email: "kim@lee.org", DisplayName: "Kim Lee"},
		},
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, "Kim Lee", pb.CustomerName)
	assert.Equal(t, "kim@lee.org", pb.Email)
	assert.Contains(t, pb.Defaulted, FieldCustomerName)
	assert.Contains(t, pb.Warnings, "customer name taken from attendee display name")
	assert.Equal(t, ConfidenceMedium, pb.Confidence)
}

func TestParseMissingNameFails(t *testing.T) {
	ev := connect.CalendarEvent{ID: "evt-x", Title: "wine tasting", Start: allDay("2025-06-01")}

	_, err := newTestParser().Parse(ev)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "evt-x", perr.EventID)
	assert.True(t, errors.Is(err, ErrNoCustomerName))
}

func TestParsePartySizeDefault(t *testing.T) {
	ev := connect.CalendarEvent{
		ID:          "evt-jones",
		Title:       "Jones Family Wine Tour",
		Description: "jones@family.net",
		Location:    "Hotel Nikko",
		Start:       allDay("2025-06-01"),
	}

	pb, err := newTestParser().Parse(ev)
	require.NoError(t, err)

	assert.Equal(t, DefaultPartySize, pb.PartySize)
	assert.Contains(t, pb.Defaulted, FieldPartySize)
	assert.Contains(t, pb.Warnings, "party size not found, defaulted to 2")
	assert.Equal(t, "Hotel Nikko", pb.Pickup, "pickup falls back to the event location")
}

func TestParseConfidenceMonotonic(t *testing.T) {
	events := []connect.CalendarEvent{
		{ID: "1", Title: "Smith Party - 6 guests", Start: allDay("2025-06-01")},
		{ID: "2", Title: "Smith Party", Description: "smith@x.org", Start: allDay("2025-06-01")},
		{ID: "3", Title: "Tour: Davis, 5", Description: "415-555-1234", Start: allDay("2025-06-01")},
		{ID: "4", Title: "Tour: Davis, 5", Start: connect.EventTime{DateTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}},
	}

	p := newTestParser()
	for _, ev := range events {
		pb, err := p.Parse(ev)
		require.NoError(t, err, ev.ID)
		if len(pb.Defaulted) > 0 {
			assert.NotEqual(t, ConfidenceHigh, pb.Confidence, "event %s has defaulted fields", ev.ID)
		}
		if pb.Email == "" && pb.Phone == "" {
			assert.Equal(t, ConfidenceLow, pb.Confidence, "event %s has no contact", ev.ID)
		}
	}
}

func TestParsedBookingClone(t *testing.T) {
	pb := ParsedBooking{
		CustomerName: "Smith",
		Stops:        []string{"Opus One"},
		Warnings:     []string{"w"},
	}
	c := pb.Clone()
	c.Stops[0] = "Silver Oak"
	c.Warnings = append(c.Warnings, "x")
	c.CustomerName = "Smyth"

	assert.Equal(t, "Opus One", pb.Stops[0])
	assert.Len(t, pb.Warnings, 1)
	assert.Equal(t, "Smith", pb.CustomerName)
}

func TestNewParserDefaults(t *testing.T) {
	p := NewParser(ParserOptions{})
	assert.Equal(t, DefaultStartTime, p.opts.DefaultStartTime)
	assert.Equal(t, DefaultDurationHours, p.opts.DefaultDuration)
	assert.Equal(t, DefaultPartySize, p.opts.DefaultPartySize)
}
