package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPartySize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
		ok   bool
	}{
		{"count noun", "Smith Party - 6 guests", 6, true},
		{"pax", "Airport transfer 12 pax", 12, true},
		{"party of", "Wine day, party of 8", 8, true},
		{"table for", "Lunch: table for 4", 4, true},
		{"labelled", "Guests: 12", 12, true},
		{"trailing title count", "Tour: Davis, 5", 5, true},
		{"trailing count only on first line", "Tour: Davis\nSuite 200, 3", 0, false},
		{"year is not a count", "Planning call, 2025", 0, false},
		{"out of range falls through to next rule", "60 guests, party of 8", 8, true},
		{"out of range falls through every rule", "Booking for 100 people, group of 51, pax: 7", 7, true},
		{"zero rejected", "0 pax", 0, false},
		{"nothing", "Jones Family Wine Tour", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPartySize(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPartySizeRange(t *testing.T) {
	for n := MinPartySize; n <= MaxPartySize; n++ {
		got, ok := ExtractPartySize(fmt.Sprintf("Private tour for %d guests", n))
		assert.True(t, ok, "n=%d", n)
		assert.Equal(t, n, got)
	}
	for _, n := range []int{0, 51, 99, 250} {
		_, ok := ExtractPartySize(fmt.Sprintf("%d guests", n))
		assert.False(t, ok, "n=%d should be rejected", n)
	}
}

func TestExtractCustomerName(t *testing.T) {
	tests := []struct {
		name, title, desc string
		want              string
		ok                bool
	}{
		{"keyword prefix", "Tour: Davis, 5", "", "Davis", true},
		{"keyword prefix two words", "Private Tour: Maria Lopez", "", "Maria Lopez", true},
		{"generic suffix stripped", "Wine Tour - Lee Group", "", "Lee", true},
		{"party suffix", "Smith Party - 6 guests", "", "Smith", true},
		{"family suffix", "Jones Family Wine Tour", "", "Jones", true},
		{"leading name", "Lee - 4 pax", "", "Lee", true},
		{"leading name with paren", "Jane Doe (4)", "", "Jane Doe", true},
		{"description label", "Wine tasting", "Customer: Jane Smith (jane@smith.org)", "Jane Smith", true},
		{"booked by label", "wine tasting", "booked by: Ana Ruiz, 415-555-1234", "Ana Ruiz", true},
		{"label holding only an email", "wine tasting", "contact: jane@smith.org", "", false},
		{"no name", "Staff meeting", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCustomerName(tt.title, tt.desc)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractEmail(t *testing.T) {
	got, ok := ExtractEmail("cc ops@example.com and Jane@Smith.org", []string{"example.com"})
	assert.True(t, ok)
	assert.Equal(t, "jane@smith.org", got)

	_, ok = ExtractEmail("only dispatch@ops.example.com here", []string{"example.com"})
	assert.False(t, ok)
}

func TestExtractPhone(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"call (415) 555-1234 before noon", "(415) 555-1234", true},
		{"cell 415.555.1234", "415.555.1234", true},
		{"intl +44 20 7946 0958", "+44 20 7946 0958", true},
		{"Booking HIST-00012 on 2025-06-01", "", false},
		{"party of 6", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractPhone(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestLabelledLines(t *testing.T) {
	desc := "Pickup: Hotel Nikko\n" +
		"Drop-off: Ferry Building\n" +
		"Dietary: vegetarian\n" +
		"Notes: birthday cake\n" +
		"Driver notes: gate code 1234"

	pickup, ok := ExtractPickup(desc)
	assert.True(t, ok)
	assert.Equal(t, "Hotel Nikko", pickup)

	dropoff, ok := ExtractDropoff(desc)
	assert.True(t, ok)
	assert.Equal(t, "Ferry Building", dropoff)

	requests, ok := ExtractSpecialRequests(desc)
	assert.True(t, ok)
	assert.Equal(t, "vegetarian; birthday cake", requests)

	notes, ok := ExtractDriverNotes(desc)
	assert.True(t, ok)
	assert.Equal(t, "gate code 1234", notes)

	_, ok = ExtractDriverNotes("no notes here")
	assert.False(t, ok)
}

func TestExtractVenues(t *testing.T) {
	text := "Stop 1: Domaine Carneros\n" +
		"Stop 2: Hidden Valley Cellars\n" +
		"Lunch at oxbow public market, then domaine carneros again"

	assert.Equal(t,
		[]string{"Domaine Carneros", "Hidden Valley Cellars", "Oxbow Public Market"},
		ExtractVenues(text))

	assert.Empty(t, ExtractVenues("Smith Party - 6 guests"))
}
