// Package connect provides read-only access to the external record sources
// the reconciliation pipeline consumes.
//
// Sources are paginated: callers ask for one page at a time and follow the
// returned continuation token. Authentication and transport belong to each
// source implementation; the pipeline only sees CalendarEvent and EmailRecord.
package connect

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultPageSize bounds a single page request when the caller does not set one.
const DefaultPageSize = 250

// MaxPages is a safety cap on how many continuation tokens a fetch follows.
const MaxPages = 200

// CalendarEvent is a calendar entry as delivered by a source. Read-only.
type CalendarEvent struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Status      string     `json:"status,omitempty"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	Creator     *Person    `json:"creator,omitempty"`
}

// EventTime is either a timestamp or a date-only value (all-day events).
type EventTime struct {
	DateTime time.Time `json:"date_time,omitempty"`
	Date     string    `json:"date,omitempty"` // YYYY-MM-DD
}

// IsZero reports whether neither a timestamp nor a date is set.
func (t EventTime) IsZero() bool {
	return t.DateTime.IsZero() && t.Date == ""
}

// HasTimestamp reports whether the value carries a time of day.
func (t EventTime) HasTimestamp() bool {
	return !t.DateTime.IsZero()
}

// Day returns the calendar date in YYYY-MM-DD form, in the timestamp's own zone.
func (t EventTime) Day() string {
	if !t.DateTime.IsZero() {
		return t.DateTime.Format("2006-01-02")
	}
	return t.Date
}

// Attendee is a guest on a calendar event.
type Attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Organizer   bool   `json:"organizer,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// Person identifies an event creator.
type Person struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// EmailRecord is one message as delivered by a mail source. Read-only.
type EmailRecord struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name,omitempty"`
	To        []string  `json:"to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Snippet   string    `json:"snippet,omitempty"`
	Body      string    `json:"body,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
}

// SourceID is the ledger key for this message.
func (m EmailRecord) SourceID() string {
	return "email:" + m.ID
}

// Text returns everything searchable in the message.
func (m EmailRecord) Text() string {
	var sb strings.Builder
	sb.WriteString(m.Subject)
	sb.WriteString("\n")
	if m.FromName != "" {
		sb.WriteString(m.FromName)
		sb.WriteString("\n")
	}
	if m.Body != "" {
		sb.WriteString(m.Body)
	} else {
		sb.WriteString(m.Snippet)
	}
	return sb.String()
}

// EventQuery selects one page of calendar events.
type EventQuery struct {
	TimeMin   time.Time
	TimeMax   time.Time
	PageSize  int
	PageToken string
}

// EventPage is one page of calendar events.
type EventPage struct {
	Events        []CalendarEvent
	NextPageToken string
}

// CalendarSource lists calendar events page by page.
type CalendarSource interface {
	ListEvents(ctx context.Context, q EventQuery) (EventPage, error)
}

// MessageQuery selects one page of email messages.
type MessageQuery struct {
	Since     time.Time
	Until     time.Time
	PageSize  int
	PageToken string
}

// MessagePage is one page of email messages.
type MessagePage struct {
	Messages      []EmailRecord
	NextPageToken string
}

// EmailSource lists email messages page by page.
type EmailSource interface {
	ListMessages(ctx context.Context, q MessageQuery) (MessagePage, error)
}

// FetchEvents pages a calendar source until the continuation token runs out,
// the limit is reached (limit <= 0 means unbounded) or MaxPages is hit.
// Any page error aborts the fetch: a source that cannot be paged is fatal.
func FetchEvents(ctx context.Context, src CalendarSource, q EventQuery, limit int) ([]CalendarEvent, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	var all []CalendarEvent
	for pages := 0; pages < MaxPages; pages++ {
		if limit > 0 && len(all) >= limit {
			break
		}
		page, err := src.ListEvents(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("listing events (page %d): %w", pages+1, err)
		}
		all = append(all, page.Events...)
		if page.NextPageToken == "" {
			break
		}
		q.PageToken = page.NextPageToken
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// FetchMessages is FetchEvents for mail sources.
func FetchMessages(ctx context.Context, src EmailSource, q MessageQuery, limit int) ([]EmailRecord, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	var all []EmailRecord
	for pages := 0; pages < MaxPages; pages++ {
		if limit > 0 && len(all) >= limit {
			break
		}
		page, err := src.ListMessages(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("listing messages (page %d): %w", pages+1, err)
		}
		all = append(all, page.Messages...)
		if page.NextPageToken == "" {
			break
		}
		q.PageToken = page.NextPageToken
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DomainOf returns the lower-cased domain part of an address, or "".
func DomainOf(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], ">")
	}
	return ""
}

// IsCompanyAddress reports whether addr belongs to one of the given domains.
// Subdomains count: "ops.example.com" is inside "example.com".
func IsCompanyAddress(addr string, companyDomains []string) bool {
	domain := DomainOf(addr)
	if domain == "" {
		return false
	}
	for _, d := range companyDomains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, "@")))
		if d == "" {
			continue
		}
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
