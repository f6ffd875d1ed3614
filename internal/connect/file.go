package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FileCalendar serves calendar events from a JSON export (an array of
// CalendarEvent). Used for offline replays and fixtures.
type FileCalendar struct {
	events []CalendarEvent
}

// LoadFileCalendar reads a JSON array of events from path.
func LoadFileCalendar(path string) (*FileCalendar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var events []CalendarEvent
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &FileCalendar{events: events}, nil
}

// NewFileCalendar wraps an in-memory event list.
func NewFileCalendar(events []CalendarEvent) *FileCalendar {
	return &FileCalendar{events: events}
}

// ListEvents returns the page of events starting at the offset in PageToken.
func (f *FileCalendar) ListEvents(ctx context.Context, q EventQuery) (EventPage, error) {
	var filtered []CalendarEvent
	for _, ev := range f.events {
		if inWindow(eventInstant(ev.Start), q.TimeMin, q.TimeMax) {
			filtered = append(filtered, ev)
		}
	}

	start, end, next, err := pageBounds(len(filtered), q.PageSize, q.PageToken)
	if err != nil {
		return EventPage{}, err
	}
	return EventPage{Events: filtered[start:end], NextPageToken: next}, nil
}

// FileMailbox serves messages from a JSON export (an array of EmailRecord).
type FileMailbox struct {
	messages []EmailRecord
}

// LoadFileMailbox reads a JSON array of messages from path.
func LoadFileMailbox(path string) (*FileMailbox, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var msgs []EmailRecord
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &FileMailbox{messages: msgs}, nil
}

// NewFileMailbox wraps an in-memory message list.
func NewFileMailbox(msgs []EmailRecord) *FileMailbox {
	return &FileMailbox{messages: msgs}
}

// ListMessages returns the page of messages starting at the offset in PageToken.
func (f *FileMailbox) ListMessages(ctx context.Context, q MessageQuery) (MessagePage, error) {
	var filtered []EmailRecord
	for _, m := range f.messages {
		if inWindow(m.Timestamp, q.Since, q.Until) {
			filtered = append(filtered, m)
		}
	}

	start, end, next, err := pageBounds(len(filtered), q.PageSize, q.PageToken)
	if err != nil {
		return MessagePage{}, err
	}
	return MessagePage{Messages: filtered[start:end], NextPageToken: next}, nil
}

// pageBounds turns an offset token into slice bounds and the next token.
func pageBounds(total, pageSize int, token string) (int, int, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return 0, 0, "", fmt.Errorf("invalid page token %q", token)
		}
		start = n
	}
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	next := ""
	if end < total {
		next = strconv.Itoa(end)
	}
	return start, end, next, nil
}

// eventInstant places an event start on the timeline; date-only values are
// read as midnight UTC.
func eventInstant(t EventTime) time.Time {
	if t.HasTimestamp() {
		return t.DateTime
	}
	if d, err := time.Parse("2006-01-02", t.Date); err == nil {
		return d
	}
	return time.Time{}
}

func inWindow(t, min, max time.Time) bool {
	if t.IsZero() {
		return min.IsZero() && max.IsZero()
	}
	if !min.IsZero() && t.Before(min) {
		return false
	}
	if !max.IsZero() && !t.Before(max) {
		return false
	}
	return true
}
