package connect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileCalendarWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	data := `[
  {"id": "a", "title": "Smith Party", "start": {"date": "2025-05-31"}},
  {"id": "b", "title": "Tour: Davis", "start": {"date": "2025-06-01"}},
  {"id": "c", "title": "Lee Group", "start": {"date_time": "2025-06-15T10:00:00Z"}},
  {"id": "d", "title": "Late", "start": {"date": "2025-07-01"}}
]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cal, err := LoadFileCalendar(path)
	if err != nil {
		t.Fatalf("LoadFileCalendar: %v", err)
	}

	page, err := cal.ListEvents(context.Background(), EventQuery{
		TimeMin: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(page.Events))
	}
	if page.Events[0].ID != "b" || page.Events[1].ID != "c" {
		t.Fatalf("unexpected events: %+v", page.Events)
	}
	if page.NextPageToken != "" {
		t.Fatalf("expected no continuation, got %q", page.NextPageToken)
	}
}

func TestLoadFileCalendarErrors(t *testing.T) {
	if _, err := LoadFileCalendar(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := LoadFileCalendar(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		total, size int
		token       string
		start, end  int
		next        string
	}{
		{10, 4, "", 0, 4, "4"},
		{10, 4, "4", 4, 8, "8"},
		{10, 4, "8", 8, 10, ""},
		{10, 4, "12", 10, 10, ""},
		{0, 4, "", 0, 0, ""},
	}
	for _, tt := range tests {
		start, end, next, err := pageBounds(tt.total, tt.size, tt.token)
		if err != nil {
			t.Fatalf("pageBounds(%d,%d,%q): %v", tt.total, tt.size, tt.token, err)
		}
		if start != tt.start || end != tt.end || next != tt.next {
			t.Errorf("pageBounds(%d,%d,%q) = %d,%d,%q want %d,%d,%q",
				tt.total, tt.size, tt.token, start, end, next, tt.start, tt.end, tt.next)
		}
	}

	if _, _, _, err := pageBounds(10, 4, "abc"); err == nil {
		t.Fatal("expected error for non-numeric token")
	}
	if _, _, _, err := pageBounds(10, 4, "-1"); err == nil {
		t.Fatal("expected error for negative token")
	}
}

func TestFileMailboxWindowIsHalfOpen(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	box := NewFileMailbox([]EmailRecord{
		{ID: "at-min", Timestamp: since},
		{ID: "at-max", Timestamp: until},
	})

	page, err := box.ListMessages(context.Background(), MessageQuery{Since: since, Until: until})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "at-min" {
		t.Fatalf("expected only the message at the lower bound, got %+v", page.Messages)
	}
}
