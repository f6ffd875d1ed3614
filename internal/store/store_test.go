package store

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.(*SQLiteStore)
}

func int64p(n int64) *int64 { return &n }

// addTestBooking inserts a minimal valid booking.
func addTestBooking(t *testing.T, s Store, number, name, date string) *Booking {
	t.Helper()
	b := &Booking{
		BookingNumber: number,
		CustomerName:  name,
		PartySize:     4,
		TourDate:      date,
		StartTime:     "10:00",
		EndTime:       "16:00",
		DurationHours: 6,
		Status:        "confirmed",
		SourceTag:     "test",
	}
	if _, err := s.AddBooking(context.Background(), b); err != nil {
		t.Fatalf("AddBooking(%s): %v", number, err)
	}
	return b
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	ss := s.(*SQLiteStore)
	tables := []string{"bookings", "booking_timeline", "time_cards", "inspections",
		"review_items", "runs", "meta"}
	for _, table := range tables {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var idx string
	err = ss.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_timeline_booking_source'",
	).Scan(&idx)
	if err != nil {
		t.Error("partial unique ledger index not found")
	}
}

func TestReopenFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bookrecon.db")

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	addTestBooking(t, s, "HIST-00001", "Smith", "2025-06-01")
	s.Close()

	s, err = NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.BookingCount != 1 {
		t.Fatalf("expected booking to survive reopen, got %d", stats.BookingCount)
	}
	if stats.DBSizeBytes == 0 {
		t.Error("expected non-zero db size for file store")
	}
}

func TestMetaSeeded(t *testing.T) {
	ss := newTestStore(t)

	v, err := ss.getMetaValue("schema_version")
	if err != nil {
		t.Fatalf("getMetaValue: %v", err)
	}
	if v != schemaVersion {
		t.Fatalf("schema_version = %q, want %q", v, schemaVersion)
	}

	done, err := ss.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil || !done {
		t.Fatalf("expected bootstrap flag, got %v %v", done, err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b1 := addTestBooking(t, s, "HIST-00001", "Smith", "2025-06-01")
	addTestBooking(t, s, "BK-1001", "Davis", "2025-07-04")

	if _, err := s.AddTimelineEntry(ctx, &TimelineEntry{
		BookingID: b1.ID, EventType: "historical_import", SourceID: "calendar:e1",
	}); err != nil {
		t.Fatalf("AddTimelineEntry: %v", err)
	}
	if _, err := s.AddTimelineEntry(ctx, &TimelineEntry{
		BookingID: b1.ID, EventType: "email_linked", SourceID: "email:m1",
	}); err != nil {
		t.Fatalf("AddTimelineEntry: %v", err)
	}
	tc := &TimeCard{DriverID: 7, WorkDate: "2025-06-01"}
	if _, err := s.AddTimeCard(ctx, tc); err != nil {
		t.Fatalf("AddTimeCard: %v", err)
	}
	if err := s.SetTimeCard(ctx, b1.ID, tc.ID); err != nil {
		t.Fatalf("SetTimeCard: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.BookingCount != 2 {
		t.Errorf("BookingCount = %d, want 2", stats.BookingCount)
	}
	if stats.ImportedCount != 1 {
		t.Errorf("ImportedCount = %d, want 1", stats.ImportedCount)
	}
	if stats.LinkedMessages != 1 {
		t.Errorf("LinkedMessages = %d, want 1", stats.LinkedMessages)
	}
	if stats.TimelineCount != 2 {
		t.Errorf("TimelineCount = %d, want 2", stats.TimelineCount)
	}
	if stats.LinkedTimeCards != 1 {
		t.Errorf("LinkedTimeCards = %d, want 1", stats.LinkedTimeCards)
	}
	if stats.EarliestTourDate != "2025-06-01" || stats.LatestTourDate != "2025-07-04" {
		t.Errorf("unexpected date range %s..%s", stats.EarliestTourDate, stats.LatestTourDate)
	}
}
