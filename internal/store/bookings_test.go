package store

import (
	"context"
	"errors"
	"testing"
)

func TestAddAndGetBooking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &Booking{
		BookingNumber:   "HIST-00001",
		CustomerName:    "Smith",
		CustomerEmail:   "Jane@Smith.org",
		CustomerPhone:   "(415) 555-1234",
		PartySize:       6,
		TourDate:        "2025-06-01",
		StartTime:       "10:00",
		EndTime:         "16:00",
		DurationHours:   6,
		PickupLocation:  "Hotel Nikko",
		DropoffLocation: "Ferry Building",
		Stops:           []string{"Domaine Carneros", "Opus One"},
		SpecialRequests: "vegetarian",
		DriverNotes:     "bring extra water",
		Status:          "completed",
		SourceTag:       "calendar_import",
		DriverID:        int64p(7),
	}
	id, err := s.AddBooking(ctx, b)
	if err != nil {
		t.Fatalf("AddBooking: %v", err)
	}
	if id == 0 || b.ID != id {
		t.Fatalf("expected ID to be set, got %d / %d", id, b.ID)
	}

	got, err := s.GetBooking(ctx, id)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	if got.CustomerEmail != "jane@smith.org" {
		t.Errorf("email should be stored lower-cased, got %q", got.CustomerEmail)
	}
	if len(got.Stops) != 2 || got.Stops[1] != "Opus One" {
		t.Errorf("stops mismatch: %v", got.Stops)
	}
	if got.DriverID == nil || *got.DriverID != 7 {
		t.Errorf("driver id mismatch: %v", got.DriverID)
	}
	if got.VehicleID != nil || got.TimeCardID != nil {
		t.Errorf("expected nil vehicle/time card, got %v %v", got.VehicleID, got.TimeCardID)
	}
	if got.TotalPrice != 0 {
		t.Errorf("expected zero price, got %v", got.TotalPrice)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestAddBookingDuplicateNumber(t *testing.T) {
	s := newTestStore(t)
	addTestBooking(t, s, "HIST-00001", "Smith", "2025-06-01")

	_, err := s.AddBooking(context.Background(), &Booking{
		BookingNumber: "HIST-00001", CustomerName: "Davis", PartySize: 2, TourDate: "2025-06-02",
	})
	if err == nil {
		t.Fatal("expected duplicate booking number to fail")
	}
}

func TestGetBookingNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBooking(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindBookingByNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addTestBooking(t, s, "HIST-00042", "Smith", "2025-06-01")

	got, err := s.FindBookingByNumber(ctx, "HIST-00042")
	if err != nil {
		t.Fatalf("FindBookingByNumber: %v", err)
	}
	if got == nil || got.CustomerName != "Smith" {
		t.Fatalf("unexpected booking: %+v", got)
	}

	got, err = s.FindBookingByNumber(ctx, "HIST-99999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown number")
	}
}

func TestFindBookingByDateAndName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addTestBooking(t, s, "HIST-00001", "Jane Smith", "2025-06-01")
	addTestBooking(t, s, "HIST-00002", "100% Tours", "2025-06-01")

	tests := []struct {
		date, prefix string
		want         string
	}{
		{"2025-06-01", "Smith", "HIST-00001"},
		{"2025-06-01", "jane", "HIST-00001"},
		{"2025-06-02", "Smith", ""},
		{"2025-06-01", "Davis", ""},
		{"2025-06-01", "100%", "HIST-00002"},
		{"2025-06-01", "_", ""},
		{"2025-06-01", "", ""},
	}
	for _, tt := range tests {
		got, err := s.FindBookingByDateAndName(ctx, tt.date, tt.prefix)
		if err != nil {
			t.Fatalf("FindBookingByDateAndName(%s, %q): %v", tt.date, tt.prefix, err)
		}
		gotNumber := ""
		if got != nil {
			gotNumber = got.BookingNumber
		}
		if gotNumber != tt.want {
			t.Errorf("FindBookingByDateAndName(%s, %q) = %q, want %q", tt.date, tt.prefix, gotNumber, tt.want)
		}
	}
}

func TestListBookingsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := addTestBooking(t, s, "HIST-00001", "Smith", "2025-06-01")
	b := addTestBooking(t, s, "HIST-00002", "Davis", "2025-06-15")
	addTestBooking(t, s, "HIST-00003", "Lee", "2025-07-01")

	if _, err := s.db.ExecContext(ctx, `UPDATE bookings SET driver_id = 7, customer_email = 'd@davis.net' WHERE id = ?`, b.ID); err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	all, err := s.ListBookings(ctx, BookingFilter{})
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID {
		t.Fatalf("expected 3 bookings ordered by date, got %d", len(all))
	}

	june, _ := s.ListBookings(ctx, BookingFilter{From: "2025-06-01", To: "2025-06-30"})
	if len(june) != 2 {
		t.Fatalf("expected 2 June bookings, got %d", len(june))
	}

	driver, _ := s.ListBookings(ctx, BookingFilter{DriverID: int64p(7)})
	if len(driver) != 1 || driver[0].ID != b.ID {
		t.Fatalf("expected driver filter to return Davis, got %+v", driver)
	}

	byEmail, _ := s.ListBookings(ctx, BookingFilter{Email: " D@Davis.NET "})
	if len(byEmail) != 1 || byEmail[0].ID != b.ID {
		t.Fatalf("expected email filter to match case-insensitively, got %+v", byEmail)
	}

	limited, _ := s.ListBookings(ctx, BookingFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}

func TestMaxBookingSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.MaxBookingSequence(ctx, "HIST")
	if err != nil {
		t.Fatalf("MaxBookingSequence: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on empty store, got %d", n)
	}

	addTestBooking(t, s, "HIST-00002", "A", "2025-06-01")
	addTestBooking(t, s, "HIST-00017", "B", "2025-06-01")
	addTestBooking(t, s, "HISTORY-00099", "C", "2025-06-01")
	addTestBooking(t, s, "BK-00500", "D", "2025-06-01")

	n, err = s.MaxBookingSequence(ctx, "HIST")
	if err != nil {
		t.Fatalf("MaxBookingSequence: %v", err)
	}
	if n != 17 {
		t.Fatalf("expected 17, got %d", n)
	}
}

func TestSetTimeCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := addTestBooking(t, s, "HIST-00001", "Smith", "2025-06-01")

	tc := &TimeCard{DriverID: 7, WorkDate: "2025-06-01"}
	if _, err := s.AddTimeCard(ctx, tc); err != nil {
		t.Fatalf("AddTimeCard: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.SetTimeCard(ctx, b.ID, tc.ID); err != nil {
			t.Fatalf("SetTimeCard (attempt %d): %v", i+1, err)
		}
	}
	got, _ := s.GetBooking(ctx, b.ID)
	if got.TimeCardID == nil || *got.TimeCardID != tc.ID {
		t.Fatalf("expected time card %d, got %v", tc.ID, got.TimeCardID)
	}

	if err := s.SetTimeCard(ctx, 9999, tc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing booking, got %v", err)
	}
}

func TestBookingNumberHelpers(t *testing.T) {
	if got := FormatBookingNumber("HIST", 42); got != "HIST-00042" {
		t.Fatalf("FormatBookingNumber = %q", got)
	}
	tests := []struct {
		number string
		want   int
		ok     bool
	}{
		{"HIST-00042", 42, true},
		{"HIST-123456", 123456, true},
		{"HISTORY-00001", 0, false},
		{"HIST-", 0, false},
		{"HIST-abc", 0, false},
		{"BK-00001", 0, false},
	}
	for _, tt := range tests {
		n, ok := ParseBookingSequence(tt.number, "HIST")
		if n != tt.want || ok != tt.ok {
			t.Errorf("ParseBookingSequence(%q) = %d,%v want %d,%v", tt.number, n, ok, tt.want, tt.ok)
		}
	}
}
