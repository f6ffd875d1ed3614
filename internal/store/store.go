// Package store provides the SQLite storage layer for bookrecon.
//
// One SQLite database file holds:
// - Bookings, including historical imports
// - The append-only booking timeline, which doubles as the dedup ledger
// - Driver time cards and vehicle inspections
// - Review items and run history
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.bookrecon/bookrecon.db"

// ErrNotFound is returned by lookups by primary key when no row exists.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSource is returned when a timeline entry repeats a
// (booking, source id) pair already in the ledger.
var ErrDuplicateSource = errors.New("source already recorded for booking")

// Booking is the canonical operational booking.
type Booking struct {
	ID              int64
	BookingNumber   string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	PartySize       int
	TourDate        string // YYYY-MM-DD
	StartTime       string // HH:MM
	EndTime         string // HH:MM
	DurationHours   float64
	PickupLocation  string
	DropoffLocation string
	Stops           []string
	SpecialRequests string
	DriverNotes     string
	TotalPrice      float64
	Status          string
	SourceTag       string
	DriverID        *int64
	VehicleID       *int64
	TimeCardID      *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimelineEntry is one append-only event on a booking's history.
type TimelineEntry struct {
	ID          int64
	BookingID   int64
	EventType   string
	Description string
	Payload     map[string]interface{}
	SourceID    string // copy of Payload["source_id"], indexed
	CreatedAt   time.Time
}

// TimeCard is one driver work day.
type TimeCard struct {
	ID        int64
	DriverID  int64
	WorkDate  string // YYYY-MM-DD
	ClockIn   string
	ClockOut  string
	VehicleID *int64
}

// Inspection types.
const (
	InspectionPreTrip  = "pre_trip"
	InspectionPostTrip = "post_trip"
)

// Inspection is one vehicle inspection.
type Inspection struct {
	ID             int64
	DriverID       int64
	VehicleID      *int64
	InspectionDate string // YYYY-MM-DD
	InspectionType string // pre_trip | post_trip
	Passed         bool
	Notes          string
}

// Review item kinds.
const (
	ReviewLowConfidence    = "low_confidence"
	ReviewUnmatchedMessage = "unmatched_message"
)

// ReviewItem is a record routed to human review.
type ReviewItem struct {
	ID        int64
	RunID     string
	Kind      string
	SourceID  string
	Label     string
	Reason    string
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// Run records one CLI batch run.
type Run struct {
	ID         int64
	RunID      string
	Command    string
	Source     string
	DryRun     bool
	Status     string // running | completed | failed
	Counts     map[string]int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// BookingFilter narrows ListBookings. Empty fields do not filter.
type BookingFilter struct {
	From     string // inclusive YYYY-MM-DD
	To       string // inclusive YYYY-MM-DD
	DriverID *int64
	Email    string // case-insensitive exact match
	Limit    int
}

// ReviewFilter narrows ListReviewItems.
type ReviewFilter struct {
	RunID    string
	Kind     string
	SourceID string
	Limit    int
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	BookingCount     int64
	ImportedCount    int64
	LinkedMessages   int64
	TimelineCount    int64
	TimeCardCount    int64
	InspectionCount  int64
	ReviewCount      int64
	RunCount         int64
	LinkedTimeCards  int64
	DBSizeBytes      int64
	EarliestTourDate string
	LatestTourDate   string
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// BookingStore reads and writes bookings.
type BookingStore interface {
	AddBooking(ctx context.Context, b *Booking) (int64, error)
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	FindBookingByNumber(ctx context.Context, number string) (*Booking, error)
	FindBookingByDateAndName(ctx context.Context, date, namePrefix string) (*Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]*Booking, error)
	MaxBookingSequence(ctx context.Context, prefix string) (int, error)
	SetTimeCard(ctx context.Context, bookingID, timeCardID int64) error
}

// TimelineStore appends to and reads the booking timeline.
type TimelineStore interface {
	AddTimelineEntry(ctx context.Context, e *TimelineEntry) (int64, error)
	FindTimelineBySource(ctx context.Context, sourceID string) (*TimelineEntry, error)
	ListTimeline(ctx context.Context, bookingID int64) ([]*TimelineEntry, error)
}

// ComplianceStore reads time cards and inspections.
type ComplianceStore interface {
	FindTimeCard(ctx context.Context, driverID int64, date string) (*TimeCard, error)
	FindInspections(ctx context.Context, driverID int64, date string, vehicleID *int64) ([]*Inspection, error)
}

// DriverRecordStore writes time cards and inspections. Those rows are owned
// by the driver apps and only read here; this is for seeding fixtures and
// local databases, and is not part of Store.
type DriverRecordStore interface {
	AddTimeCard(ctx context.Context, tc *TimeCard) (int64, error)
	AddInspection(ctx context.Context, in *Inspection) (int64, error)
}

// ReviewStore persists review items.
type ReviewStore interface {
	AddReviewItem(ctx context.Context, item *ReviewItem) (int64, error)
	ListReviewItems(ctx context.Context, f ReviewFilter) ([]*ReviewItem, error)
}

// RunStore tracks batch run history.
type RunStore interface {
	StartRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, runID string, counts map[string]int, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// Store defines the full storage interface.
type Store interface {
	BookingStore
	TimelineStore
	ComplianceStore
	ReviewStore
	RunStore

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	Close() error
}

var (
	_ Store             = (*SQLiteStore)(nil)
	_ DriverRecordStore = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	cfg.DBPath = expandPath(cfg.DBPath)

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats returns row counts and the database size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM bookings", &stats.BookingCount},
		{"SELECT COUNT(DISTINCT booking_id) FROM booking_timeline WHERE event_type = 'historical_import'", &stats.ImportedCount},
		{"SELECT COUNT(*) FROM booking_timeline WHERE event_type = 'email_linked'", &stats.LinkedMessages},
		{"SELECT COUNT(*) FROM booking_timeline", &stats.TimelineCount},
		{"SELECT COUNT(*) FROM time_cards", &stats.TimeCardCount},
		{"SELECT COUNT(*) FROM inspections", &stats.InspectionCount},
		{"SELECT COUNT(*) FROM review_items", &stats.ReviewCount},
		{"SELECT COUNT(*) FROM runs", &stats.RunCount},
		{"SELECT COUNT(*) FROM bookings WHERE time_card_id IS NOT NULL", &stats.LinkedTimeCards},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	var earliest, latest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(tour_date), MAX(tour_date) FROM bookings`,
	).Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("querying tour date range: %w", err)
	}
	stats.EarliestTourDate = earliest.String
	stats.LatestTourDate = latest.String

	// Get DB size (only works for file-based DBs)
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
