// Package pgstore implements store.Store on Postgres through gorm, for
// deployments that share the operational database with other services.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hurttlocker/bookrecon/internal/store"
)

// Store implements store.Store using Postgres.
type Store struct {
	db *gorm.DB
}

var (
	_ store.Store             = (*Store)(nil)
	_ store.DriverRecordStore = (*Store)(nil)
)

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&timeCardModel{},
		&bookingModel{},
		&timelineModel{},
		&inspectionModel{},
		&reviewItemModel{},
		&runModel{},
	); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}

	// At most one ledger entry per (booking, source).
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_timeline_booking_source
		ON booking_timeline (booking_id, source_id)
		WHERE source_id IS NOT NULL AND source_id <> ''
	`).Error; err != nil {
		return fmt.Errorf("creating ledger index: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// AddBooking inserts a booking and returns its ID.
func (s *Store) AddBooking(ctx context.Context, b *store.Booking) (int64, error) {
	if b.BookingNumber == "" {
		return 0, fmt.Errorf("booking number cannot be empty")
	}
	m, err := toBookingModel(b)
	if err != nil {
		return 0, fmt.Errorf("encoding stops: %w", err)
	}
	m.ID = 0
	m.CustomerEmail = strings.ToLower(m.CustomerEmail)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return 0, fmt.Errorf("booking number %q already exists", b.BookingNumber)
		}
		return 0, fmt.Errorf("inserting booking: %w", err)
	}
	b.ID = m.ID
	b.CreatedAt, b.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return m.ID, nil
}

// GetBooking retrieves a booking by ID. Returns store.ErrNotFound if absent.
func (s *Store) GetBooking(ctx context.Context, id int64) (*store.Booking, error) {
	var m bookingModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("getting booking %d: %w", id, err)
	}
	return m.toBooking(), nil
}

// FindBookingByNumber returns the booking with that number, or nil.
func (s *Store) FindBookingByNumber(ctx context.Context, number string) (*store.Booking, error) {
	return s.findBooking(ctx, s.db.Where("booking_number = ?", number))
}

// FindBookingByDateAndName returns the first booking on date whose customer
// name contains namePrefix (case-insensitive), or nil.
func (s *Store) FindBookingByDateAndName(ctx context.Context, date, namePrefix string) (*store.Booking, error) {
	namePrefix = strings.TrimSpace(namePrefix)
	if namePrefix == "" {
		return nil, nil
	}
	pattern := "%" + store.EscapeLike(strings.ToLower(namePrefix)) + "%"
	return s.findBooking(ctx, s.db.Where(`tour_date = ? AND LOWER(customer_name) LIKE ? ESCAPE '\'`, date, pattern))
}

func (s *Store) findBooking(ctx context.Context, q *gorm.DB) (*store.Booking, error) {
	var models []bookingModel
	if err := q.WithContext(ctx).Order("id ASC").Limit(1).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding booking: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0].toBooking(), nil
}

// ListBookings returns bookings matching f, ordered by tour date then ID.
func (s *Store) ListBookings(ctx context.Context, f store.BookingFilter) ([]*store.Booking, error) {
	q := s.db.WithContext(ctx).Model(&bookingModel{})
	if f.From != "" {
		q = q.Where("tour_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("tour_date <= ?", f.To)
	}
	if f.DriverID != nil {
		q = q.Where("driver_id = ?", *f.DriverID)
	}
	if f.Email != "" {
		q = q.Where("customer_email = ?", strings.ToLower(strings.TrimSpace(f.Email)))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var models []bookingModel
	if err := q.Order("tour_date ASC, id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing bookings: %w", err)
	}
	out := make([]*store.Booking, 0, len(models))
	for i := range models {
		out = append(out, models[i].toBooking())
	}
	return out, nil
}

// MaxBookingSequence returns the highest sequence used under prefix, or 0.
func (s *Store) MaxBookingSequence(ctx context.Context, prefix string) (int, error) {
	var numbers []string
	err := s.db.WithContext(ctx).Model(&bookingModel{}).
		Where(`booking_number LIKE ? ESCAPE '\'`, store.EscapeLike(prefix)+"-%").
		Pluck("booking_number", &numbers).Error
	if err != nil {
		return 0, fmt.Errorf("scanning booking numbers: %w", err)
	}
	max := 0
	for _, n := range numbers {
		if seq, ok := store.ParseBookingSequence(n, prefix); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

// SetTimeCard links a time card to a booking.
func (s *Store) SetTimeCard(ctx context.Context, bookingID, timeCardID int64) error {
	res := s.db.WithContext(ctx).Model(&bookingModel{}).
		Where("id = ?", bookingID).
		Updates(map[string]interface{}{"time_card_id": timeCardID, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("linking time card %d to booking %d: %w", timeCardID, bookingID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("booking %d: %w", bookingID, store.ErrNotFound)
	}
	return nil
}

// AddTimelineEntry appends an entry to the ledger.
func (s *Store) AddTimelineEntry(ctx context.Context, e *store.TimelineEntry) (int64, error) {
	if e.BookingID == 0 {
		return 0, fmt.Errorf("timeline entry needs a booking id")
	}
	if e.EventType == "" {
		return 0, fmt.Errorf("timeline entry needs an event type")
	}
	payload, err := store.EncodeTimelinePayload(e)
	if err != nil {
		return 0, err
	}
	m := &timelineModel{
		BookingID:   e.BookingID,
		EventType:   e.EventType,
		Description: e.Description,
		Payload:     payload,
	}
	if e.SourceID != "" {
		sid := e.SourceID
		m.SourceID = &sid
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return 0, fmt.Errorf("booking %d, source %s: %w", e.BookingID, e.SourceID, store.ErrDuplicateSource)
		}
		return 0, fmt.Errorf("appending timeline entry: %w", err)
	}
	e.ID, e.CreatedAt = m.ID, m.CreatedAt
	return m.ID, nil
}

// FindTimelineBySource returns the oldest entry carrying sourceID, or nil.
func (s *Store) FindTimelineBySource(ctx context.Context, sourceID string) (*store.TimelineEntry, error) {
	if sourceID == "" {
		return nil, nil
	}
	var models []timelineModel
	err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Order("id ASC").Limit(1).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("finding timeline source %s: %w", sourceID, err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0].toEntry(), nil
}

// ListTimeline returns a booking's entries in insertion order.
func (s *Store) ListTimeline(ctx context.Context, bookingID int64) ([]*store.TimelineEntry, error) {
	var models []timelineModel
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing timeline for booking %d: %w", bookingID, err)
	}
	out := make([]*store.TimelineEntry, 0, len(models))
	for i := range models {
		out = append(out, models[i].toEntry())
	}
	return out, nil
}

// AddTimeCard inserts a time card and returns its ID.
func (s *Store) AddTimeCard(ctx context.Context, tc *store.TimeCard) (int64, error) {
	m := &timeCardModel{
		DriverID:  tc.DriverID,
		WorkDate:  tc.WorkDate,
		ClockIn:   tc.ClockIn,
		ClockOut:  tc.ClockOut,
		VehicleID: tc.VehicleID,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return 0, fmt.Errorf("inserting time card: %w", err)
	}
	tc.ID = m.ID
	return m.ID, nil
}

// FindTimeCard returns the driver's time card for date, or nil.
func (s *Store) FindTimeCard(ctx context.Context, driverID int64, date string) (*store.TimeCard, error) {
	var models []timeCardModel
	err := s.db.WithContext(ctx).
		Where("driver_id = ? AND work_date = ?", driverID, date).
		Order("id ASC").Limit(1).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("finding time card for driver %d on %s: %w", driverID, date, err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0].toTimeCard(), nil
}

// AddInspection inserts an inspection and returns its ID.
func (s *Store) AddInspection(ctx context.Context, in *store.Inspection) (int64, error) {
	m := &inspectionModel{
		DriverID:       in.DriverID,
		VehicleID:      in.VehicleID,
		InspectionDate: in.InspectionDate,
		InspectionType: in.InspectionType,
		Passed:         in.Passed,
		Notes:          in.Notes,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return 0, fmt.Errorf("inserting inspection: %w", err)
	}
	in.ID = m.ID
	return m.ID, nil
}

// FindInspections returns the driver's inspections on date, optionally for
// one vehicle only.
func (s *Store) FindInspections(ctx context.Context, driverID int64, date string, vehicleID *int64) ([]*store.Inspection, error) {
	q := s.db.WithContext(ctx).Where("driver_id = ? AND inspection_date = ?", driverID, date)
	if vehicleID != nil {
		q = q.Where("vehicle_id = ?", *vehicleID)
	}
	var models []inspectionModel
	if err := q.Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding inspections for driver %d on %s: %w", driverID, date, err)
	}
	out := make([]*store.Inspection, 0, len(models))
	for i := range models {
		out = append(out, models[i].toInspection())
	}
	return out, nil
}

// AddReviewItem stores an item for human review.
func (s *Store) AddReviewItem(ctx context.Context, item *store.ReviewItem) (int64, error) {
	if item.Kind == "" {
		return 0, fmt.Errorf("review item needs a kind")
	}
	payload := item.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding review payload: %w", err)
	}
	m := &reviewItemModel{
		RunID:    item.RunID,
		Kind:     item.Kind,
		SourceID: item.SourceID,
		Label:    item.Label,
		Reason:   item.Reason,
		Payload:  string(b),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return 0, fmt.Errorf("inserting review item: %w", err)
	}
	item.ID, item.CreatedAt = m.ID, m.CreatedAt
	return m.ID, nil
}

// ListReviewItems returns review items, newest first.
func (s *Store) ListReviewItems(ctx context.Context, f store.ReviewFilter) ([]*store.ReviewItem, error) {
	q := s.db.WithContext(ctx).Model(&reviewItemModel{})
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.SourceID != "" {
		q = q.Where("source_id = ?", f.SourceID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []reviewItemModel
	if err := q.Order("id DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing review items: %w", err)
	}
	out := make([]*store.ReviewItem, 0, len(models))
	for i := range models {
		out = append(out, models[i].toReviewItem())
	}
	return out, nil
}

// StartRun records the start of a batch run.
func (s *Store) StartRun(ctx context.Context, r *store.Run) error {
	if r.RunID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	m := &runModel{
		RunID:   r.RunID,
		Command: r.Command,
		Source:  r.Source,
		DryRun:  r.DryRun,
		Status:  store.RunRunning,
		Counts:  "{}",
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("run %q already exists", r.RunID)
		}
		return fmt.Errorf("recording run start: %w", err)
	}
	r.ID, r.Status, r.StartedAt = m.ID, m.Status, m.StartedAt
	return nil
}

// FinishRun records the outcome of a run. A nil runErr marks it completed.
func (s *Store) FinishRun(ctx context.Context, runID string, counts map[string]int, runErr error) error {
	if counts == nil {
		counts = map[string]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encoding run counts: %w", err)
	}
	status, msg := store.RunCompleted, ""
	if runErr != nil {
		status, msg = store.RunFailed, runErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":      status,
			"counts":      string(b),
			"error":       msg,
			"finished_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("recording run finish: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %q: %w", runID, store.ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	out := make([]*store.Run, 0, len(models))
	for i := range models {
		out = append(out, models[i].toRun())
	}
	return out, nil
}

// Stats returns row counts and the database size.
func (s *Store) Stats(ctx context.Context) (*store.StoreStats, error) {
	stats := &store.StoreStats{}
	db := s.db.WithContext(ctx)

	counts := []struct {
		name  string
		query *gorm.DB
		dest  *int64
	}{
		{"bookings", db.Model(&bookingModel{}), &stats.BookingCount},
		{"imported", db.Model(&timelineModel{}).Where("event_type = ?", "historical_import").Distinct("booking_id"), &stats.ImportedCount},
		{"linked messages", db.Model(&timelineModel{}).Where("event_type = ?", "email_linked"), &stats.LinkedMessages},
		{"timeline", db.Model(&timelineModel{}), &stats.TimelineCount},
		{"time cards", db.Model(&timeCardModel{}), &stats.TimeCardCount},
		{"inspections", db.Model(&inspectionModel{}), &stats.InspectionCount},
		{"review items", db.Model(&reviewItemModel{}), &stats.ReviewCount},
		{"runs", db.Model(&runModel{}), &stats.RunCount},
		{"linked time cards", db.Model(&bookingModel{}).Where("time_card_id IS NOT NULL"), &stats.LinkedTimeCards},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", c.name, err)
		}
	}

	var span struct {
		Earliest *string
		Latest   *string
	}
	if err := db.Model(&bookingModel{}).
		Select("MIN(tour_date) AS earliest, MAX(tour_date) AS latest").
		Scan(&span).Error; err != nil {
		return nil, fmt.Errorf("querying tour date range: %w", err)
	}
	if span.Earliest != nil {
		stats.EarliestTourDate = *span.Earliest
	}
	if span.Latest != nil {
		stats.LatestTourDate = *span.Latest
	}

	db.Raw("SELECT pg_database_size(current_database())").Scan(&stats.DBSizeBytes)
	return stats, nil
}
