package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const bookingColumns = `id, booking_number, customer_name, customer_email, customer_phone, party_size,
	tour_date, start_time, end_time, duration_hours, pickup_location, dropoff_location, stops,
	special_requests, driver_notes, total_price, status, source_tag, driver_id, vehicle_id,
	time_card_id, created_at, updated_at`

// FormatBookingNumber renders an import-scoped booking number ("HIST-00042").
func FormatBookingNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s-%05d", prefix, seq)
}

// ParseBookingSequence extracts the sequence from a number in prefix's namespace.
func ParseBookingSequence(number, prefix string) (int, bool) {
	rest := strings.TrimPrefix(number, prefix+"-")
	if rest == number || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// EscapeLike escapes LIKE wildcards so value matches literally (ESCAPE '\').
func EscapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

// AddBooking inserts a booking and returns its ID.
func (s *SQLiteStore) AddBooking(ctx context.Context, b *Booking) (int64, error) {
	if b.BookingNumber == "" {
		return 0, fmt.Errorf("booking number cannot be empty")
	}
	stops, err := json.Marshal(nonNilStrings(b.Stops))
	if err != nil {
		return 0, fmt.Errorf("encoding stops: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (booking_number, customer_name, customer_email, customer_phone, party_size,
			tour_date, start_time, end_time, duration_hours, pickup_location, dropoff_location, stops,
			special_requests, driver_notes, total_price, status, source_tag, driver_id, vehicle_id, time_card_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BookingNumber, b.CustomerName, strings.ToLower(b.CustomerEmail), b.CustomerPhone, b.PartySize,
		b.TourDate, b.StartTime, b.EndTime, b.DurationHours, b.PickupLocation, b.DropoffLocation, string(stops),
		b.SpecialRequests, b.DriverNotes, b.TotalPrice, b.Status, b.SourceTag,
		nullInt64(b.DriverID), nullInt64(b.VehicleID), nullInt64(b.TimeCardID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("booking number %q already exists", b.BookingNumber)
		}
		return 0, fmt.Errorf("inserting booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting booking ID: %w", err)
	}
	b.ID = id
	return id, nil
}

// GetBooking retrieves a booking by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting booking %d: %w", id, err)
	}
	return b, nil
}

// FindBookingByNumber returns the booking with that number, or nil.
func (s *SQLiteStore) FindBookingByNumber(ctx context.Context, number string) (*Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_number = ?`, number)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding booking %s: %w", number, err)
	}
	return b, nil
}

// FindBookingByDateAndName returns the first booking on date whose customer
// name contains namePrefix (case-insensitive), or nil.
func (s *SQLiteStore) FindBookingByDateAndName(ctx context.Context, date, namePrefix string) (*Booking, error) {
	namePrefix = strings.TrimSpace(namePrefix)
	if namePrefix == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE tour_date = ? AND LOWER(customer_name) LIKE ? ESCAPE '\'
		 ORDER BY id LIMIT 1`,
		date, "%"+EscapeLike(strings.ToLower(namePrefix))+"%")
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding booking on %s for %q: %w", date, namePrefix, err)
	}
	return b, nil
}

// ListBookings returns bookings matching f, ordered by tour date then ID.
func (s *SQLiteStore) ListBookings(ctx context.Context, f BookingFilter) ([]*Booking, error) {
	var where []string
	var args []interface{}
	if f.From != "" {
		where = append(where, "tour_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "tour_date <= ?")
		args = append(args, f.To)
	}
	if f.DriverID != nil {
		where = append(where, "driver_id = ?")
		args = append(args, *f.DriverID)
	}
	if f.Email != "" {
		where = append(where, "customer_email = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(f.Email)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY tour_date, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// MaxBookingSequence returns the highest sequence used under prefix, or 0.
func (s *SQLiteStore) MaxBookingSequence(ctx context.Context, prefix string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT booking_number FROM bookings WHERE booking_number LIKE ? ESCAPE '\'`,
		EscapeLike(prefix)+"-%")
	if err != nil {
		return 0, fmt.Errorf("scanning booking numbers: %w", err)
	}
	defer rows.Close()

	max := 0
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return 0, fmt.Errorf("scanning booking number: %w", err)
		}
		if n, ok := ParseBookingSequence(number, prefix); ok && n > max {
			max = n
		}
	}
	return max, rows.Err()
}

// SetTimeCard links a time card to a booking. Re-linking the same card is a
// no-op; a missing booking returns ErrNotFound.
func (s *SQLiteStore) SetTimeCard(ctx context.Context, bookingID, timeCardID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET time_card_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		timeCardID, bookingID)
	if err != nil {
		return fmt.Errorf("linking time card %d to booking %d: %w", timeCardID, bookingID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var stops string
	var driverID, vehicleID, timeCardID sql.NullInt64

	err := row.Scan(
		&b.ID, &b.BookingNumber, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.PartySize,
		&b.TourDate, &b.StartTime, &b.EndTime, &b.DurationHours, &b.PickupLocation, &b.DropoffLocation, &stops,
		&b.SpecialRequests, &b.DriverNotes, &b.TotalPrice, &b.Status, &b.SourceTag,
		&driverID, &vehicleID, &timeCardID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if stops != "" {
		if err := json.Unmarshal([]byte(stops), &b.Stops); err != nil {
			return nil, fmt.Errorf("decoding stops for booking %d: %w", b.ID, err)
		}
	}
	b.DriverID = int64Ptr(driverID)
	b.VehicleID = int64Ptr(vehicleID)
	b.TimeCardID = int64Ptr(timeCardID)
	return &b, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
