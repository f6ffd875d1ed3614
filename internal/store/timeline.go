package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AddTimelineEntry appends an entry. SourceID defaults to payload.source_id
// and is written back into the payload, so both always agree.
func (s *SQLiteStore) AddTimelineEntry(ctx context.Context, e *TimelineEntry) (int64, error) {
	if e.BookingID == 0 {
		return 0, fmt.Errorf("timeline entry needs a booking id")
	}
	if e.EventType == "" {
		return 0, fmt.Errorf("timeline entry needs an event type")
	}
	payload, err := EncodeTimelinePayload(e)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO booking_timeline (booking_id, event_type, description, payload, source_id)
		 VALUES (?, ?, ?, ?, ?)`,
		e.BookingID, e.EventType, e.Description, payload, nullString(e.SourceID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("booking %d, source %s: %w", e.BookingID, e.SourceID, ErrDuplicateSource)
		}
		return 0, fmt.Errorf("appending timeline entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting timeline entry ID: %w", err)
	}
	e.ID = id
	return id, nil
}

// EncodeTimelinePayload reconciles e.SourceID with the payload's source_id
// and returns the payload as JSON.
func EncodeTimelinePayload(e *TimelineEntry) (string, error) {
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	if e.SourceID == "" {
		if v, ok := e.Payload["source_id"].(string); ok {
			e.SourceID = v
		}
	}
	if e.SourceID != "" {
		e.Payload["source_id"] = e.SourceID
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("encoding timeline payload: %w", err)
	}
	return string(b), nil
}

// FindTimelineBySource returns the oldest entry carrying sourceID, or nil.
func (s *SQLiteStore) FindTimelineBySource(ctx context.Context, sourceID string) (*TimelineEntry, error) {
	if sourceID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, booking_id, event_type, description, payload, source_id, created_at
		 FROM booking_timeline WHERE source_id = ? ORDER BY id LIMIT 1`, sourceID)
	e, err := scanTimelineEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding timeline source %s: %w", sourceID, err)
	}
	return e, nil
}

// ListTimeline returns a booking's entries in insertion order.
func (s *SQLiteStore) ListTimeline(ctx context.Context, bookingID int64) ([]*TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, booking_id, event_type, description, payload, source_id, created_at
		 FROM booking_timeline WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("listing timeline for booking %d: %w", bookingID, err)
	}
	defer rows.Close()

	var entries []*TimelineEntry
	for rows.Next() {
		e, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning timeline entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTimelineEntry(row rowScanner) (*TimelineEntry, error) {
	var e TimelineEntry
	var payload string
	var sourceID sql.NullString
	if err := row.Scan(&e.ID, &e.BookingID, &e.EventType, &e.Description, &payload, &sourceID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.SourceID = sourceID.String
	e.Payload = map[string]interface{}{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of timeline entry %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
