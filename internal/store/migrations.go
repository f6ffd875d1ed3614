package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schemaVersion is bumped when the bootstrap DDL changes shape.
const schemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata outside the bootstrap transaction; the meta table exists by now.
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Rows written by other tools may only carry the id inside the payload.
	if err := s.backfillTimelineSourceIDs(); err != nil {
		return fmt.Errorf("backfilling timeline source ids: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS time_cards (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			driver_id  INTEGER NOT NULL,
			work_date  TEXT NOT NULL,
			clock_in   TEXT NOT NULL DEFAULT '',
			clock_out  TEXT NOT NULL DEFAULT '',
			vehicle_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_time_cards_driver_date ON time_cards(driver_id, work_date)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_number   TEXT NOT NULL UNIQUE,
			customer_name    TEXT NOT NULL,
			customer_email   TEXT NOT NULL DEFAULT '',
			customer_phone   TEXT NOT NULL DEFAULT '',
			party_size       INTEGER NOT NULL,
			tour_date        TEXT NOT NULL,
			start_time       TEXT NOT NULL DEFAULT '',
			end_time         TEXT NOT NULL DEFAULT '',
			duration_hours   REAL NOT NULL DEFAULT 0,
			pickup_location  TEXT NOT NULL DEFAULT '',
			dropoff_location TEXT NOT NULL DEFAULT '',
			stops            TEXT NOT NULL DEFAULT '[]',
			special_requests TEXT NOT NULL DEFAULT '',
			driver_notes     TEXT NOT NULL DEFAULT '',
			total_price      REAL NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'confirmed',
			source_tag       TEXT NOT NULL DEFAULT '',
			driver_id        INTEGER,
			vehicle_id       INTEGER,
			time_card_id     INTEGER REFERENCES time_cards(id),
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_tour_date ON bookings(tour_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_email ON bookings(customer_email)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_driver_date ON bookings(driver_id, tour_date)`,

		// Append-only timeline; also the dedup ledger keyed by source_id.
		`CREATE TABLE IF NOT EXISTS booking_timeline (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id  INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
			event_type  TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL DEFAULT '{}',
			source_id   TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_booking ON booking_timeline(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_source ON booking_timeline(source_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_timeline_booking_source
		 ON booking_timeline(booking_id, source_id)
		 WHERE source_id IS NOT NULL AND source_id != ''`,

		`CREATE TABLE IF NOT EXISTS inspections (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			driver_id       INTEGER NOT NULL,
			vehicle_id      INTEGER,
			inspection_date TEXT NOT NULL,
			inspection_type TEXT NOT NULL CHECK(inspection_type IN ('pre_trip','post_trip')),
			passed          INTEGER NOT NULL DEFAULT 1,
			notes           TEXT NOT NULL DEFAULT '',
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inspections_driver_date ON inspections(driver_id, inspection_date)`,

		`CREATE TABLE IF NOT EXISTS review_items (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			kind       TEXT NOT NULL CHECK(kind IN ('low_confidence','unmatched_message')),
			source_id  TEXT NOT NULL DEFAULT '',
			label      TEXT NOT NULL DEFAULT '',
			reason     TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_items_run ON review_items(run_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_review_items_source ON review_items(kind, source_id)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL UNIQUE,
			command     TEXT NOT NULL,
			source      TEXT NOT NULL DEFAULT '',
			dry_run     INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'running',
			counts      TEXT NOT NULL DEFAULT '{}',
			error       TEXT NOT NULL DEFAULT '',
			started_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

// backfillTimelineSourceIDs copies payload.source_id into the indexed column.
// Rows that would collide with an existing (booking, source) pair are left alone.
func (s *SQLiteStore) backfillTimelineSourceIDs() error {
	_, err := s.db.Exec(`
		UPDATE OR IGNORE booking_timeline
		SET source_id = json_extract(payload, '$.source_id')
		WHERE (source_id IS NULL OR source_id = '')
		  AND json_valid(payload)
		  AND json_extract(payload, '$.source_id') IS NOT NULL`)
	return err
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// getMetaValue returns the value for key, or "" when unset.
func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
