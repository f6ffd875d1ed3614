package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AddReviewItem stores an item for human review.
func (s *SQLiteStore) AddReviewItem(ctx context.Context, item *ReviewItem) (int64, error) {
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

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO review_items (run_id, kind, source_id, label, reason, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		item.RunID, item.Kind, item.SourceID, item.Label, item.Reason, string(b),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting review item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting review item ID: %w", err)
	}
	item.ID = id
	return id, nil
}

// ListReviewItems returns review items, newest first.
func (s *SQLiteStore) ListReviewItems(ctx context.Context, f ReviewFilter) ([]*ReviewItem, error) {
	var where []string
	var args []interface{}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}

	query := `SELECT id, run_id, kind, source_id, label, reason, payload, created_at FROM review_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing review items: %w", err)
	}
	defer rows.Close()

	var items []*ReviewItem
	for rows.Next() {
		var item ReviewItem
		var payload string
		if err := rows.Scan(&item.ID, &item.RunID, &item.Kind, &item.SourceID, &item.Label, &item.Reason, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning review item: %w", err)
		}
		item.Payload = map[string]interface{}{}
		if payload != "" {
			json.Unmarshal([]byte(payload), &item.Payload)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
