// Package review routes records that need a human decision (low-confidence
// imports, unmatched messages) to one or more destinations.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hurttlocker/bookrecon/internal/store"
)

// Item is one record routed to human review.
type Item struct {
	RunID     string                 `json:"run_id"`
	Kind      string                 `json:"kind"`
	SourceID  string                 `json:"source_id"`
	Label     string                 `json:"label"`
	Reason    string                 `json:"reason"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Queue accepts review items.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
}

// StoreQueue persists review items in the review_items table.
type StoreQueue struct {
	store store.ReviewStore
}

// NewStoreQueue returns a queue writing to s.
func NewStoreQueue(s store.ReviewStore) *StoreQueue {
	return &StoreQueue{store: s}
}

// Enqueue implements Queue.
func (q *StoreQueue) Enqueue(ctx context.Context, item Item) error {
	_, err := q.store.AddReviewItem(ctx, &store.ReviewItem{
		RunID:    item.RunID,
		Kind:     item.Kind,
		SourceID: item.SourceID,
		Label:    item.Label,
		Reason:   item.Reason,
		Payload:  item.Payload,
	})
	if err != nil {
		return fmt.Errorf("storing review item %s: %w", item.SourceID, err)
	}
	return nil
}

// Fanout delivers each item to every queue. All queues are attempted; the
// errors of those that failed are joined.
type Fanout []Queue

// Enqueue implements Queue.
func (f Fanout) Enqueue(ctx context.Context, item Item) error {
	var errs []error
	for _, q := range f {
		if q == nil {
			continue
		}
		if err := q.Enqueue(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every item.
type Discard struct{}

// Enqueue implements Queue.
func (Discard) Enqueue(context.Context, Item) error { return nil }
