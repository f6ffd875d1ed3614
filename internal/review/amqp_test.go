package review

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPQueueEnqueue(t *testing.T) {
	ch := &fakeChannel{}
	fixed := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	q := &AMQPQueue{ch: ch, exchange: DefaultExchange, now: func() time.Time { return fixed }}

	err := q.Enqueue(context.Background(), Item{
		RunID:    "run-7",
		Kind:     "unmatched_message",
		SourceID: "email:m1",
		Label:    "Question about Saturday",
	})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)

	got := ch.sent[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, "review.unmatched_message", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "email:m1", got.msg.MessageId)

	var body Item
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "run-7", body.RunID)
	assert.True(t, body.CreatedAt.Equal(fixed))

	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}

func TestAMQPQueuePublishError(t *testing.T) {
	q := &AMQPQueue{ch: &fakeChannel{err: errors.New("channel closed")}, exchange: "x", now: time.Now}
	err := q.Enqueue(context.Background(), Item{Kind: "low_confidence", SourceID: "calendar:e2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar:e2")
}
