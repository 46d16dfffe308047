package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/circuit"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

type countingFailures struct{ n int }

func (c *countingFailures) IncNotifyFailures() { c.n++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() models.Event {
	return models.Event{
		Type:       models.EventRecordCreated,
		DatasetID:  domain.NewDatasetID(),
		RecordID:   domain.NewRecordID(),
		Version:    1,
		Actor:      domain.UserActor(domain.UserID(uuid.New())),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRoutingKey(t *testing.T) {
	e := sampleEvent()
	assert.Equal(t, "dataset."+e.DatasetID.String()+".record.created", RoutingKey(e))
}

func TestNotifyPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "", WithLogger(discardLogger()))
	e := sampleEvent()

	p.Notify(context.Background(), e)

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, RoutingKey(e), got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "record.created", got.msg.Type)
	assert.NotEmpty(t, got.msg.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "record.created", decoded["type"])
	assert.Equal(t, e.DatasetID.String(), decoded["dataset_id"])
}

func TestNotifyFailuresAreCountedAndOpenTheCircuit(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	failures := &countingFailures{}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	p := New(ch, "events", WithLogger(discardLogger()), WithFailureCounter(failures), WithBreaker(breaker))

	p.Notify(context.Background(), sampleEvent())
	p.Notify(context.Background(), sampleEvent())
	assert.True(t, breaker.IsOpen())
	assert.Error(t, p.Health())

	// Open circuit drops without touching the channel.
	ch.err = nil
	p.Notify(context.Background(), sampleEvent())
	assert.Empty(t, ch.sent)
	assert.Equal(t, 3, failures.n)

	// After the cooldown one probe goes through and closes the circuit.
	now = now.Add(2 * time.Minute)
	p.Notify(context.Background(), sampleEvent())
	assert.Len(t, ch.sent, 1)
	assert.False(t, breaker.IsOpen())
	assert.NoError(t, p.Health())
}

func TestNotifyIgnoresCallerCancellation(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "events", WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Notify(ctx, sampleEvent())
	assert.Len(t, ch.sent, 1)
}
