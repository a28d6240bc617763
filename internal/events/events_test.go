package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/cache"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock cache ---

type mockCache struct {
	mu         sync.Mutex
	statuses   map[uuid.UUID]string
	ttls       map[uuid.UUID]time.Duration
	subs       []chan []byte
	publishErr error
}

func newMockCache() *mockCache {
	return &mockCache{statuses: map[uuid.UUID]string{}, ttls: map[uuid.UUID]time.Duration{}}
}

func (m *mockCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (m *mockCache) Get(context.Context, string) ([]byte, bool, error)       { return nil, false, nil }
func (m *mockCache) Delete(context.Context, string) error                    { return nil }
func (m *mockCache) Ping(context.Context) error                              { return nil }
func (m *mockCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (m *mockCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	m.ttls[id] = ttl
	return nil
}

func (m *mockCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	return s, ok, nil
}

func (m *mockCache) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	for _, ch := range m.subs {
		ch <- payload
	}
	return nil
}

func (m *mockCache) Subscribe(context.Context, string) (cache.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []byte, 8)
	m.subs = append(m.subs, ch)
	return &mockSub{ch: ch}, nil
}

type mockSub struct {
	ch chan []byte
}

func (s *mockSub) Messages() <-chan []byte { return s.ch }
func (s *mockSub) Close() error            { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestRedisNotifier_PublishMirrorsStatus(t *testing.T) {
	c := newMockCache()
	n := events.NewRedisNotifier(c, discardLogger())
	id := uuid.New()

	err := n.Publish(context.Background(), models.Event{
		Type: models.EventJobStarted, JobID: id, Status: models.JobStatusProcessing, At: time.Now(),
	})
	require.NoError(t, err)

	status, ok, _ := c.GetJobStatus(context.Background(), id)
	assert.True(t, ok)
	assert.Equal(t, "processing", status)
	assert.Equal(t, events.JobStatusTTL, c.ttls[id])
}

func TestRedisNotifier_PublishError(t *testing.T) {
	c := newMockCache()
	c.publishErr = errors.New("connection refused")
	n := events.NewRedisNotifier(c, discardLogger())

	err := n.Publish(context.Background(), models.Event{Type: models.EventJobFailed, JobID: uuid.New()})
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisNotifier_SubscribeDecodes(t *testing.T) {
	c := newMockCache()
	n := events.NewRedisNotifier(c, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop, err := n.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	id := uuid.New()
	require.NoError(t, c.Publish(ctx, cache.EventsChannel, []byte("not json")))
	require.NoError(t, n.Publish(ctx, models.Event{
		Type: models.EventJobCompleted, JobID: id, Status: models.JobStatusCompleted,
		Payload: map[string]any{"provider": "mock"},
	}))

	select {
	case ev := <-ch:
		assert.Equal(t, models.EventJobCompleted, ev.Type)
		assert.Equal(t, id, ev.JobID)
		assert.Equal(t, "mock", ev.Payload["provider"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisNotifier_SubscribeClosesOnCancel(t *testing.T) {
	n := events.NewRedisNotifier(newMockCache(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	ch, stop, err := n.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNopNotifier(t *testing.T) {
	assert.NoError(t, events.NopNotifier{}.Publish(context.Background(), models.Event{}))
}
