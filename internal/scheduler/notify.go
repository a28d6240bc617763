package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

const publishTimeout = 5 * time.Second

// notifier publishes through an events.Notifier and swallows every failure. A transition
// is already persisted by the time its event is sent.
type notifier struct {
	inner  events.Notifier
	logger *slog.Logger
	now    func() time.Time
}

func newNotifier(inner events.Notifier, logger *slog.Logger) *notifier {
	if inner == nil {
		inner = events.NopNotifier{}
	}
	return &notifier{inner: inner, logger: logger, now: time.Now}
}

func (n *notifier) emit(typ models.EventType, id uuid.UUID, status models.JobStatus, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event notifier panicked", "event", typ, "job_id", id, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	ev := models.Event{Type: typ, JobID: id, Status: status, Payload: payload, At: n.now().UTC()}
	if err := n.inner.Publish(ctx, ev); err != nil {
		n.logger.Warn("publish event failed", "event", typ, "job_id", id, "error", err)
	}
}
