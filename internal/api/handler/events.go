package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/api/response"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// sseKeepAlive is how often an idle event stream sends a comment line.
const sseKeepAlive = 15 * time.Second

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/events.
// It streams job events as server-sent events until the client disconnects.
// Optional query: job_id restricts the stream to one job.
func NewEventsHandler(sub events.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var only uuid.UUID
		if raw := r.URL.Query().Get("job_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id must be a valid UUID", nil)
				return
			}
			only = id
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
			return
		}

		ctx := r.Context()
		stream, stop, err := sub.Subscribe(ctx)
		if err != nil {
			slog.Error("subscribe to events failed", "error", err)
			response.Error(w, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Event stream is unavailable", nil)
			return
		}
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-stream:
				if !ok {
					return
				}
				if only != uuid.Nil && ev.JobID != only {
					continue
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
