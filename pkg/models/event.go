package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a job lifecycle transition broadcast to downstream consumers.
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCancelled EventType = "job.cancelled"
)

// Event is emitted after a job transition has been persisted.
type Event struct {
	Type    EventType      `json:"type"`
	JobID   uuid.UUID      `json:"job_id"`
	Status  JobStatus      `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}
