package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, st := range AllJobStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// JobKind determines how a job's subject is interpreted.
type JobKind string

const (
	JobKindGeneral    JobKind = "general"
	JobKindCustom     JobKind = "custom"
	JobKindComparison JobKind = "comparison"
	JobKindMultipleAI JobKind = "multiple_ai"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindGeneral, JobKindCustom, JobKindComparison, JobKindMultipleAI:
		return true
	}
	return false
}

// ProviderUnknown is recorded on jobs created while no functional provider existed.
const ProviderUnknown = "unknown"

// Metadata keys written by the scheduler. Everything else in Job.Metadata belongs to the caller.
const (
	MetaGroupID  = "group_id"
	MetaDegraded = "degraded"
)

// Job is one unit of analysis work. The API returns its id on submission; the client polls
// GET /api/v1/jobs/{id} until status is terminal.
type Job struct {
	ID                uuid.UUID         `db:"id"                  json:"id"`
	SubjectRef        string            `db:"subject_ref"         json:"subject_ref"`
	Kind              JobKind           `db:"kind"                json:"kind"`
	Status            JobStatus         `db:"status"              json:"status"`
	Provider          string            `db:"provider"            json:"provider"`
	Model             string            `db:"model"               json:"model"`
	ProviderPriority  []string          `db:"provider_priority"   json:"provider_priority,omitempty"`
	PromptText        string            `db:"prompt_text"         json:"prompt_text"`
	Result            *string           `db:"result"              json:"result,omitempty"`
	ErrorMessage      *string           `db:"error_message"       json:"error_message,omitempty"`
	RetryCount        int               `db:"retry_count"         json:"retry_count"`
	Metadata          map[string]string `db:"metadata"            json:"metadata,omitempty"`
	CancelRequestedAt *time.Time        `db:"cancel_requested_at" json:"cancel_requested_at,omitempty"`
	NotBefore         *time.Time        `db:"not_before"          json:"not_before,omitempty"`
	CreatedAt         time.Time         `db:"created_at"          json:"created_at"`
	StartedAt         *time.Time        `db:"started_at"          json:"started_at,omitempty"`
	CompletedAt       *time.Time        `db:"completed_at"        json:"completed_at,omitempty"`
	UpdatedAt         time.Time         `db:"updated_at"          json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ProviderPriority != nil {
		c.ProviderPriority = append([]string(nil), j.ProviderPriority...)
	}
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Result = cloneString(j.Result)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.CancelRequestedAt = cloneTime(j.CancelRequestedAt)
	c.NotBefore = cloneTime(j.NotBefore)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobStats is a read-only aggregate over all stored jobs.
type JobStats struct {
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// Add increments the counter for status by n.
func (s *JobStats) Add(status JobStatus, n int) {
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusProcessing:
		s.Processing += n
	case JobStatusCompleted:
		s.Completed += n
	case JobStatusFailed:
		s.Failed += n
	case JobStatusCancelled:
		s.Cancelled += n
	}
}
