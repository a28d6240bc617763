package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status change is not an edge of the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	APIKeyStore
}

// JobStore is the job gateway used by the scheduler. Status only ever changes through
// CompareAndSetStatus.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// CompareAndSetStatus moves job id from expected to next and applies opts, atomically.
	// It returns false, nil when the job exists but is no longer in expected.
	// expected == next performs a field-only update under the same guard.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, opts ...JobUpdateOption) (bool, error)
	DeleteJob(ctx context.Context, id uuid.UUID) (bool, error)
	JobStats(ctx context.Context) (*models.JobStats, error)
}

type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// JobFilter selects jobs for ListJobs. Zero fields do not filter.
type JobFilter struct {
	Status          models.JobStatus
	Kind            models.JobKind
	Provider        string
	GroupID         string
	CompletedBefore time.Time
	// DueBy keeps only jobs whose not_before is unset or not after DueBy.
	DueBy time.Time
	// OldestFirst orders by created_at ascending; the default is newest first.
	OldestFirst bool
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// normalizeLimit applies the default and maximum page size.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

type jobUpdateParams struct {
	ErrorMessage      *string
	ClearError        bool
	Result            *string
	Provider          *string
	Model             *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ClearCompletedAt  bool
	RetryCount        *int
	NotBefore         *time.Time
	ClearNotBefore    bool
	CancelRequestedAt *time.Time
	ClearCancel       bool
}

type JobUpdateOption func(*jobUpdateParams)

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	p := &jobUpdateParams{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
		p.ClearError = false
	}
}

func ClearErrorMessage() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = nil
		p.ClearError = true
	}
}

func WithResult(result string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &result
	}
}

func WithProvider(provider, model string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Provider = &provider
		p.Model = &model
	}
}

// WithStartedAt sets started_at only if it has never been set.
func WithStartedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.StartedAt = &t
	}
}

func WithCompletedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CompletedAt = &t
		p.ClearCompletedAt = false
	}
}

func ClearCompletedAt() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CompletedAt = nil
		p.ClearCompletedAt = true
	}
}

func WithRetryCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RetryCount = &n
	}
}

// WithNotBefore sets the earliest re-claim time; a zero t clears it.
func WithNotBefore(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		if t.IsZero() {
			p.NotBefore = nil
			p.ClearNotBefore = true
			return
		}
		p.NotBefore = &t
		p.ClearNotBefore = false
	}
}

// WithCancelRequested records a cancel request. An existing one is kept.
func WithCancelRequested(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CancelRequestedAt = &t
		p.ClearCancel = false
	}
}

func ClearCancelRequested() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CancelRequestedAt = nil
		p.ClearCancel = true
	}
}

// checkTransition validates expected -> next against the job state machine.
func checkTransition(expected, next models.JobStatus) error {
	if expected == next || models.CanTransition(expected, next) {
		return nil
	}
	return &TransitionError{From: expected, To: next}
}

// TransitionError reports a rejected status edge. It matches ErrInvalidTransition.
type TransitionError struct {
	From, To models.JobStatus
}

func (e *TransitionError) Error() string {
	return "invalid job status transition: " + string(e.From) + " -> " + string(e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
