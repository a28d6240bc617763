package scheduler

import (
	"errors"

	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/internal/store"
)

var (
	// ErrInvalidRequest wraps every submission validation failure. No job is created.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidState is returned when Cancel or Retry is not valid for the job's status.
	ErrInvalidState = errors.New("invalid job state")
	// ErrAlreadyTerminal is returned by Cancel on a finished job. Callers should treat it as a no-op.
	ErrAlreadyTerminal = errors.New("job already terminal")

	ErrJobNotFound         = store.ErrNotFound
	ErrNoProviderAvailable = ai.ErrNoProviderAvailable
	ErrCancelledByUser     = ai.ErrCancelledByUser
)

// errShuttingDown is the cancel cause of in-flight jobs when shutdown runs out of time.
var errShuttingDown = errors.New("scheduler shutting down")
