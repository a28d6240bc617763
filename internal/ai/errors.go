package ai

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Provider-level failures. Provider packages return the models sentinels; they are
// re-exported here so callers only need this package.
var (
	ErrProviderUnavailable = models.ErrProviderUnavailable
	ErrInferenceTimeout    = models.ErrInferenceTimeout
	ErrRateLimited         = models.ErrRateLimited
	ErrProviderRejected    = models.ErrProviderRejected
	ErrInvalidResponse     = models.ErrInvalidResponse
)

var (
	ErrNoProviderAvailable = errors.New("no functional ai provider available")
	ErrUnknownProvider     = errors.New("unknown ai provider")
	ErrDuplicateProvider   = errors.New("ai provider already registered")
	// ErrCancelledByUser is the cancel cause set on a job context when Cancel reaches a running job.
	ErrCancelledByUser = errors.New("cancelled by user")
)

// ErrorKind is the scheduler-facing classification of a failed job attempt.
type ErrorKind string

const (
	KindInvalidRequest         ErrorKind = "invalid_request"
	KindNoProviderAvailable    ErrorKind = "no_provider_available"
	KindTimeout                ErrorKind = "timeout"
	KindProviderUnavailable    ErrorKind = "provider_unavailable"
	KindRateLimited            ErrorKind = "rate_limited"
	KindPermanentProviderError ErrorKind = "permanent_provider_error"
	KindCancelledByUser        ErrorKind = "cancelled_by_user"
)

// Transient reports whether another attempt could succeed.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindProviderUnavailable, KindRateLimited, KindNoProviderAvailable:
		return true
	}
	return false
}

// Classify maps an execution error onto an ErrorKind. Unrecognised errors are treated as
// ProviderUnavailable so an unexpected transport failure is retried rather than lost.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelledByUser):
		return KindCancelledByUser
	case errors.Is(err, models.ErrSubjectNotFound), errors.Is(err, models.ErrInvalidSubject),
		errors.Is(err, models.ErrSubjectRejected):
		return KindInvalidRequest
	case errors.Is(err, ErrNoProviderAvailable):
		return KindNoProviderAvailable
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInferenceTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrProviderRejected):
		return KindPermanentProviderError
	default:
		return KindProviderUnavailable
	}
}
