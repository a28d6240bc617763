package scheduler

import (
	"fmt"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

// checkRetryEdge validates FAILED -> PENDING against the retry budget. All other edges are
// checked by the store before it writes.
func checkRetryEdge(job *models.Job, maxRetries int) error {
	if job.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: job %s is %s, only failed jobs can be retried", ErrInvalidState, job.ID, job.Status)
	}
	if job.RetryCount >= maxRetries {
		return fmt.Errorf("%w: job %s has used all %d retries", ErrInvalidState, job.ID, maxRetries)
	}
	return nil
}
