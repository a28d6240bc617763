package models

// jobTransitions lists every permitted status edge. Nothing else may change a job's status.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
// The retry bound on FAILED -> PENDING is enforced by the scheduler, which knows max_retries.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a job in status s can never run again.
// FAILED is terminal only once retries are exhausted.
func IsTerminal(s JobStatus, retryCount, maxRetries int) bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return retryCount >= maxRetries
	}
	return false
}
