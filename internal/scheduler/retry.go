package scheduler

import (
	"time"

	"github.com/kiranshivaraju/docsift/internal/ai"
)

// ShouldRetry decides whether a failed attempt goes back to PENDING. Terminal kinds never
// retry; transient kinds retry while retryCount < maxRetries.
func ShouldRetry(kind ai.ErrorKind, retryCount, maxRetries int) bool {
	if !kind.Transient() {
		return false
	}
	return retryCount < maxRetries
}

// Backoff returns base * 2^retryCount, capped at max. A non-positive base disables the delay.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && d >= max {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
