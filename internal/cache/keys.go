package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventsChannel is the pub/sub channel carrying job lifecycle events.
const EventsChannel = "docsift:events"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey names the request counter of one API key for the window starting at windowStart.
func RateLimitKey(keyPrefix string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart.Unix())
}
