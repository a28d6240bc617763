package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/docsift/internal/api/response"
	"github.com/kiranshivaraju/docsift/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit counts requests per API key in clock-aligned one-minute windows stored in Redis.
// Every key gets requestsPerMin requests per window; the counter rolls over at the window edge.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// WithClock replaces the time source. Tests use it to pin the window.
func (rl *RateLimit) WithClock(now func() time.Time) *RateLimit {
	rl.now = now
	return rl
}

// Limit applies the limit to requests that passed Authenticate. Anything else passes through.
// Redis errors fail open.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		windowStart := now.Truncate(rateWindow)
		reset := windowStart.Add(rateWindow)

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, windowStart), rateWindow)
		if err != nil {
			slog.Warn("rate limit check failed", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retryAfter := int(reset.Sub(now).Round(time.Second) / time.Second)
			h.Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			slog.Debug("rate limit exceeded", "key_prefix", prefix, "count", count, "request_id", chimw.GetReqID(r.Context()))
			response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
