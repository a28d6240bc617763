package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"golang.org/x/time/rate"
)

// Executor runs a single AI call against a registered provider under a per-job timeout
// and a per-provider request rate.
type Executor struct {
	registry *Registry
	rpm      int
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExecutor creates an Executor. requestsPerMinute <= 0 disables pacing.
func NewExecutor(registry *Registry, requestsPerMinute int, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		rpm:      requestsPerMinute,
		logger:   logger.With("component", "ai.executor"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Execute sends prompt and content to the named provider. The returned error always
// classifies through Classify: a user cancel on ctx yields ErrCancelledByUser and an
// expired timeout yields ErrInferenceTimeout.
func (e *Executor) Execute(ctx context.Context, provider, model, prompt, content string, timeout time.Duration) (models.ExecuteResult, error) {
	p, ok := e.registry.Provider(provider)
	if !ok {
		return models.ExecuteResult{}, fmt.Errorf("%w: %w: %q", ErrProviderUnavailable, ErrUnknownProvider, provider)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := e.wait(ctx, provider); err != nil {
		err = e.normalize(ctx, provider, timeout, fmt.Errorf("%w: %w", ErrRateLimited, err))
		e.observe(provider, start, err)
		return models.ExecuteResult{}, err
	}

	res, err := p.Execute(ctx, models.ExecuteRequest{Model: model, Prompt: prompt, Content: content})
	if err != nil {
		err = e.normalize(ctx, provider, timeout, err)
		e.observe(provider, start, err)
		return models.ExecuteResult{}, err
	}

	// A call that ignored cancellation still loses its result.
	if cause := context.Cause(ctx); errors.Is(cause, ErrCancelledByUser) {
		err = fmt.Errorf("%s: %w", provider, ErrCancelledByUser)
		e.observe(provider, start, err)
		return models.ExecuteResult{}, err
	}

	e.observe(provider, start, nil)
	metrics.ProviderTokensTotal.WithLabelValues(provider, "input").Add(float64(res.InputTokens))
	metrics.ProviderTokensTotal.WithLabelValues(provider, "output").Add(float64(res.OutputTokens))
	if res.Model == "" {
		res.Model = model
	}
	return res, nil
}

func (e *Executor) normalize(ctx context.Context, provider string, timeout time.Duration, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCancelledByUser):
		return fmt.Errorf("%s: %w", provider, ErrCancelledByUser)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout):
		return fmt.Errorf("%s: %w after %s: %w", provider, ErrInferenceTimeout, timeout, err)
	}
	return err
}

func (e *Executor) observe(provider string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(Classify(err))
		e.logger.Debug("provider call failed", "provider", provider, "kind", result, "error", err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(provider, result).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (e *Executor) wait(ctx context.Context, provider string) error {
	if e.rpm <= 0 {
		return nil
	}
	e.mu.Lock()
	lim, ok := e.limiters[provider]
	if !ok {
		burst := e.rpm / 30
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(e.rpm)/60.0), burst)
		e.limiters[provider] = lim
	}
	e.mu.Unlock()
	return lim.Wait(ctx)
}
