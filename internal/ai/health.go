package ai

import (
	"context"
	"log/slog"
	"time"
)

// HealthChecker refreshes the registry's health flags on a fixed interval.
type HealthChecker struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthChecker(registry *Registry, interval time.Duration, logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "ai.health"),
	}
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.refresh(ctx)
	if h.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.refresh(ctx)
		}
	}
}

func (h *HealthChecker) refresh(ctx context.Context) {
	if err := h.registry.Refresh(ctx); err != nil && ctx.Err() == nil {
		h.logger.Warn("health refresh failed", "error", err)
		return
	}
	functional := 0
	for _, d := range h.registry.Descriptors() {
		if d.Functional {
			functional++
		}
	}
	h.logger.Debug("health refreshed", "providers", h.registry.Len(), "functional", functional)
}
