package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/docsift/internal/api/response"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// refreshTimeout bounds an operator-triggered health refresh.
const refreshTimeout = 15 * time.Second

// ProviderRegistry is the read and refresh surface of the provider registry.
type ProviderRegistry interface {
	Descriptors() []models.ProviderDescriptor
	Refresh(ctx context.Context) error
}

// NewListProvidersHandler returns an http.HandlerFunc for GET /api/v1/providers.
// Health flags are the last values recorded by the health checker.
func NewListProvidersHandler(reg ProviderRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, reg.Descriptors())
	}
}

// NewRefreshProvidersHandler returns an http.HandlerFunc for POST /api/v1/providers/refresh.
// It probes every provider now and returns the updated descriptors.
func NewRefreshProvidersHandler(reg ProviderRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
		defer cancel()

		if err := reg.Refresh(ctx); err != nil {
			slog.Warn("provider refresh failed", "error", err)
			response.Error(w, http.StatusGatewayTimeout, "REFRESH_FAILED", "Provider health refresh did not finish", nil)
			return
		}
		response.JSON(w, reg.Descriptors())
	}
}
