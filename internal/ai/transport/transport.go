// Package transport holds the HTTP plumbing shared by the AI provider clients.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// maxErrorBody bounds how much of a provider's error body is kept in error messages.
const maxErrorBody = 512

// NewClient returns a resty client for an AI backend rooted at baseURL.
// Retries stay off: the scheduler's retry policy decides whether a call is repeated.
func NewClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// Check maps the outcome of a resty call onto the provider error sentinels.
// It returns nil only for a 2xx response.
func Check(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return classifyTransportError(provider, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	return statusError(provider, resp.StatusCode(), resp.String())
}

func classifyTransportError(provider string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", provider, models.ErrInferenceTimeout, err)
	case errors.Is(err, context.Canceled):
		// Keep the context error in the chain so callers can read the cancel cause.
		return fmt.Errorf("%s: %w", provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", provider, models.ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", provider, models.ErrProviderUnavailable, err)
}

func statusError(provider string, status int, body string) error {
	body = truncate(body, maxErrorBody)
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: status %d: %s", provider, models.ErrRateLimited, status, body)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w: status %d: %s", provider, models.ErrInferenceTimeout, status, body)
	case status >= 500:
		return fmt.Errorf("%s: %w: status %d: %s", provider, models.ErrProviderUnavailable, status, body)
	default:
		return fmt.Errorf("%s: %w: status %d: %s", provider, models.ErrProviderRejected, status, body)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
