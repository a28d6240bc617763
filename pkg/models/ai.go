// Package models contains shared data models used across the docsift codebase.
package models

import (
	"context"
	"errors"
	"time"
)

// AIProvider is the core interface that all AI integrations must implement.
// The scheduler reaches providers only through the registry and executor.
type AIProvider interface {
	// Execute sends a resolved prompt plus subject content to the backend.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	// Ping performs a cheap liveness call used by the health checker.
	Ping(ctx context.Context) error
	// Name returns the provider type identifier (e.g., "ollama", "openai").
	Name() string
}

// ExecuteRequest is the input to a single AI call.
type ExecuteRequest struct {
	Model     string
	Prompt    string
	Content   string
	MaxTokens int
}

// ExecuteResult is the output of a single AI call.
type ExecuteResult struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ProviderDescriptor describes a registered AI backend and its last known health.
type ProviderDescriptor struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	DefaultModel  string     `json:"default_model"`
	Priority      int        `json:"priority"`
	Functional    bool       `json:"functional"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Errors returned by provider and collaborator implementations. The scheduler classifies
// failures by matching these with errors.Is.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrProviderRejected    = errors.New("ai provider rejected request")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrSubjectRejected     = errors.New("subject source rejected request")
)
