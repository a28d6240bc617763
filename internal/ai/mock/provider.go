package mock

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing and for local runs without credentials.
type MockProvider struct {
	Name_       string
	ExecuteFunc func(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error)
	PingFunc    func(ctx context.Context) error
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return models.ExecuteResult{}, nil
}

func (m *MockProvider) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ExecuteFunc: func(_ context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
			model := req.Model
			if model == "" {
				model = "mock-v1"
			}
			return models.ExecuteResult{
				Text:         fmt.Sprintf("Mock analysis of %d bytes", len(req.Content)),
				Model:        model,
				InputTokens:  len(req.Prompt) + len(req.Content),
				OutputTokens: 8,
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ExecuteFunc: func(_ context.Context, _ models.ExecuteRequest) (models.ExecuteResult, error) {
			return models.ExecuteResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ExecuteFunc: func(ctx context.Context, _ models.ExecuteRequest) (models.ExecuteResult, error) {
			<-ctx.Done()
			return models.ExecuteResult{}, fmt.Errorf("%w: %w", models.ErrInferenceTimeout, ctx.Err())
		},
	}
}

// NewDownProvider returns a MockProvider whose health check always fails.
func NewDownProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		PingFunc: func(context.Context) error {
			return models.ErrProviderUnavailable
		},
		ExecuteFunc: func(context.Context, models.ExecuteRequest) (models.ExecuteResult, error) {
			return models.ExecuteResult{}, models.ErrProviderUnavailable
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
