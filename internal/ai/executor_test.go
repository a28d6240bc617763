package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "openai", "gpt-4", 0, true)
	var got models.ExecuteRequest
	p.ExecuteFunc = func(_ context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
		got = req
		return models.ExecuteResult{Text: "done"}, nil
	}

	res, err := ai.NewExecutor(reg, 0, discardLogger()).
		Execute(context.Background(), "openai", "gpt-4", "prompt", "content", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, "gpt-4", res.Model, "model falls back to the requested one")
	assert.Equal(t, models.ExecuteRequest{Model: "gpt-4", Prompt: "prompt", Content: "content"}, got)
}

func TestExecute_UnknownProvider(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	_, err := ai.NewExecutor(reg, 0, discardLogger()).
		Execute(context.Background(), "ghost", "", "p", "c", time.Second)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
	assert.Equal(t, ai.KindProviderUnavailable, ai.Classify(err))
}

func TestExecute_TimeoutClassifiedAsTimeout(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "slow", "m", 0, true)
	p.ExecuteFunc = func(ctx context.Context, _ models.ExecuteRequest) (models.ExecuteResult, error) {
		<-ctx.Done()
		return models.ExecuteResult{}, fmt.Errorf("transport: %w", ctx.Err())
	}

	_, err := ai.NewExecutor(reg, 0, discardLogger()).
		Execute(context.Background(), "slow", "m", "p", "c", 30*time.Millisecond)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.Equal(t, ai.KindTimeout, ai.Classify(err))
}

func TestExecute_UserCancelWinsOverTimeout(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "slow", "m", 0, true)
	p.ExecuteFunc = func(ctx context.Context, _ models.ExecuteRequest) (models.ExecuteResult, error) {
		<-ctx.Done()
		return models.ExecuteResult{}, ai.ErrInferenceTimeout
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(ai.ErrCancelledByUser)
	}()

	_, err := ai.NewExecutor(reg, 0, discardLogger()).Execute(ctx, "slow", "m", "p", "c", time.Minute)
	assert.ErrorIs(t, err, ai.ErrCancelledByUser)
	assert.Equal(t, ai.KindCancelledByUser, ai.Classify(err))
}

func TestExecute_ResultDiscardedWhenCancelledDuringCall(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "stubborn", "m", 0, true)

	ctx, cancel := context.WithCancelCause(context.Background())
	p.ExecuteFunc = func(_ context.Context, _ models.ExecuteRequest) (models.ExecuteResult, error) {
		cancel(ai.ErrCancelledByUser)
		return models.ExecuteResult{Text: "ignored cancellation"}, nil
	}

	res, err := ai.NewExecutor(reg, 0, discardLogger()).Execute(ctx, "stubborn", "m", "p", "c", time.Minute)
	assert.ErrorIs(t, err, ai.ErrCancelledByUser)
	assert.Empty(t, res.Text)
}

func TestExecute_ProviderErrorPassesThrough(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "strict", "m", 0, true)
	p.ExecuteFunc = func(context.Context, models.ExecuteRequest) (models.ExecuteResult, error) {
		return models.ExecuteResult{}, fmt.Errorf("strict: %w: status 400", models.ErrProviderRejected)
	}

	_, err := ai.NewExecutor(reg, 0, discardLogger()).Execute(context.Background(), "strict", "m", "p", "c", time.Second)
	assert.Equal(t, ai.KindPermanentProviderError, ai.Classify(err))
}

func TestExecute_RatePacing(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	register(t, reg, "paced", "m", 0, true)
	// 60 rpm with burst 2: the third call in a row must wait about a second.
	exec := ai.NewExecutor(reg, 60, discardLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := exec.Execute(context.Background(), "paced", "m", "p", "c", 5*time.Second)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestExecute_RateWaitBeyondTimeout(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	register(t, reg, "paced", "m", 0, true)
	exec := ai.NewExecutor(reg, 1, discardLogger())

	_, err := exec.Execute(context.Background(), "paced", "m", "p", "c", time.Second)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "paced", "m", "p", "c", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, ai.Classify(err).Transient())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ai.ErrorKind
	}{
		{nil, ""},
		{ai.ErrCancelledByUser, ai.KindCancelledByUser},
		{fmt.Errorf("x: %w", models.ErrSubjectNotFound), ai.KindInvalidRequest},
		{models.ErrInvalidSubject, ai.KindInvalidRequest},
		{fmt.Errorf("file service query error: %w: status 403", models.ErrSubjectRejected), ai.KindInvalidRequest},
		{ai.ErrNoProviderAvailable, ai.KindNoProviderAvailable},
		{fmt.Errorf("x: %w", models.ErrRateLimited), ai.KindRateLimited},
		{models.ErrInferenceTimeout, ai.KindTimeout},
		{context.DeadlineExceeded, ai.KindTimeout},
		{models.ErrProviderRejected, ai.KindPermanentProviderError},
		{models.ErrProviderUnavailable, ai.KindProviderUnavailable},
		{models.ErrInvalidResponse, ai.KindProviderUnavailable},
		{errors.New("mystery"), ai.KindProviderUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ai.Classify(tt.err), "%v", tt.err)
	}
}

func TestErrorKind_Transient(t *testing.T) {
	for _, k := range []ai.ErrorKind{ai.KindTimeout, ai.KindProviderUnavailable, ai.KindRateLimited, ai.KindNoProviderAvailable} {
		assert.True(t, k.Transient(), k)
	}
	for _, k := range []ai.ErrorKind{ai.KindInvalidRequest, ai.KindPermanentProviderError, ai.KindCancelledByUser} {
		assert.False(t, k.Transient(), k)
	}
}
