package ai_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_RefreshesPeriodically(t *testing.T) {
	reg := ai.NewRegistry(discardLogger())
	p := register(t, reg, "openai", "gpt-4", 0, false)
	var pings atomic.Int32
	p.PingFunc = func(context.Context) error {
		pings.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ai.NewHealthChecker(reg, 10*time.Millisecond, discardLogger()).Run(ctx)
	}()

	require.Eventually(t, func() bool { return pings.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	d, _ := reg.Descriptor("openai")
	assert.True(t, d.Functional)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop")
	}
}
