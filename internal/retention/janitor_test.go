package retention_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/retention"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addJob(t *testing.T, s *store.MemoryStore, status models.JobStatus, completedAgo time.Duration) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		SubjectRef: "file:1",
		Kind:       models.JobKindGeneral,
		Status:     status,
		PromptText: "Summarize.",
		CreatedAt:  now.Add(-completedAgo - time.Minute),
		UpdatedAt:  now,
	}
	if completedAgo > 0 {
		done := now.Add(-completedAgo)
		job.CompletedAt = &done
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job.ID
}

func exists(t *testing.T, s *store.MemoryStore, id uuid.UUID) bool {
	t.Helper()
	_, err := s.GetJob(context.Background(), id)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestSweep_DeletesOnlyOldFinishedJobs(t *testing.T) {
	s := store.NewMemoryStore()
	oldDone := addJob(t, s, models.JobStatusCompleted, 48*time.Hour)
	oldCancelled := addJob(t, s, models.JobStatusCancelled, 48*time.Hour)
	oldFailed := addJob(t, s, models.JobStatusFailed, 48*time.Hour)
	freshDone := addJob(t, s, models.JobStatusCompleted, time.Hour)
	pending := addJob(t, s, models.JobStatusPending, 0)
	processing := addJob(t, s, models.JobStatusProcessing, 0)
	retrying := addJob(t, s, models.JobStatusFailed, 0) // intermediate FAILED has no completed_at

	j := retention.NewJanitor(config.RetentionConfig{MaxAge: 24 * time.Hour}, s, discardLogger())
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.False(t, exists(t, s, oldDone))
	assert.False(t, exists(t, s, oldCancelled))
	assert.False(t, exists(t, s, oldFailed))
	assert.True(t, exists(t, s, freshDone))
	assert.True(t, exists(t, s, pending))
	assert.True(t, exists(t, s, processing))
	assert.True(t, exists(t, s, retrying))
}

func TestSweep_Pages(t *testing.T) {
	s := store.NewMemoryStore()
	for i := 0; i < 250; i++ {
		addJob(t, s, models.JobStatusCompleted, 72*time.Hour)
	}

	j := retention.NewJanitor(config.RetentionConfig{MaxAge: time.Hour}, s, discardLogger())
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	_, total, err := s.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	j := retention.NewJanitor(config.RetentionConfig{}, store.NewMemoryStore(), discardLogger())

	done := make(chan error, 1)
	go func() { done <- j.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disabled janitor kept running")
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	s := store.NewMemoryStore()
	old := addJob(t, s, models.JobStatusCompleted, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	j := retention.NewJanitor(config.RetentionConfig{MaxAge: time.Hour, Interval: 10 * time.Millisecond}, s, discardLogger())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := s.GetJob(context.Background(), old)
		return errors.Is(err, store.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
