package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/scheduler"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_InvalidRequests(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, true, okProvider(0))
	h.build()

	tests := []struct {
		name string
		req  scheduler.SubmitRequest
	}{
		{"unknown kind", scheduler.SubmitRequest{SubjectRef: "file:1", Kind: "poetry", PromptText: "x"}},
		{"empty subject", scheduler.SubmitRequest{SubjectRef: "  ", Kind: models.JobKindGeneral, PromptText: "x"}},
		{"bad prefix", scheduler.SubmitRequest{SubjectRef: "doc:1", Kind: models.JobKindGeneral, PromptText: "x"}},
		{"comparison needs two files", scheduler.SubmitRequest{SubjectRef: "file:1", Kind: models.JobKindComparison, PromptText: "x"}},
		{"general takes one file", scheduler.SubmitRequest{SubjectRef: "file:1,file:2", Kind: models.JobKindGeneral, PromptText: "x"}},
		{"empty prompt", scheduler.SubmitRequest{SubjectRef: "file:1", Kind: models.JobKindCustom, PromptText: " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := h.controller.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, scheduler.ErrInvalidRequest)
			assert.Nil(t, jobs)
			assert.Equal(t, "INVALID_REQUEST", scheduler.Describe(err))
		})
	}

	_, total, err := h.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "rejected submissions create no jobs")
}

func TestSubmit_NoProviderRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, false, okProvider(0))
	h.build()

	_, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: "file:1", Kind: models.JobKindGeneral, PromptText: "Summarize.",
	})
	assert.ErrorIs(t, err, scheduler.ErrNoProviderAvailable)
	assert.Equal(t, "NO_PROVIDER_AVAILABLE", scheduler.Describe(err))

	_, total, err := h.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmit_PendingWithSelectedProvider(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "ollama", "llama3", 1, true, okProvider(0))
	h.addProvider(t, "openai", "gpt-4", 10, true, okProvider(0))
	h.build()

	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: " file:42 ",
		Kind:       models.JobKindGeneral,
		PromptText: "Summarize.",
		Metadata:   map[string]string{"requested_by": "ops"},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "file:42", job.SubjectRef)
	assert.Equal(t, "openai", job.Provider)
	assert.Equal(t, "gpt-4", job.Model)
	assert.Equal(t, "ops", job.Metadata["requested_by"])
	assert.NotContains(t, job.Metadata, models.MetaGroupID)
	assert.Zero(t, job.RetryCount)
	assert.Nil(t, job.StartedAt)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, 1, h.notifier.count(job.ID, models.EventJobSubmitted))
}

func TestSubmit_MultipleAIFansOut(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 10, true, okProvider(0))
	h.addProvider(t, "anthropic", "claude", 5, true, okProvider(0))
	h.addProvider(t, "ollama", "llama3", 1, false, okProvider(0))
	h.build()

	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: "file:9", Kind: models.JobKindMultipleAI, PromptText: "Compare opinions.",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "openai", jobs[0].Provider)
	assert.Equal(t, []string{"openai"}, jobs[0].ProviderPriority)
	assert.Equal(t, "anthropic", jobs[1].Provider)
	assert.Equal(t, []string{"anthropic"}, jobs[1].ProviderPriority)

	group := jobs[0].Metadata[models.MetaGroupID]
	require.NotEmpty(t, group)
	assert.Equal(t, group, jobs[1].Metadata[models.MetaGroupID])

	listed, total, err := h.store.ListJobs(context.Background(), store.JobFilter{GroupID: group})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, listed, 2)
}

func TestSubmit_MultipleAIHonoursPriorityOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 10, true, okProvider(0))
	h.addProvider(t, "anthropic", "claude", 5, true, okProvider(0))
	h.addProvider(t, "vllm", "mistral", 1, true, okProvider(0))
	h.build()

	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef:       "file:9",
		Kind:             models.JobKindMultipleAI,
		PromptText:       "Compare opinions.",
		ProviderPriority: []string{"vllm", "nope", "anthropic"},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "vllm", jobs[0].Provider)
	assert.Equal(t, "anthropic", jobs[1].Provider)
}

func TestSubmit_GroupKeyFromSubject(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, true, okProvider(0))
	h.build()

	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: "file:1,file:2#q3-review", Kind: models.JobKindComparison, PromptText: "Diff them.",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "q3-review", jobs[0].Metadata[models.MetaGroupID])
	assert.Equal(t, "file:1,file:2#q3-review", jobs[0].SubjectRef)
}

func TestSubmit_DegradedPolicyCreatesUnknownProviderJob(t *testing.T) {
	cfg := testConfig()
	cfg.NoProviderPolicy = config.NoProviderDegraded
	h := newHarness(t, cfg)
	h.build()

	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: "file:3", Kind: models.JobKindMultipleAI, PromptText: "Go.",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.ProviderUnknown, jobs[0].Provider)
	assert.Equal(t, "no_provider", jobs[0].Metadata[models.MetaDegraded])
	assert.Equal(t, models.JobStatusPending, jobs[0].Status)
}

func TestSubmitBatch_PartialFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, true, okProvider(0))
	h.build()

	items := h.controller.SubmitBatch(context.Background(),
		[]string{"file:1", "bogus", "file:3"}, models.JobKindGeneral, "Summarize.", nil)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Len(t, items[0].Jobs, 1)
	assert.ErrorIs(t, items[1].Err, scheduler.ErrInvalidRequest)
	assert.Empty(t, items[1].Jobs)
	assert.Equal(t, "bogus", items[1].SubjectRef)
	assert.NoError(t, items[2].Err)

	_, total, err := h.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCancel_PendingJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, true, okProvider(0))
	h.build() // dispatcher not running: the job stays PENDING

	job := h.submit(t, "file:1")
	require.NoError(t, h.controller.Cancel(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 1, h.notifier.count(job.ID, models.EventJobCancelled))

	err = h.controller.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyTerminal)
	assert.Equal(t, "ALREADY_TERMINAL", scheduler.Describe(err))
	assert.Equal(t, 1, h.notifier.count(job.ID, models.EventJobCancelled), "no second event")
	assert.True(t, h.controller.IsTerminal(got))
}

func TestCancel_NotFound(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	err := h.controller.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
	assert.Equal(t, "NOT_FOUND", scheduler.Describe(err))
}

func TestCancel_FinishedJobs(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	done := time.Now().UTC()
	tests := []struct {
		name   string
		status models.JobStatus
		rc     int
	}{
		{"completed", models.JobStatusCompleted, 0},
		{"cancelled", models.JobStatusCancelled, 0},
		{"failed with no retries left", models.JobStatusFailed, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := h.store.seed(t, tt.status, func(j *models.Job) {
				j.RetryCount = tt.rc
				j.CompletedAt = &done
			})
			assert.ErrorIs(t, h.controller.Cancel(context.Background(), job.ID), scheduler.ErrAlreadyTerminal)
			assert.Zero(t, h.notifier.count(job.ID, models.EventJobCancelled))
		})
	}
}

func TestCancel_FailedJobAwaitingManualRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	msg := "ai provider rejected request"
	done := time.Now().UTC()
	job := h.store.seed(t, models.JobStatusFailed, func(j *models.Job) {
		j.ErrorMessage = &msg
		j.CompletedAt = &done
	})
	require.False(t, h.controller.IsTerminal(job))

	err := h.controller.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, scheduler.ErrInvalidState)
	assert.Equal(t, "INVALID_STATE", scheduler.Describe(err))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Nil(t, got.CancelRequestedAt)

	require.NoError(t, h.controller.Retry(context.Background(), job.ID))
}

func TestCancel_FailedJobMidAutomaticRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	// FAILED without completed_at: the worker has not yet moved it back to PENDING.
	job := h.store.seed(t, models.JobStatusFailed, nil)
	require.NoError(t, h.controller.Cancel(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotNil(t, got.CancelRequestedAt)
	assert.Zero(t, h.notifier.count(job.ID, models.EventJobCancelled), "the worker emits it")
}

func TestRetry_ClearsCancelLostToPermanentFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	flagged := time.Now().UTC()
	job := h.store.seed(t, models.JobStatusFailed, func(j *models.Job) {
		j.CompletedAt = &flagged
		j.CancelRequestedAt = &flagged
	})
	require.NoError(t, h.controller.Retry(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.CancelRequestedAt)
}

func TestCancel_OrphanedProcessingJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	job := h.store.seed(t, models.JobStatusProcessing, nil)
	require.NoError(t, h.controller.Cancel(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CancelRequestedAt)
	assert.Equal(t, 1, h.notifier.count(job.ID, models.EventJobCancelled))
}

func TestRetry_FailedJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	msg := "ai inference timeout"
	done := time.Now().UTC()
	job := h.store.seed(t, models.JobStatusFailed, func(j *models.Job) {
		j.RetryCount = 1
		j.ErrorMessage = &msg
		j.CompletedAt = &done
	})
	assert.False(t, h.controller.IsTerminal(job))

	require.NoError(t, h.controller.Retry(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 1, h.notifier.count(job.ID, models.EventJobRetrying))
}

func TestRetry_RejectsWrongStateAndSpentBudget(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	tests := []struct {
		name   string
		status models.JobStatus
		rc     int
	}{
		{"pending", models.JobStatusPending, 0},
		{"processing", models.JobStatusProcessing, 0},
		{"completed", models.JobStatusCompleted, 0},
		{"cancelled", models.JobStatusCancelled, 0},
		{"failed with no retries left", models.JobStatusFailed, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := h.store.seed(t, tt.status, func(j *models.Job) { j.RetryCount = tt.rc })
			err := h.controller.Retry(context.Background(), job.ID)
			assert.ErrorIs(t, err, scheduler.ErrInvalidState)
			assert.Equal(t, "INVALID_STATE", scheduler.Describe(err))

			got, err := h.store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
		})
	}

	err := h.controller.Retry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestRetry_RunsAgain(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addProvider(t, "openai", "gpt-4", 0, true, okProvider(0))
	h.start(t)

	job := h.store.seed(t, models.JobStatusFailed, func(j *models.Job) { j.RetryCount = 2 })
	require.NoError(t, h.controller.Retry(context.Background(), job.ID))

	done := h.waitForStatus(t, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 3, done.RetryCount)
}

func TestStats(t *testing.T) {
	h := newHarness(t, testConfig())
	h.build()

	start := time.Now().Add(-10 * time.Second).UTC()
	for _, d := range []time.Duration{2 * time.Second, 4 * time.Second} {
		end := start.Add(d)
		h.store.seed(t, models.JobStatusCompleted, func(j *models.Job) {
			j.StartedAt = &start
			j.CompletedAt = &end
		})
	}
	h.store.seed(t, models.JobStatusPending, nil)
	h.store.seed(t, models.JobStatusFailed, nil)

	stats, err := h.controller.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Processing)
	assert.InDelta(t, 3.0, stats.AvgDuration, 0.001)
}

func TestDescribe_Unknown(t *testing.T) {
	assert.Equal(t, "INTERNAL_ERROR", scheduler.Describe(errors.New("disk on fire")))
	assert.Equal(t, "NOT_FOUND", scheduler.Describe(fmt.Errorf("get: %w", store.ErrNotFound)))
}
