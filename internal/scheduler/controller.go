package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// SubmitRequest describes one analysis submission. PromptText is already resolved.
type SubmitRequest struct {
	SubjectRef       string
	Kind             models.JobKind
	PromptText       string
	ProviderPriority []string
	Metadata         map[string]string
}

// BatchItem is the outcome of one subject in SubmitBatch.
type BatchItem struct {
	SubjectRef string
	Jobs       []*models.Job
	Err        error
}

// Controller is the entry point used by the API layer.
type Controller struct {
	cfg        config.SchedulerConfig
	store      store.JobStore
	selector   Selector
	dispatcher *Dispatcher
	notify     *notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewController(
	cfg config.SchedulerConfig,
	jobs store.JobStore,
	selector Selector,
	dispatcher *Dispatcher,
	notifier events.Notifier,
	logger *slog.Logger,
) *Controller {
	logger = logger.With("component", "scheduler.controller")
	return &Controller{
		cfg:        cfg,
		store:      jobs,
		selector:   selector,
		dispatcher: dispatcher,
		notify:     newNotifier(notifier, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Submit validates req, persists PENDING jobs and enqueues them. It returns one job, or one
// job per functional provider for MULTIPLE_AI. It never waits for execution.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) ([]*models.Job, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	subject, err := models.ValidateSubjectForKind(strings.TrimSpace(req.SubjectRef), req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.PromptText) == "" {
		return nil, fmt.Errorf("%w: prompt_text is required", ErrInvalidRequest)
	}

	targets, degraded, err := c.targets(req)
	if err != nil {
		return nil, err
	}

	groupID := subject.GroupKey
	if groupID == "" && len(targets) > 1 {
		groupID = uuid.NewString()
	}

	jobs := make([]*models.Job, 0, len(targets))
	for _, t := range targets {
		job := c.newJob(subject, req, t, groupID, degraded)
		if err := c.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		c.dispatcher.Enqueue(job.ID)
		c.logger.Info("job submitted", "job_id", job.ID, "kind", job.Kind, "provider", job.Provider, "degraded", degraded)
		c.notify.emit(models.EventJobSubmitted, job.ID, job.Status, map[string]any{
			"kind": string(job.Kind), "subject_ref": job.SubjectRef, "provider": job.Provider,
		})
	}
	return jobs, nil
}

type target struct {
	selection ai.Selection
	priority  []string
}

// targets resolves the providers a submission will be created for. With no functional
// provider it either rejects or returns one degraded target, per the configured policy.
func (c *Controller) targets(req SubmitRequest) ([]target, bool, error) {
	if req.Kind == models.JobKindMultipleAI {
		var out []target
		for _, sel := range c.fanOut(req.ProviderPriority) {
			out = append(out, target{selection: sel, priority: []string{sel.Provider}})
		}
		if len(out) > 0 {
			return out, false, nil
		}
	} else if sel, err := c.selector.Select(req.ProviderPriority); err == nil {
		return []target{{selection: sel, priority: req.ProviderPriority}}, false, nil
	}

	if c.cfg.NoProviderPolicy != config.NoProviderDegraded {
		return nil, false, ErrNoProviderAvailable
	}
	return []target{{
		selection: ai.Selection{Provider: models.ProviderUnknown},
		priority:  req.ProviderPriority,
	}}, true, nil
}

// fanOut lists the functional providers for a MULTIPLE_AI submission, restricted to and
// ordered by names when given.
func (c *Controller) fanOut(names []string) []ai.Selection {
	functional := c.selector.Functional()
	if len(names) == 0 {
		return functional
	}
	var out []ai.Selection
	for _, name := range names {
		for _, sel := range functional {
			if sel.Provider == name {
				out = append(out, sel)
				break
			}
		}
	}
	return out
}

func (c *Controller) newJob(subject models.Subject, req SubmitRequest, t target, groupID string, degraded bool) *models.Job {
	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if groupID != "" {
		metadata[models.MetaGroupID] = groupID
	}
	if degraded {
		metadata[models.MetaDegraded] = "no_provider"
	}

	now := c.now().UTC()
	return &models.Job{
		ID:               uuid.New(),
		SubjectRef:       subject.String(),
		Kind:             req.Kind,
		Status:           models.JobStatusPending,
		Provider:         t.selection.Provider,
		Model:            t.selection.Model,
		ProviderPriority: append([]string(nil), t.priority...),
		PromptText:       req.PromptText,
		Metadata:         metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SubmitBatch submits every subject independently. One bad subject does not abort the rest.
func (c *Controller) SubmitBatch(ctx context.Context, refs []string, kind models.JobKind, promptText string, priority []string) []BatchItem {
	items := make([]BatchItem, 0, len(refs))
	for _, ref := range refs {
		jobs, err := c.Submit(ctx, SubmitRequest{
			SubjectRef:       ref,
			Kind:             kind,
			PromptText:       promptText,
			ProviderPriority: priority,
		})
		items = append(items, BatchItem{SubjectRef: ref, Jobs: jobs, Err: err})
	}
	return items
}

// cancelAttempts bounds how often Cancel re-reads a job whose status keeps moving under it.
const cancelAttempts = 5

// Cancel stops a job. PENDING jobs are cancelled directly. For a PROCESSING job the cancel
// is recorded durably and signalled to the worker, which performs the transition.
// Finished jobs return ErrAlreadyTerminal. A FAILED job that still has retries left is
// ErrInvalidState, except mid automatic retry, where the cancel is recorded and applied
// once the job is back in PENDING.
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID) error {
	for i := 0; i < cancelAttempts; i++ {
		job, err := c.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if c.IsTerminal(job) {
			return ErrAlreadyTerminal
		}

		switch job.Status {
		case models.JobStatusFailed:
			if job.CompletedAt != nil {
				return fmt.Errorf("%w: job %s failed and awaits a manual retry", ErrInvalidState, id)
			}
			// Between PROCESSING -> FAILED and FAILED -> PENDING of an automatic retry.
			if job.CancelRequestedAt != nil {
				return nil
			}
			ok, err := c.store.CompareAndSetStatus(ctx, id, models.JobStatusFailed, models.JobStatusFailed,
				store.WithCancelRequested(c.now().UTC()))
			if err != nil {
				return fmt.Errorf("flag job for cancellation: %w", err)
			}
			if ok {
				c.logger.Info("cancel recorded for job awaiting retry", "job_id", id)
				return nil
			}

		case models.JobStatusPending:
			ok, err := c.store.CompareAndSetStatus(ctx, id, models.JobStatusPending, models.JobStatusCancelled,
				store.ClearErrorMessage(), store.WithNotBefore(time.Time{}), store.WithCompletedAt(c.now().UTC()))
			if err != nil {
				return fmt.Errorf("cancel pending job: %w", err)
			}
			if ok {
				c.cancelled(id)
				return nil
			}

		case models.JobStatusProcessing:
			if job.CancelRequestedAt != nil {
				c.dispatcher.RequestCancel(id)
				return nil
			}
			ok, err := c.store.CompareAndSetStatus(ctx, id, models.JobStatusProcessing, models.JobStatusProcessing,
				store.WithCancelRequested(c.now().UTC()))
			if err != nil {
				return fmt.Errorf("flag job for cancellation: %w", err)
			}
			if !ok {
				continue
			}
			if c.dispatcher.RequestCancel(id) {
				c.logger.Info("cancel signalled to running job", "job_id", id)
				return nil
			}
			// No worker here owns the job: it is an orphan, or its worker is past its last
			// checkpoint. Whichever transition lands first wins.
			ok, err = c.store.CompareAndSetStatus(ctx, id, models.JobStatusProcessing, models.JobStatusCancelled,
				store.ClearErrorMessage(), store.WithCompletedAt(c.now().UTC()))
			if err != nil {
				return fmt.Errorf("cancel processing job: %w", err)
			}
			if ok {
				c.cancelled(id)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: job %s kept changing status during cancel", ErrInvalidState, id)
}

func (c *Controller) cancelled(id uuid.UUID) {
	metrics.JobTotal.WithLabelValues("cancelled").Inc()
	c.logger.Info("job cancelled", "job_id", id)
	c.notify.emit(models.EventJobCancelled, id, models.JobStatusCancelled, nil)
}

// Retry puts a FAILED job back to PENDING. retry_count is cumulative across automatic and
// manual retries, so Retry fails with ErrInvalidState once the budget is spent.
func (c *Controller) Retry(ctx context.Context, id uuid.UUID) error {
	job, err := c.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := checkRetryEdge(job, c.cfg.MaxRetries); err != nil {
		return err
	}

	next := job.RetryCount + 1
	opts := []store.JobUpdateOption{
		store.WithRetryCount(next), store.ClearErrorMessage(), store.ClearCompletedAt(), store.WithNotBefore(time.Time{}),
	}
	// A cancel that lost to a permanent failure does not carry over into the manual retry.
	// One recorded mid automatic retry does.
	if job.CompletedAt != nil {
		opts = append(opts, store.ClearCancelRequested())
	}
	ok, err := c.store.CompareAndSetStatus(ctx, id, models.JobStatusFailed, models.JobStatusPending, opts...)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: job %s changed status", ErrInvalidState, id)
	}

	metrics.JobRetriesTotal.WithLabelValues("manual").Inc()
	c.logger.Info("job retried", "job_id", id, "retry_count", next)
	c.notify.emit(models.EventJobRetrying, id, models.JobStatusPending, map[string]any{
		"retry_count": next, "trigger": "manual",
	})
	c.dispatcher.Enqueue(id)
	return nil
}

// Stats aggregates job counts by status and the mean duration of completed jobs.
func (c *Controller) Stats(ctx context.Context) (*models.JobStats, error) {
	return c.store.JobStats(ctx)
}

func (c *Controller) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return c.store.GetJob(ctx, id)
}

func (c *Controller) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return c.store.ListJobs(ctx, filter)
}

// IsTerminal reports whether job needs no further scheduling, given the retry budget.
func (c *Controller) IsTerminal(job *models.Job) bool {
	return models.IsTerminal(job.Status, job.RetryCount, c.cfg.MaxRetries)
}

// Describe maps a controller error to a short machine-readable code.
func Describe(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrJobNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrAlreadyTerminal):
		return "ALREADY_TERMINAL"
	case errors.Is(err, ErrNoProviderAvailable):
		return "NO_PROVIDER_AVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
