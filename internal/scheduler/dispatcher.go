// Package scheduler runs analysis jobs through their lifecycle: admission, claiming,
// provider selection, bounded execution, retry and cooperative cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Selector picks the provider for one attempt.
type Selector interface {
	Select(names []string) (ai.Selection, error)
	Functional() []ai.Selection
}

// Executor performs the AI call. Its errors classify through ai.Classify.
type Executor interface {
	Execute(ctx context.Context, provider, model, prompt, content string, timeout time.Duration) (models.ExecuteResult, error)
}

// SubjectResolver turns a subject reference into the content to analyze.
type SubjectResolver interface {
	Resolve(ctx context.Context, subjectRef string) (string, error)
}

// reconcilePageSize bounds how many due PENDING jobs one reconciliation pass enqueues.
const reconcilePageSize = 100

// Dispatcher owns the worker pool. It is the only component that executes provider calls,
// so at most cfg.MaxConcurrent jobs are PROCESSING at once.
type Dispatcher struct {
	cfg      config.SchedulerConfig
	store    store.JobStore
	selector Selector
	executor Executor
	resolver SubjectResolver
	notify   *notifier
	logger   *slog.Logger
	now      func() time.Time

	queue chan uuid.UUID

	mu      sync.Mutex
	queued  map[uuid.UUID]struct{}
	running map[uuid.UUID]*runHandle
	timers  map[uuid.UUID]*time.Timer
	closed  bool

	runCtx    context.Context
	runCancel context.CancelCauseFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Jobs may be enqueued before Run starts.
func NewDispatcher(
	cfg config.SchedulerConfig,
	jobs store.JobStore,
	selector Selector,
	executor Executor,
	resolver SubjectResolver,
	notifier events.Notifier,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	logger = logger.With("component", "scheduler.dispatcher")
	runCtx, runCancel := context.WithCancelCause(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		store:     jobs,
		selector:  selector,
		executor:  executor,
		resolver:  resolver,
		notify:    newNotifier(notifier, logger),
		logger:    logger,
		now:       time.Now,
		queue:     make(chan uuid.UUID, cfg.QueueSize),
		queued:    make(map[uuid.UUID]struct{}),
		running:   make(map[uuid.UUID]*runHandle),
		timers:    make(map[uuid.UUID]*time.Timer),
		runCtx:    runCtx,
		runCancel: runCancel,
		stopCh:    make(chan struct{}),
	}
}

// Run recovers jobs orphaned by a previous process, starts the workers and reconciles
// PENDING jobs until ctx is done. It then stops intake and waits for running jobs,
// cancelling them if they outlast cfg.ShutdownTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.recoverOrphans(ctx)
	d.reconcile(ctx)

	for i := 0; i < d.cfg.MaxConcurrent; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("dispatcher started", "workers", d.cfg.MaxConcurrent, "queue_size", d.cfg.QueueSize)

	var tick <-chan time.Time
	if d.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(d.cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tick:
			d.reconcile(ctx)
		}
	}

	d.shutdown()
	return nil
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timeout := d.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("shutdown timeout, cancelling running jobs", "timeout", timeout)
		d.runCancel(errShuttingDown)
		<-done
	}
	d.runCancel(errShuttingDown)
	d.logger.Info("dispatcher stopped")
}

// Enqueue admits a PENDING job without blocking. It returns false when the queue is full
// or the dispatcher is stopping; the job stays PENDING for the next reconciliation pass.
func (d *Dispatcher) Enqueue(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if _, ok := d.queued[id]; ok {
		return true
	}
	select {
	case d.queue <- id:
		d.queued[id] = struct{}{}
		metrics.QueueDepth.Inc()
		return true
	default:
		d.logger.Warn("dispatch queue full, leaving job for reconciliation", "job_id", id)
		return false
	}
}

// RequestCancel signals a job running in this process. It returns false if no worker here
// is executing the job.
func (d *Dispatcher) RequestCancel(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.running[id]
	if !ok {
		return false
	}
	h.cancel(ErrCancelledByUser)
	return true
}

// schedule enqueues id after delay.
func (d *Dispatcher) schedule(id uuid.UUID, delay time.Duration) {
	if delay <= 0 {
		d.Enqueue(id)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if t, ok := d.timers[id]; ok {
		t.Stop()
	}
	d.timers[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()
		d.Enqueue(id)
	})
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	logger := d.logger.With("worker", n)
	for {
		select {
		case <-d.stopCh:
			return
		case id := <-d.queue:
			d.mu.Lock()
			delete(d.queued, id)
			d.mu.Unlock()
			metrics.QueueDepth.Dec()
			d.process(logger, id)
		}
	}
}

// runHandle is the running-set entry of one claimed attempt. Entries are compared by
// identity so a worker only ever removes its own.
type runHandle struct {
	cancel context.CancelCauseFunc
}

// attempt is the per-claim state of one execution.
type attempt struct {
	job     *models.Job
	ctx     context.Context
	run     *runHandle
	started time.Time
	logger  *slog.Logger
}

func (d *Dispatcher) process(logger *slog.Logger, id uuid.UUID) {
	ctx := context.Background()
	logger = logger.With("job_id", id)

	var a *attempt
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			if a != nil {
				d.release(a)
				d.failTerminal(a, fmt.Errorf("internal error: %v", r))
			}
		}
	}()

	job, err := d.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error("load job failed", "error", err)
		return
	}
	if job.Status != models.JobStatusPending {
		return
	}
	if job.CancelRequestedAt != nil {
		d.cancelPending(ctx, id, logger)
		return
	}
	if job.NotBefore != nil {
		if wait := job.NotBefore.Sub(d.now()); wait > 0 {
			d.schedule(id, wait)
			return
		}
	}

	now := d.now().UTC()
	ok, err := d.store.CompareAndSetStatus(ctx, id, models.JobStatusPending, models.JobStatusProcessing,
		store.WithStartedAt(now), store.WithNotBefore(time.Time{}))
	if err != nil {
		logger.Error("claim job failed", "error", err)
		return
	}
	if !ok {
		// Another worker claimed it, or it was cancelled first.
		return
	}
	job.Status = models.JobStatusProcessing

	jobCtx, cancel := context.WithCancelCause(d.runCtx)
	defer cancel(nil)
	a = &attempt{job: job, ctx: jobCtx, run: &runHandle{cancel: cancel}, started: now, logger: logger}
	d.mu.Lock()
	d.running[id] = a.run
	d.mu.Unlock()

	// A Cancel between the claim and the registration flagged the job but found no one to
	// signal. Either it reached us above or the job now shows it.
	if fresh, err := d.store.GetJob(ctx, id); err == nil &&
		(fresh.CancelRequestedAt != nil || fresh.Status != models.JobStatusProcessing) {
		cancel(ErrCancelledByUser)
	}

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	d.execute(a)
}

// cancelPending settles a PENDING job whose cancel was flagged while it sat between
// attempts.
func (d *Dispatcher) cancelPending(ctx context.Context, id uuid.UUID, logger *slog.Logger) {
	ok, err := d.store.CompareAndSetStatus(ctx, id, models.JobStatusPending, models.JobStatusCancelled,
		store.ClearErrorMessage(), store.WithNotBefore(time.Time{}), store.WithCompletedAt(d.now().UTC()))
	if err != nil {
		logger.Error("persist cancellation failed", "error", err)
		return
	}
	if !ok {
		return
	}
	metrics.JobTotal.WithLabelValues("cancelled").Inc()
	logger.Info("job cancelled")
	d.notify.emit(models.EventJobCancelled, id, models.JobStatusCancelled, nil)
}

func (d *Dispatcher) execute(a *attempt) {
	job := a.job

	if userCancelled(a.ctx) {
		d.finishWithError(a, ErrCancelledByUser)
		return
	}

	sel, err := d.selector.Select(job.ProviderPriority)
	if err != nil {
		d.finishWithError(a, err)
		return
	}
	if sel.Provider != job.Provider || sel.Model != job.Model {
		ok, err := d.store.CompareAndSetStatus(context.Background(), job.ID, models.JobStatusProcessing, models.JobStatusProcessing,
			store.WithProvider(sel.Provider, sel.Model))
		if err != nil {
			a.logger.Warn("record provider failed", "error", err)
		} else if !ok {
			d.release(a)
			return
		}
		job.Provider, job.Model = sel.Provider, sel.Model
	}
	a.logger = a.logger.With("provider", sel.Provider, "model", sel.Model)
	d.notify.emit(models.EventJobStarted, job.ID, models.JobStatusProcessing, map[string]any{
		"provider": sel.Provider, "model": sel.Model, "retry_count": job.RetryCount,
	})

	content, err := d.resolver.Resolve(a.ctx, job.SubjectRef)
	if err != nil {
		d.finishWithError(a, err)
		return
	}

	// Checkpoint before the provider call.
	if userCancelled(a.ctx) {
		d.finishWithError(a, ErrCancelledByUser)
		return
	}

	res, err := d.executor.Execute(a.ctx, sel.Provider, sel.Model, job.PromptText, content, d.cfg.JobTimeout)
	if err != nil {
		d.finishWithError(a, err)
		return
	}

	if cancelled, interrupted := d.release(a); cancelled {
		d.cancel(a)
		return
	} else if interrupted {
		a.logger.Warn("job interrupted by shutdown, left for recovery")
		return
	}

	ok, err := d.store.CompareAndSetStatus(context.Background(), job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		store.WithResult(res.Text), store.WithProvider(sel.Provider, res.Model),
		store.ClearErrorMessage(), store.WithCompletedAt(d.now().UTC()))
	if err != nil {
		a.logger.Error("persist completion failed", "error", err)
		return
	}
	if !ok {
		a.logger.Info("job changed while running, result discarded")
		return
	}

	elapsed := time.Since(a.started)
	metrics.JobTotal.WithLabelValues("completed").Inc()
	metrics.JobDuration.WithLabelValues(sel.Provider).Observe(elapsed.Seconds())
	a.logger.Info("job completed", "duration_ms", elapsed.Milliseconds(),
		"input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	d.notify.emit(models.EventJobCompleted, job.ID, models.JobStatusCompleted, map[string]any{
		"provider": sel.Provider, "model": res.Model, "duration_ms": elapsed.Milliseconds(),
	})
}

// release removes the attempt from the running set and reports, atomically with respect
// to RequestCancel, whether a user cancel or a shutdown reached it.
func (d *Dispatcher) release(a *attempt) (cancelled, interrupted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.run != nil && d.running[a.job.ID] == a.run {
		delete(d.running, a.job.ID)
	}
	cause := context.Cause(a.ctx)
	return errors.Is(cause, ErrCancelledByUser), errors.Is(cause, errShuttingDown)
}

func userCancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelledByUser)
}

func (d *Dispatcher) finishWithError(a *attempt, err error) {
	cancelled, interrupted := d.release(a)
	switch {
	case cancelled:
		d.cancel(a)
	case interrupted:
		a.logger.Warn("job interrupted by shutdown, left for recovery", "error", err)
	default:
		d.fail(a, ai.Classify(err), err)
	}
}

// cancel moves a PROCESSING job to CANCELLED. Cancelled jobs carry no error message.
func (d *Dispatcher) cancel(a *attempt) {
	ok, err := d.store.CompareAndSetStatus(context.Background(), a.job.ID, models.JobStatusProcessing, models.JobStatusCancelled,
		store.ClearErrorMessage(), store.WithCompletedAt(d.now().UTC()))
	if err != nil {
		a.logger.Error("persist cancellation failed", "error", err)
		return
	}
	if !ok {
		return
	}
	metrics.JobTotal.WithLabelValues("cancelled").Inc()
	a.logger.Info("job cancelled")
	d.notify.emit(models.EventJobCancelled, a.job.ID, models.JobStatusCancelled, nil)
}

// fail applies the retry policy to a failed PROCESSING job. An automatic retry is the two
// edges PROCESSING -> FAILED -> PENDING; only the final FAILED gets completed_at.
func (d *Dispatcher) fail(a *attempt, kind ai.ErrorKind, cause error) {
	job := a.job
	if !ShouldRetry(kind, job.RetryCount, d.cfg.MaxRetries) {
		d.failTerminal(a, cause)
		return
	}

	ctx := context.Background()
	msg := cause.Error()
	ok, err := d.store.CompareAndSetStatus(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage(msg))
	if err != nil || !ok {
		if err != nil {
			a.logger.Error("persist failure failed", "error", err)
		}
		return
	}

	next := job.RetryCount + 1
	delay := Backoff(job.RetryCount, d.cfg.RetryBackoffBase, d.cfg.RetryBackoffMax)
	notBefore := d.now().UTC().Add(delay)
	ok, err = d.store.CompareAndSetStatus(ctx, job.ID, models.JobStatusFailed, models.JobStatusPending,
		store.WithRetryCount(next), store.WithNotBefore(notBefore))
	if err != nil {
		a.logger.Error("requeue failed job failed", "error", err)
		return
	}
	if !ok {
		// An operator Retry got there first and has already re-enqueued the job.
		return
	}

	metrics.JobTotal.WithLabelValues("retrying").Inc()
	metrics.JobRetriesTotal.WithLabelValues("automatic").Inc()
	a.logger.Warn("job attempt failed, retrying", "kind", kind, "error", msg,
		"retry_count", next, "max_retries", d.cfg.MaxRetries, "delay", delay)
	d.notify.emit(models.EventJobRetrying, job.ID, models.JobStatusPending, map[string]any{
		"error": msg, "kind": string(kind), "retry_count": next, "trigger": "automatic", "not_before": notBefore,
	})

	// A cancel flagged during the attempt, or while the job sat in FAILED between the two
	// writes above, is honoured here. If this read fails the worker that picks the job up
	// next sees the flag instead.
	if fresh, err := d.store.GetJob(ctx, job.ID); err == nil && fresh.CancelRequestedAt != nil {
		d.cancelPending(ctx, job.ID, a.logger)
		return
	}

	d.schedule(job.ID, delay)
}

func (d *Dispatcher) failTerminal(a *attempt, cause error) {
	msg := cause.Error()
	ok, err := d.store.CompareAndSetStatus(context.Background(), a.job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage(msg), store.WithCompletedAt(d.now().UTC()))
	if err != nil {
		a.logger.Error("persist failure failed", "error", err)
		return
	}
	if !ok {
		return
	}
	metrics.JobTotal.WithLabelValues("failed").Inc()
	a.logger.Error("job failed", "kind", ai.Classify(cause), "error", msg, "retry_count", a.job.RetryCount)
	d.notify.emit(models.EventJobFailed, a.job.ID, models.JobStatusFailed, map[string]any{
		"error": msg, "kind": string(ai.Classify(cause)), "retry_count": a.job.RetryCount,
	})
}

// reconcile enqueues PENDING jobs whose backoff has elapsed, oldest first.
func (d *Dispatcher) reconcile(ctx context.Context) {
	jobs, total, err := d.store.ListJobs(ctx, store.JobFilter{
		Status:      models.JobStatusPending,
		DueBy:       d.now().UTC(),
		OldestFirst: true,
		Limit:       reconcilePageSize,
	})
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("reconcile pending jobs failed", "error", err)
		}
		return
	}
	for _, j := range jobs {
		if !d.Enqueue(j.ID) {
			break
		}
	}
	if total > 0 {
		d.logger.Debug("reconciled pending jobs", "due", total, "scanned", len(jobs))
	}
}

// recoverOrphans settles PROCESSING jobs left by a previous process. Jobs with a cancel
// request become CANCELLED; the rest fail transiently and go through the retry policy.
func (d *Dispatcher) recoverOrphans(ctx context.Context) {
	seen := make(map[uuid.UUID]struct{})
	for ctx.Err() == nil {
		jobs, _, err := d.store.ListJobs(ctx, store.JobFilter{
			Status:      models.JobStatusProcessing,
			OldestFirst: true,
			Limit:       reconcilePageSize,
		})
		if err != nil {
			d.logger.Error("list orphaned jobs failed", "error", err)
			return
		}

		progressed := false
		for _, job := range jobs {
			if _, ok := seen[job.ID]; ok {
				continue
			}
			seen[job.ID] = struct{}{}
			progressed = true

			a := &attempt{job: job, ctx: context.Background(), started: d.now(), logger: d.logger.With("job_id", job.ID)}
			if job.CancelRequestedAt != nil {
				d.cancel(a)
				continue
			}
			a.logger.Warn("recovering job interrupted by restart")
			d.fail(a, ai.KindProviderUnavailable, fmt.Errorf("%w: interrupted by restart", ai.ErrProviderUnavailable))
		}
		if !progressed || len(jobs) < reconcilePageSize {
			return
		}
	}
}
