package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/internal/ai/mock"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/scheduler"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- recording store ---

type transition struct {
	from, to models.JobStatus
}

// recordingStore wraps a MemoryStore and records every successful status change plus the
// highest number of jobs seen PROCESSING at once.
type recordingStore struct {
	*store.MemoryStore

	mu            sync.Mutex
	transitions   map[uuid.UUID][]transition
	processing    int
	maxProcessing int

	// afterGet and afterSet run outside the lock once a read or a status write returns.
	// Tests use them to hold a worker at a chosen point.
	afterGet func(job *models.Job)
	afterSet func(id uuid.UUID, expected, next models.JobStatus, ok bool)
}

func (s *recordingStore) hooks() (func(*models.Job), func(uuid.UUID, models.JobStatus, models.JobStatus, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afterGet, s.afterSet
}

func (s *recordingStore) onGet(fn func(job *models.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterGet = fn
}

func (s *recordingStore) onSet(fn func(id uuid.UUID, expected, next models.JobStatus, ok bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSet = fn
}

func (s *recordingStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.MemoryStore.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if hook, _ := s.hooks(); hook != nil {
		hook(job)
	}
	return job, nil
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore(), transitions: make(map[uuid.UUID][]transition)}
}

func (s *recordingStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, opts ...store.JobUpdateOption) (bool, error) {
	ok, err := s.record(ctx, id, expected, next, opts...)
	if _, hook := s.hooks(); hook != nil && err == nil {
		hook(id, expected, next, ok)
	}
	return ok, err
}

func (s *recordingStore) record(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, opts ...store.JobUpdateOption) (bool, error) {
	ok, err := s.MemoryStore.CompareAndSetStatus(ctx, id, expected, next, opts...)
	if err != nil || !ok || expected == next {
		return ok, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[id] = append(s.transitions[id], transition{expected, next})
	if next == models.JobStatusProcessing {
		s.processing++
		if s.processing > s.maxProcessing {
			s.maxProcessing = s.processing
		}
	}
	if expected == models.JobStatusProcessing {
		s.processing--
	}
	return ok, err
}

func (s *recordingStore) history(id uuid.UUID) []transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transition(nil), s.transitions[id]...)
}

func (s *recordingStore) peakProcessing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProcessing
}

// seed stores job as-is, bypassing the controller.
func (s *recordingStore) seed(t *testing.T, status models.JobStatus, mutate func(*models.Job)) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		SubjectRef: "file:42",
		Kind:       models.JobKindGeneral,
		Status:     status,
		PromptText: "Summarize.",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- recording notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count(id uuid.UUID, typ models.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.JobID == id && ev.Type == typ {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) types(id uuid.UUID) []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.EventType
	for _, ev := range n.events {
		if ev.JobID == id {
			out = append(out, ev.Type)
		}
	}
	return out
}

// --- resolver ---

type resolverFunc func(ctx context.Context, ref string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, ref string) (string, error) { return f(ctx, ref) }

func staticResolver(content string) resolverFunc {
	return func(context.Context, string) (string, error) { return content, nil }
}

// --- harness ---

type harness struct {
	store      *recordingStore
	registry   *ai.Registry
	notifier   *recordingNotifier
	dispatcher *scheduler.Dispatcher
	controller *scheduler.Controller
	resolver   scheduler.SubjectResolver
	cfg        config.SchedulerConfig
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrent:     3,
		MaxRetries:        3,
		JobTimeout:        2 * time.Second,
		QueueSize:         64,
		ReconcileInterval: 50 * time.Millisecond,
		NoProviderPolicy:  config.NoProviderReject,
		ShutdownTimeout:   2 * time.Second,
	}
}

func newHarness(t *testing.T, cfg config.SchedulerConfig) *harness {
	t.Helper()
	h := &harness{
		store:    newRecordingStore(),
		registry: ai.NewRegistry(discardLogger()),
		notifier: &recordingNotifier{},
		resolver: staticResolver("quarterly revenue grew 12%"),
		cfg:      cfg,
	}
	return h
}

// addProvider registers p under name with the given model and health flag.
func (h *harness) addProvider(t *testing.T, name, model string, priority int, functional bool, p *mock.MockProvider) {
	t.Helper()
	p.Name_ = name
	require.NoError(t, h.registry.Register(models.ProviderDescriptor{
		Name: name, Type: "mock", DefaultModel: model, Priority: priority, Functional: functional,
	}, p))
}

// build wires the dispatcher and controller. Call after providers and resolver are set.
func (h *harness) build() {
	selector := ai.NewSelector(h.registry)
	executor := ai.NewExecutor(h.registry, 0, discardLogger())
	h.dispatcher = scheduler.NewDispatcher(h.cfg, h.store, selector, executor, h.resolver, h.notifier, discardLogger())
	h.controller = scheduler.NewController(h.cfg, h.store, selector, h.dispatcher, h.notifier, discardLogger())
}

// start runs the dispatcher until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	if h.dispatcher == nil {
		h.build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) submit(t *testing.T, ref string) *models.Job {
	t.Helper()
	jobs, err := h.controller.Submit(context.Background(), scheduler.SubmitRequest{
		SubjectRef: ref,
		Kind:       models.JobKindGeneral,
		PromptText: "Summarize the document.",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

// waitForStatus polls until the job reaches status or the deadline passes.
func (h *harness) waitForStatus(t *testing.T, id uuid.UUID, status models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := h.store.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.Status == status {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to be %s, last status %s", id, status, job.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// okProvider answers every request after delay, echoing the requested model.
func okProvider(delay time.Duration) *mock.MockProvider {
	return &mock.MockProvider{
		ExecuteFunc: func(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.ExecuteResult{}, ctx.Err()
			}
			return models.ExecuteResult{Text: "summary: " + req.Content, Model: req.Model}, nil
		},
	}
}
