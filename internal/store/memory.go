package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// MemoryStore keeps jobs and API keys in process memory. It is meant for local runs
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	keys map[uuid.UUID]*models.APIKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	stored := job.Clone()
	if stored.ProviderPriority == nil {
		stored.ProviderPriority = []string{}
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]string{}
	}
	s.jobs[job.ID] = stored
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if matches(j, filter) {
			matched = append(matched, j)
		}
	}
	slices.SortFunc(matched, func(a, b *models.Job) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if !filter.OldestFirst {
			c = -c
		}
		if c == 0 {
			return slices.Compare(a.ID[:], b.ID[:])
		}
		return c
	})

	total := len(matched)
	offset := max(filter.Offset, 0)
	if offset > total {
		offset = total
	}
	end := min(offset+normalizeLimit(filter.Limit), total)

	out := make([]*models.Job, 0, end-offset)
	for _, j := range matched[offset:end] {
		out = append(out, j.Clone())
	}
	return out, total, nil
}

func matches(j *models.Job, f JobFilter) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Provider != "" && j.Provider != f.Provider {
		return false
	}
	if f.GroupID != "" && j.Metadata[models.MetaGroupID] != f.GroupID {
		return false
	}
	if !f.CompletedBefore.IsZero() && (j.CompletedAt == nil || !j.CompletedAt.Before(f.CompletedBefore)) {
		return false
	}
	if !f.DueBy.IsZero() && j.NotBefore != nil && j.NotBefore.After(f.DueBy) {
		return false
	}
	return true
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, expected, next models.JobStatus, opts ...JobUpdateOption) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status != expected {
		return false, nil
	}

	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if params.ClearError {
		j.ErrorMessage = nil
	}
	if params.Result != nil {
		r := *params.Result
		j.Result = &r
	}
	if params.Provider != nil {
		j.Provider = *params.Provider
		j.Model = *params.Model
	}
	if params.StartedAt != nil && j.StartedAt == nil {
		t := *params.StartedAt
		j.StartedAt = &t
	}
	if params.CompletedAt != nil {
		t := *params.CompletedAt
		j.CompletedAt = &t
	}
	if params.ClearCompletedAt {
		j.CompletedAt = nil
	}
	if params.RetryCount != nil {
		j.RetryCount = *params.RetryCount
	}
	if params.NotBefore != nil {
		t := *params.NotBefore
		j.NotBefore = &t
	}
	if params.ClearNotBefore {
		j.NotBefore = nil
	}
	if params.CancelRequestedAt != nil && j.CancelRequestedAt == nil {
		t := *params.CancelRequestedAt
		j.CancelRequestedAt = &t
	}
	if params.ClearCancel {
		j.CancelRequestedAt = nil
	}
	return true, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *MemoryStore) JobStats(context.Context) (*models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.JobStats{}
	var total time.Duration
	var n int
	for _, j := range s.jobs {
		stats.Add(j.Status, 1)
		if j.Status == models.JobStatusCompleted && j.StartedAt != nil && j.CompletedAt != nil {
			total += j.CompletedAt.Sub(*j.StartedAt)
			n++
		}
	}
	if n > 0 {
		stats.AvgDuration = total.Seconds() / float64(n)
	}
	return stats, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	c := *key
	c.Scopes = append([]string(nil), key.Scopes...)
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.APIKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}
