package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"golang.org/x/sync/errgroup"
)

// pingTimeout bounds a single health probe during Refresh.
const pingTimeout = 10 * time.Second

type health struct {
	functional bool
	checkedAt  time.Time
	lastErr    string
}

type entry struct {
	desc     models.ProviderDescriptor
	provider models.AIProvider
	order    int
	health   atomic.Pointer[health]
}

func (e *entry) descriptor() models.ProviderDescriptor {
	d := e.desc
	h := e.health.Load()
	d.Functional = h.functional
	d.LastError = h.lastErr
	if !h.checkedAt.IsZero() {
		t := h.checkedAt
		d.LastCheckedAt = &t
	}
	return d
}

// Registry holds the known AI backends and their cached health flags.
// Health flags are read without locking; they may be a little stale.
type Registry struct {
	mu      sync.RWMutex
	ordered []*entry
	byName  map[string]*entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]*entry),
		logger: logger.With("component", "ai.registry"),
	}
}

// Register adds a provider. desc.Functional is the initial health flag.
func (r *Registry) Register(desc models.ProviderDescriptor, p models.AIProvider) error {
	if desc.Name == "" {
		return fmt.Errorf("register provider: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[desc.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, desc.Name)
	}
	e := &entry{desc: desc, provider: p, order: len(r.byName)}
	e.health.Store(&health{functional: desc.Functional})
	r.byName[desc.Name] = e

	r.ordered = append(r.ordered, e)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].desc.Priority != r.ordered[j].desc.Priority {
			return r.ordered[i].desc.Priority > r.ordered[j].desc.Priority
		}
		return r.ordered[i].order < r.ordered[j].order
	})

	metrics.ProviderFunctional.WithLabelValues(desc.Name).Set(boolGauge(desc.Functional))
	return nil
}

// Descriptors returns a snapshot ordered by descending priority, then registration order.
func (r *Registry) Descriptors() []models.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ProviderDescriptor, 0, len(r.ordered))
	for _, e := range r.ordered {
		out = append(out, e.descriptor())
	}
	return out
}

// Descriptor returns the named provider's descriptor.
func (r *Registry) Descriptor(name string) (models.ProviderDescriptor, bool) {
	e := r.lookup(name)
	if e == nil {
		return models.ProviderDescriptor{}, false
	}
	return e.descriptor(), true
}

// Provider returns the named provider implementation.
func (r *Registry) Provider(name string) (models.AIProvider, bool) {
	e := r.lookup(name)
	if e == nil {
		return nil, false
	}
	return e.provider, true
}

// SetFunctional records the outcome of a health check.
func (r *Registry) SetFunctional(name string, ok bool, checkErr error) error {
	e := r.lookup(name)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	h := &health{functional: ok, checkedAt: time.Now().UTC()}
	if checkErr != nil {
		h.lastErr = checkErr.Error()
	}
	prev := e.health.Swap(h)
	if prev.functional != ok {
		r.logger.Info("provider health changed", "provider", name, "functional", ok, "error", h.lastErr)
	}
	metrics.ProviderFunctional.WithLabelValues(name).Set(boolGauge(ok))
	return nil
}

// Refresh pings every provider in parallel and updates the health flags.
// Individual ping failures only mark that provider down; Refresh fails only if ctx does.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	entries := append([]*entry(nil), r.ordered...)
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, pingTimeout)
			defer cancel()
			err := e.provider.Ping(pctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.SetFunctional(e.desc.Name, err == nil, err)
		})
	}
	return g.Wait()
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

func (r *Registry) lookup(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
