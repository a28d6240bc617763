package ai

// Selection is the provider and model chosen for one job attempt.
type Selection struct {
	Provider string
	Model    string
}

// Selector picks a functional provider from a Registry. It never probes providers itself;
// health flags are point-in-time reads.
type Selector struct {
	registry *Registry
}

func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// SelectBest returns the first functional provider by descending priority, then
// registration order.
func (s *Selector) SelectBest() (Selection, error) {
	for _, d := range s.registry.Descriptors() {
		if d.Functional {
			return Selection{Provider: d.Name, Model: d.DefaultModel}, nil
		}
	}
	return Selection{}, ErrNoProviderAvailable
}

// SelectFromPriority walks names in order and returns the first one that is registered and
// functional. Unknown names are skipped.
func (s *Selector) SelectFromPriority(names []string) (Selection, error) {
	for _, name := range names {
		d, ok := s.registry.Descriptor(name)
		if ok && d.Functional {
			return Selection{Provider: d.Name, Model: d.DefaultModel}, nil
		}
	}
	return Selection{}, ErrNoProviderAvailable
}

// Select uses names when given, otherwise SelectBest.
func (s *Selector) Select(names []string) (Selection, error) {
	if len(names) > 0 {
		return s.SelectFromPriority(names)
	}
	return s.SelectBest()
}

// Functional returns the names of every functional provider in selection order.
func (s *Selector) Functional() []Selection {
	var out []Selection
	for _, d := range s.registry.Descriptors() {
		if d.Functional {
			out = append(out, Selection{Provider: d.Name, Model: d.DefaultModel})
		}
	}
	return out
}
