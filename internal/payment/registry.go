package payment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iliyamo/content-license-server/internal/model"
)

// Registry holds registered processors.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{processors: map[string]Processor{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any processor with the same id.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.ID()] = p
}

// Get returns a registered processor by id, available or not.
func (r *Registry) Get(id string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[id]
	return p, ok
}

// Available returns the processors that report themselves usable, ordered
// by id.
func (r *Registry) Available() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, 0, len(r.processors))
	for _, p := range r.processors {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ForType returns the first available processor supporting t.
func (r *Registry) ForType(t model.PaymentType) (Processor, error) {
	for _, p := range r.Available() {
		for _, st := range p.SupportedPaymentTypes() {
			if st == t {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w for %q", ErrNoProcessor, t)
}
