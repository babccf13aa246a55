// Package criteria — registry.go
//
// Criteria are stateless alarm-rule evaluators: evaluate(view) ->
// decisions. Concrete criteria are tagged by Name() and held in a
// Registry in configuration-declared order. Registration is
// instance-based, since each criterion carries its own per-sensor
// configuration rather than being selected by a single global name.

package criteria

import (
	"fmt"
	"sync"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// Criterion is a stateless alarm-rule evaluator.
//
// Contract:
//   - Evaluate must be pure: no global mutation, no I/O.
//   - Evaluate reads only from the supplied view.
//   - Evaluate must not panic; internal errors are reported via the
//     returned error and the caller counts them rather than treating
//     them as decisions.
type Criterion interface {
	// Name returns a stable identifier for logging and error counting.
	Name() string

	// Evaluate produces zero or more decisions from the current store
	// view. A sensor with no latest reading yields no decision for the
	// keys that depend on it (neither RAISED nor CLEARED).
	Evaluate(view *store.View) ([]model.AlarmDecision, error)
}

// Registry holds an ordered, named set of criteria.
type Registry struct {
	mu    sync.RWMutex
	order []Criterion
	names map[string]struct{}
}

// NewRegistry creates an empty criteria registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register appends a criterion to the registry in call order.
// Panics if a criterion with the same Name() is already registered.
func (r *Registry) Register(c Criterion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[c.Name()]; exists {
		panic(fmt.Sprintf("criteria: %q already registered", c.Name()))
	}
	r.names[c.Name()] = struct{}{}
	r.order = append(r.order, c)
}

// All returns the registered criteria in registration order.
func (r *Registry) All() []Criterion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Criterion, len(r.order))
	copy(out, r.order)
	return out
}
