package batch

import (
	"fmt"
	"sync"
)

// Registry manages the registered batch phases and resolves their
// execution order from declared dependencies.
type Registry struct {
	mu     sync.RWMutex
	phases map[string]Phase
	order  []string // registration order, used as a tiebreak
}

// NewRegistry creates an empty phase registry.
func NewRegistry() *Registry {
	return &Registry{
		phases: make(map[string]Phase),
		order:  make([]string, 0),
	}
}

// Register adds a phase to the registry.
func (r *Registry) Register(phase Phase) error {
	if phase == nil {
		return fmt.Errorf("cannot register nil phase")
	}
	id := phase.ID()
	if id == "" {
		return fmt.Errorf("phase ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.phases[id]; exists {
		return fmt.Errorf("phase with ID %s already registered", id)
	}
	r.phases[id] = phase
	r.order = append(r.order, id)
	return nil
}

// Get retrieves a phase by ID.
func (r *Registry) Get(id string) (Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phase, exists := r.phases[id]
	if !exists {
		return nil, fmt.Errorf("phase with ID %s not found", id)
	}
	return phase, nil
}

// Has checks if a phase is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.phases[id]
	return exists
}

// ListIDs returns all registered phase IDs in registration order.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of registered phases.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.phases)
}

// DependencyOrder returns the phases topologically sorted by their declared
// dependencies, using registration order to break ties. It fails on missing
// dependencies and cycles.
func (r *Registry) DependencyOrder() ([]Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dependents := make(map[string][]string)
	inDegree := make(map[string]int)
	for id := range r.phases {
		dependents[id] = []string{}
		inDegree[id] = 0
	}
	for id, phase := range r.phases {
		for _, dep := range phase.Dependencies() {
			if _, exists := r.phases[dep]; !exists {
				return nil, fmt.Errorf("phase %s depends on non-existent phase %s", id, dep)
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	// Kahn's algorithm, seeding and re-queueing in registration order.
	queue := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]Phase, 0, len(r.phases))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, r.phases[current])

		ready := make(map[string]bool)
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready[dependent] = true
			}
		}
		for _, id := range r.order {
			if ready[id] {
				queue = append(queue, id)
			}
		}
	}

	if len(ordered) != len(r.phases) {
		return nil, fmt.Errorf("dependency cycle detected")
	}
	return ordered, nil
}

// ValidateDependencies checks that every declared dependency exists and that
// the graph is acyclic.
func (r *Registry) ValidateDependencies() error {
	r.mu.RLock()
	for id, phase := range r.phases {
		for _, dep := range phase.Dependencies() {
			if _, exists := r.phases[dep]; !exists {
				r.mu.RUnlock()
				return fmt.Errorf("phase %s depends on non-existent phase %s", id, dep)
			}
		}
	}
	r.mu.RUnlock()

	_, err := r.DependencyOrder()
	return err
}
