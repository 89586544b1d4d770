package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSource exposes circuit breaker state for health reporting.
type BreakerSource interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// DependencyHealth is the health snapshot of one downstream dependency.
type DependencyHealth struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// IsHealthy returns true if the circuit is closed.
func (h *DependencyHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the circuit is half-open.
func (h *DependencyHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the circuit is open.
func (h *DependencyHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks dependencies and their last outcomes.
type Registry struct {
	mu   sync.RWMutex
	deps map[string]*registeredDependency
}

type registeredDependency struct {
	source        BreakerSource
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{deps: make(map[string]*registeredDependency)}
}

// Register adds a dependency. A nil source reports as always closed.
func (r *Registry) Register(name string, source BreakerSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[name] = &registeredDependency{source: source}
}

// Unregister removes a dependency.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deps, name)
}

// RecordSuccess records a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastSuccessAt = &now
	}
}

// RecordFailure records a failed call.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastFailureAt = &now
		if err != nil {
			d.lastError = err.Error()
		}
	}
}

// GetHealth returns the health of one dependency, or nil if unknown.
func (r *Registry) GetHealth(name string) *DependencyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deps[name]
	if !ok {
		return nil
	}
	return d.snapshot(name)
}

// GetAllHealth returns the health of every dependency, sorted by name.
func (r *Registry) GetAllHealth() []*DependencyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DependencyHealth, 0, len(r.deps))
	for name, d := range r.deps {
		out = append(out, d.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered dependencies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deps)
}

func (d *registeredDependency) snapshot(name string) *DependencyHealth {
	h := &DependencyHealth{
		Name:          name,
		CircuitState:  gobreaker.StateClosed,
		LastSuccessAt: d.lastSuccessAt,
		LastFailureAt: d.lastFailureAt,
		LastError:     d.lastError,
	}
	if d.source != nil {
		h.CircuitState = d.source.State()
		h.Counts = d.source.Counts()
	}
	return h
}
