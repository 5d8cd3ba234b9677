// Package gate bounds concurrent use of shared resources. Each resource
// class (database connections, local file I/O, model requests) has exactly
// one Gate, declared once on a Registry and handed to every task that
// touches that resource.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/kawashirov/vrc-localization-checker/shutdown"
)

// Resource classes used by the pipelines.
const (
	DatabaseConnection = "database-connection"
	FileIO             = "file-io"
	LLMRequest         = "llm-request"
)

// DefaultCapacities are used when the config does not override a class.
var DefaultCapacities = map[string]int{
	DatabaseConnection: 8,
	FileIO:             8,
	LLMRequest:         1,
}

var (
	// ErrUnknownGate is returned by Get for undeclared resource classes.
	ErrUnknownGate = errors.New("gate not declared")

	// ErrCapacityMismatch is returned when a class is redeclared with a
	// different capacity.
	ErrCapacityMismatch = errors.New("gate capacity mismatch")

	// ErrInvalidCapacity is returned for capacities below one.
	ErrInvalidCapacity = errors.New("gate capacity must be positive")
)

// Gate is a FIFO counting semaphore bound to the shutdown signal.
type Gate struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted
	held     atomic.Int64
	signal   *shutdown.Signal
}

// Name returns the resource class.
func (g *Gate) Name() string { return g.name }

// Capacity returns the number of permits.
func (g *Gate) Capacity() int { return int(g.capacity) }

// Held returns the number of permits currently held.
func (g *Gate) Held() int { return int(g.held.Load()) }

// Acquire waits for a permit. It returns shutdown.ErrAborted if shutdown is
// requested before, during or right after the wait, and ctx.Err() if ctx
// ends first. The caller must Release the permit.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.signal.CheckOrAbort(); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(g.signal.Context(), cancel)
	err := g.sem.Acquire(waitCtx, 1)
	stop()
	cancel()

	if err != nil {
		if g.signal.IsSet() {
			return nil, shutdown.ErrAborted
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	g.held.Add(1)
	p := &Permit{gate: g}
	if g.signal.IsSet() {
		p.Release()
		return nil, shutdown.ErrAborted
	}
	return p, nil
}

// Do runs fn while holding a permit. The permit is released on every exit
// path, panics included.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Permit is one unit of a Gate's capacity.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit. Calls after the first are no-ops.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.held.Add(-1)
		p.gate.sem.Release(1)
	})
}

// Stat is a point-in-time view of one gate.
type Stat struct {
	Name     string
	Capacity int
	Held     int
}

// Registry holds one Gate per resource class.
type Registry struct {
	mu     sync.Mutex
	gates  map[string]*Gate
	signal *shutdown.Signal
}

// NewRegistry creates an empty registry whose gates observe signal.
func NewRegistry(signal *shutdown.Signal) *Registry {
	return &Registry{
		gates:  make(map[string]*Gate),
		signal: signal,
	}
}

// Declare creates the gate for name, or returns the existing one if it was
// already declared with the same capacity.
func (r *Registry) Declare(name string, capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %s=%d", ErrInvalidCapacity, name, capacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[name]; ok {
		if g.Capacity() != capacity {
			return nil, fmt.Errorf("%w: %s declared with %d, requested %d",
				ErrCapacityMismatch, name, g.Capacity(), capacity)
		}
		return g, nil
	}

	g := &Gate{
		name:     name,
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		signal:   r.signal,
	}
	r.gates[name] = g
	return g, nil
}

// DeclareAll declares every class in capacities, falling back to
// DefaultCapacities for classes missing from it.
func (r *Registry) DeclareAll(capacities map[string]int) error {
	merged := make(map[string]int, len(DefaultCapacities))
	for name, c := range DefaultCapacities {
		merged[name] = c
	}
	for name, c := range capacities {
		merged[name] = c
	}
	for name, c := range merged {
		if _, err := r.Declare(name, c); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the gate declared for name.
func (r *Registry) Get(name string) (*Gate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}
	return g, nil
}

// Stats returns a snapshot of every gate, sorted by name.
func (r *Registry) Stats() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]Stat, 0, len(r.gates))
	for _, g := range r.gates {
		stats = append(stats, Stat{Name: g.name, Capacity: g.Capacity(), Held: g.Held()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
