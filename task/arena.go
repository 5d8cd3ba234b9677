package task

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// Arena indexes the tasks of one supervisor run. A task is forgotten once
// it and its parent are both terminal.
type Arena struct {
	signal *shutdown.Signal
	log    *logging.Logger
	tracer *telemetry.Tracer

	nextID atomic.Uint64

	mu    sync.Mutex
	tasks map[ID]*Task
}

// NewArena creates an empty arena. Nil logger and tracer are replaced by
// no-op implementations.
func NewArena(signal *shutdown.Signal, log *logging.Logger, tracer *telemetry.Tracer) *Arena {
	if log == nil {
		log = logging.Nop()
	}
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	return &Arena{
		signal: signal,
		log:    log,
		tracer: tracer,
		tasks:  make(map[ID]*Task),
	}
}

// Signal returns the shutdown signal every task in the arena observes.
func (a *Arena) Signal() *shutdown.Signal {
	return a.signal
}

// NewRoot creates an unstarted task with no parent.
func (a *Arena) NewRoot(ctx context.Context, name string, body Body, opts ...Option) *Task {
	t := newTask(a, ctx, 0, name, name, body, opts)
	a.register(t)
	return t
}

// Lookup returns the task with the given ID if the arena still tracks it.
func (a *Arena) Lookup(id ID) (*Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	return t, ok
}

// Live returns every non-terminal task in creation order.
func (a *Arena) Live() []*Task {
	a.mu.Lock()
	live := make([]*Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		if !t.State().Terminal() {
			live = append(live, t)
		}
	}
	a.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].id < live[j].id })
	return live
}

// Len returns the number of tracked tasks, terminal ones included.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

func (a *Arena) allocID() ID {
	return ID(a.nextID.Add(1))
}

func (a *Arena) register(t *Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[t.id] = t
}

// settle forgets t if its parent is gone, along with any terminal children
// that were only kept because t was running.
func (a *Arena) settle(t *Task) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, ok := a.tasks[t.parent]
	if t.parent == 0 || !ok || parent.State().Terminal() {
		delete(a.tasks, t.id)
	}
	for _, c := range t.Children() {
		if c.State().Terminal() {
			delete(a.tasks, c.id)
		}
	}
}

// forget removes t and its terminal descendants.
func (a *Arena) forget(t *Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgetLocked(t)
}

func (a *Arena) forgetLocked(t *Task) {
	delete(a.tasks, t.id)
	for _, c := range t.Children() {
		if c.State().Terminal() {
			a.forgetLocked(c)
		}
	}
}
