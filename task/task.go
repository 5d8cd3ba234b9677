package task

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
)

// ErrCancelled is the cause recorded when a single task is cancelled.
var ErrCancelled error = kerrors.New(kerrors.ErrCodeCanceled, "task cancelled")

// ID identifies a task within its Arena. Zero means "no task".
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// State is a task lifecycle state.
type State int32

const (
	Created State = iota
	Running
	Completed
	Failed
	Cancelled
	ShutdownAborted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case ShutdownAborted:
		return "shutdown_aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= Completed
}

// Outcome is the terminal result of a task. Every waiter receives the same
// pointer.
type Outcome struct {
	State State

	// Err is set only for Failed.
	Err error

	// Cause explains a Cancelled or ShutdownAborted outcome.
	Cause error

	Started  time.Time
	Finished time.Time
}

// Duration returns how long the task ran. Zero for tasks that never started.
func (o *Outcome) Duration() time.Duration {
	if o.Started.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Body is the work a task performs.
type Body func(ctx context.Context, t *Task) error

// Option configures a task at creation.
type Option func(*Task)

// WithGate makes the task hold a permit of g for its whole body.
func WithGate(g *gate.Gate) Option {
	return func(t *Task) { t.gate = g }
}

// WithLogger overrides the task logger. The task name is used as component.
func WithLogger(l *logging.Logger) Option {
	return func(t *Task) { t.log = l.WithComponent(t.name) }
}

// Task is one supervised unit of work.
type Task struct {
	id     ID
	parent ID
	key    string
	name   string
	body   Body
	gate   *gate.Gate
	log    *logging.Logger
	arena  *Arena

	ctx        context.Context
	cancel     context.CancelCauseFunc
	stopSignal func() bool

	state     atomic.Int32
	startOnce sync.Once
	done      chan struct{}
	outcome   *Outcome

	mu       sync.Mutex
	runCtx   context.Context
	children []*Task
	byKey    map[string]*Task
}

func newTask(a *Arena, base context.Context, parent ID, key, name string, body Body, opts []Option) *Task {
	t := &Task{
		id:     a.allocID(),
		parent: parent,
		key:    key,
		name:   name,
		body:   body,
		arena:  a,
		done:   make(chan struct{}),
		byKey:  make(map[string]*Task),
	}
	t.log = a.log.WithComponent(name)
	for _, opt := range opts {
		opt(t)
	}

	t.ctx, t.cancel = context.WithCancelCause(base)
	t.stopSignal = context.AfterFunc(a.signal.Context(), func() {
		t.cancel(shutdown.ErrAborted)
	})
	return t
}

func (t *Task) ID() ID                  { return t.id }
func (t *Task) Name() string            { return t.name }
func (t *Task) Key() string             { return t.key }
func (t *Task) Logger() *logging.Logger { return t.log }
func (t *Task) Arena() *Arena           { return t.arena }

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Parent returns the parent task if it is still known to the arena.
func (t *Task) Parent() (*Task, bool) {
	if t.parent == 0 {
		return nil, false
	}
	return t.arena.Lookup(t.parent)
}

// Children returns the spawned children in spawn order.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Spawn creates a child identified by key. The first call for a key creates
// the child and returns true; later calls return the existing child and
// false. The child is not started.
func (t *Task) Spawn(key, name string, body Body, opts ...Option) (*Task, bool) {
	t.mu.Lock()
	if existing, ok := t.byKey[key]; ok {
		t.mu.Unlock()
		return existing, false
	}
	base := t.runCtx
	if base == nil {
		base = t.ctx
	}
	child := newTask(t.arena, context.WithoutCancel(base), t.id, key, name, body, opts)
	t.byKey[key] = child
	t.children = append(t.children, child)
	t.mu.Unlock()

	t.arena.register(child)
	return child, true
}

// Forget drops a terminal child from t and from the arena once its outcome
// has been consumed, so a long-running parent does not accumulate finished
// children. The key may be spawned again afterwards. It reports false if
// child is not a terminal child of t.
func (t *Task) Forget(child *Task) bool {
	if child == nil || child.parent != t.id || !child.State().Terminal() {
		return false
	}
	t.mu.Lock()
	if t.byKey[child.key] != child {
		t.mu.Unlock()
		return false
	}
	delete(t.byKey, child.key)
	for i, c := range t.children {
		if c == child {
			t.children = append(t.children[:i], t.children[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.arena.forget(child)
	return true
}

// Start schedules the body once and returns the channel closed when the
// task is terminal. Later calls return the same channel.
func (t *Task) Start() <-chan struct{} {
	t.startOnce.Do(func() {
		t.state.Store(int32(Running))
		go t.run()
	})
	return t.done
}

// Done returns the channel closed when the task is terminal, without
// starting it.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait starts the task if needed and blocks until it is terminal.
func (t *Task) Wait() *Outcome {
	<-t.Start()
	return t.outcome
}

// WaitContext is Wait bounded by ctx.
func (t *Task) WaitContext(ctx context.Context) (*Outcome, error) {
	select {
	case <-t.Start():
		return t.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcome returns the outcome, or nil while the task is not terminal.
func (t *Task) Outcome() *Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return nil
	}
}

// Cancel asks the task and its children to stop. A task that never started
// becomes Cancelled without running its body.
func (t *Task) Cancel() {
	t.cancel(ErrCancelled)

	unstarted := false
	t.startOnce.Do(func() {
		unstarted = true
		t.finish(Cancelled, ErrCancelled, time.Time{})
	})
	if unstarted {
		return
	}
	for _, c := range t.Children() {
		c.Cancel()
	}
}

// CheckOrAbort returns shutdown.ErrAborted once shutdown is requested and
// ErrCancelled once the task is cancelled.
func (t *Task) CheckOrAbort() error {
	if err := t.arena.signal.CheckOrAbort(); err != nil {
		return err
	}
	if t.ctx.Err() != nil {
		return context.Cause(t.ctx)
	}
	return nil
}

// Critical checks for shutdown once and then runs fn to completion on a
// context that ignores cancellation. fn is the point of no return.
func (t *Task) Critical(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := t.CheckOrAbort(); err != nil {
		return err
	}
	return fn(context.WithoutCancel(ctx))
}

// Sleep waits for d unless the task is cancelled or shutdown is requested
// first, in which case it returns the reason.
func (t *Task) Sleep(ctx context.Context, d time.Duration) error {
	if err := t.CheckOrAbort(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (t *Task) run() {
	started := time.Now()
	ctx, span := t.arena.tracer.StartTaskSpan(t.ctx, t.name, t.id.String())
	t.mu.Lock()
	t.runCtx = ctx
	t.mu.Unlock()

	t.log.TaskStarted(t.name)
	state, err := t.classify(t.execute(ctx))
	dur := time.Since(started)

	switch state {
	case Completed:
		t.log.TaskCompleted(t.name, dur)
	case ShutdownAborted:
		t.log.TaskAborted(t.name, "Shutdown before completion.", dur)
	case Cancelled:
		t.log.TaskAborted(t.name, "Cancelled before completion.", dur)
	case Failed:
		err = t.tagged(err)
		var ge *GroupError
		if errors.As(err, &ge) {
			t.log.Error("Child tasks failed", logging.Fields{
				"task":     t.name,
				"failed":   len(ge.Failures),
				"cause":    ge.Cause().Error(),
				"duration": dur.String(),
			})
		} else {
			t.log.TaskFailed(t.name, err, dur)
		}
	}

	t.arena.tracer.EndTaskSpan(span, state.String(), state == Failed, err)
	t.finish(state, err, started)
}

func (t *Task) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.RecoverPanic(r)
		}
	}()

	if err := t.CheckOrAbort(); err != nil {
		return err
	}
	if t.gate != nil {
		permit, err := t.gate.Acquire(ctx)
		if err != nil {
			return err
		}
		defer permit.Release()
	}
	return t.body(ctx, t)
}

// tagged names t as the failed task unless a task deeper in the tree already
// claimed err.
func (t *Task) tagged(err error) error {
	var ke *kerrors.Error
	if errors.As(err, &ke) && ke.Task() != "" {
		return err
	}
	return kerrors.Wrap(err, t.name, kerrors.WithTask(t.name))
}

// classify maps a body result to a terminal state.
func (t *Task) classify(err error) (State, error) {
	switch {
	case err == nil:
		return Completed, nil
	case errors.Is(err, shutdown.ErrAborted):
		return ShutdownAborted, err
	case errors.Is(err, ErrCancelled):
		return Cancelled, err
	case errors.Is(err, context.Canceled) && t.ctx.Err() != nil:
		cause := context.Cause(t.ctx)
		switch {
		case errors.Is(cause, shutdown.ErrAborted):
			return ShutdownAborted, cause
		case errors.Is(cause, ErrCancelled):
			return Cancelled, cause
		}
	}
	return Failed, err
}

func (t *Task) finish(state State, err error, started time.Time) {
	o := &Outcome{State: state, Started: started, Finished: time.Now()}
	if state == Failed {
		o.Err = err
	} else {
		o.Cause = err
	}
	t.outcome = o
	t.state.Store(int32(state))
	t.stopSignal()
	close(t.done)
	t.arena.settle(t)
}
