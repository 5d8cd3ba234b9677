package task

import (
	"context"
	"fmt"
	"strings"
)

// GatherOptions controls Gather.
type GatherOptions struct {
	// StopOnFirstFailure cancels the remaining tasks after the first
	// failure. They are still awaited.
	StopOnFirstFailure bool
}

// Failure is one failed task inside a GroupError.
type Failure struct {
	ID   ID
	Name string
	Err  error
}

// GroupError reports the failed tasks of a Gather in completion order.
type GroupError struct {
	Failures []Failure
	Total    int
}

func (e *GroupError) Error() string {
	first := e.Failures[0]
	if len(e.Failures) == 1 {
		return first.Err.Error()
	}
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("%d of %d tasks failed (%s), first: %v",
		len(e.Failures), e.Total, strings.Join(names, ", "), first.Err)
}

// Cause returns the first failure to complete.
func (e *GroupError) Cause() error {
	return e.Failures[0].Err
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *GroupError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Gather starts the tasks in order and waits until every one of them is
// terminal. It returns a *GroupError if any task failed. Cancelled and
// shutdown-aborted tasks are not failures.
func Gather(tasks []*Task, opts GatherOptions) error {
	if len(tasks) == 0 {
		return nil
	}

	for _, t := range tasks {
		t.Start()
	}

	finished := make(chan *Task, len(tasks))
	for _, t := range tasks {
		go func(t *Task) {
			<-t.Done()
			finished <- t
		}(t)
	}

	var failures []Failure
	stopped := false
	for range tasks {
		t := <-finished
		o := t.outcome
		if o.State != Failed {
			continue
		}
		failures = append(failures, Failure{ID: t.id, Name: t.name, Err: o.Err})
		if opts.StopOnFirstFailure && !stopped {
			stopped = true
			for _, other := range tasks {
				if !other.State().Terminal() {
					other.Cancel()
				}
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return &GroupError{Failures: failures, Total: len(tasks)}
}

// GroupFuncs are the steps of a group body.
type GroupFuncs struct {
	// Prepare discovers child identities and spawns them with t.Spawn.
	Prepare func(ctx context.Context, t *Task) error

	// Finalize runs after every child is terminal, unless shutdown was
	// requested or a child failed.
	Finalize func(ctx context.Context, t *Task) error

	StopOnFirstFailure bool
}

// Group builds a body that runs Prepare, gathers every spawned child, and
// then runs Finalize. Children spawned before a failing Prepare are
// cancelled and awaited. The gather is a suspension point: shutdown is
// checked before the children start and again once they are all terminal.
func Group(f GroupFuncs) Body {
	return func(ctx context.Context, t *Task) error {
		if f.Prepare != nil {
			if err := f.Prepare(ctx, t); err != nil {
				cancelAll(t.Children())
				return err
			}
		}

		if err := t.CheckOrAbort(); err != nil {
			cancelAll(t.Children())
			return err
		}
		if err := Gather(t.Children(), GatherOptions{StopOnFirstFailure: f.StopOnFirstFailure}); err != nil {
			return err
		}
		if err := t.CheckOrAbort(); err != nil {
			return err
		}

		if f.Finalize == nil {
			return nil
		}
		return f.Finalize(ctx, t)
	}
}

func cancelAll(children []*Task) {
	for _, c := range children {
		c.Cancel()
		c.Wait()
	}
}
