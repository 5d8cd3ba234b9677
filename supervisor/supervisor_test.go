package supervisor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
	"github.com/kawashirov/vrc-localization-checker/task"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSupervisor(t *testing.T) (*Supervisor, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	log, err := logging.Setup(logging.Config{Level: logging.LevelDebug, Console: out})
	require.NoError(t, err)
	s, err := New(Config{DrainGrace: 50 * time.Millisecond, IgnoreSignals: true}, log)
	require.NoError(t, err)
	return s, out
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		body task.Body
		code int
	}{
		{"completed", func(context.Context, *task.Task) error { return nil }, 0},
		{"failed", func(context.Context, *task.Task) error { return errors.New("db locked") }, 1},
		{"aborted", func(context.Context, *task.Task) error { return shutdown.ErrAborted }, 0},
		{"cancelled", func(context.Context, *task.Task) error { return task.ErrCancelled }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSupervisor(t)
			assert.Equal(t, tt.code, s.Run(context.Background(), tt.name, tt.body))
		})
	}
}

func TestRootFailureRequestsShutdown(t *testing.T) {
	s, out := newSupervisor(t)
	code := s.Run(context.Background(), "sync", func(context.Context, *task.Task) error {
		return errors.New("keys.txt missing")
	})

	assert.Equal(t, 1, code)
	assert.True(t, s.Signal().IsSet())
	assert.Equal(t, "root task failed", s.Signal().Reason())
	assert.Contains(t, out.String(), "Root task failed")
	assert.Contains(t, out.String(), "keys.txt missing")
	assert.Contains(t, out.String(), "code=INTERNAL")
	assert.Contains(t, out.String(), "task=sync")
}

func TestRootFailureLogsErrorDetails(t *testing.T) {
	s, out := newSupervisor(t)
	code := s.Run(context.Background(), "sync", task.Group(task.GroupFuncs{
		Prepare: func(ctx context.Context, t *task.Task) error {
			t.Spawn("ru", "UI/ru", func(context.Context, *task.Task) error {
				return kerrors.InvalidInput("line count mismatch", kerrors.WithMetadata("path", "UI/ru.txt"))
			})
			return nil
		},
	}))

	assert.Equal(t, 1, code)
	log := out.String()
	assert.Contains(t, log, "code=INVALID_INPUT")
	assert.Contains(t, log, "category=permanent")
	assert.Contains(t, log, "task=UI/ru")
	assert.Contains(t, log, "path=UI/ru.txt")
	assert.Contains(t, log, "retryable=false")
}

// A child nobody awaits is cancelled by the drain loop before Run returns.
func TestDrainCancelsOrphans(t *testing.T) {
	s, out := newSupervisor(t)

	var orphan *task.Task
	code := s.Run(context.Background(), "root", func(ctx context.Context, t *task.Task) error {
		orphan, _ = t.Spawn("orphan", "orphan", func(ctx context.Context, t *task.Task) error {
			<-ctx.Done()
			return context.Cause(ctx)
		})
		orphan.Start()
		return nil
	})

	assert.Equal(t, 0, code)
	require.NotNil(t, orphan.Outcome())
	assert.Equal(t, task.Cancelled, orphan.Outcome().State)
	assert.Empty(t, s.Arena().Live())
	assert.Contains(t, out.String(), "Cancelling outstanding tasks")
}

// A task slower than the grace period is picked up again by the next pass.
func TestDrainRepeatsUntilEmpty(t *testing.T) {
	s, out := newSupervisor(t)

	var slow *task.Task
	s.Run(context.Background(), "root", func(ctx context.Context, t *task.Task) error {
		slow, _ = t.Spawn("slow", "slow", func(ctx context.Context, t *task.Task) error {
			<-ctx.Done()
			time.Sleep(120 * time.Millisecond)
			return context.Cause(ctx)
		})
		slow.Start()
		return nil
	})

	require.NotNil(t, slow.Outcome())
	assert.Empty(t, s.Arena().Live())
	assert.Contains(t, out.String(), "pass=2")
}

// Unstarted children are cancelled without running.
func TestDrainCancelsUnstarted(t *testing.T) {
	s, _ := newSupervisor(t)
	ran := false
	var pending *task.Task
	s.Run(context.Background(), "root", func(ctx context.Context, t *task.Task) error {
		pending, _ = t.Spawn("p", "pending", func(context.Context, *task.Task) error {
			ran = true
			return nil
		})
		return nil
	})
	assert.Equal(t, task.Cancelled, pending.Outcome().State)
	assert.False(t, ran)
}

func TestContextCancelRequestsShutdown(t *testing.T) {
	s, _ := newSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	code := s.Run(ctx, "root", func(ctx context.Context, t *task.Task) error {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx)
	})

	assert.Equal(t, 0, code)
	assert.Equal(t, "context cancelled", s.Signal().Reason())
}

func TestExitHooksRunAfterDrain(t *testing.T) {
	s, _ := newSupervisor(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	s.OnExit("log", shutdown.PhaseLogging, record("log"))
	s.OnExit("db", shutdown.PhaseStorage, record("db"))

	started := make(chan struct{})
	code := s.Run(context.Background(), "root", func(ctx context.Context, t *task.Task) error {
		orphan, _ := t.Spawn("o", "orphan", func(ctx context.Context, t *task.Task) error {
			close(started)
			<-ctx.Done()
			_ = record("orphan")(ctx)
			return context.Cause(ctx)
		})
		orphan.Start()
		<-started
		return nil
	})

	assert.Equal(t, 0, code)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"orphan", "db", "log"}, order)
}

func TestFailedExitHookIsReported(t *testing.T) {
	s, out := newSupervisor(t)
	s.OnExit("db", shutdown.PhaseStorage, func(context.Context) error { return errors.New("database is locked") })
	s.OnExit("log", shutdown.PhaseLogging, func(context.Context) error { return nil })

	code := s.Run(context.Background(), "root", func(context.Context, *task.Task) error { return nil })
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Exit hooks incomplete")
	assert.Contains(t, out.String(), "failed=[db]")
}

func TestGatesDeclared(t *testing.T) {
	s, err := New(Config{Gates: map[string]int{gate.LLMRequest: 2}}, nil)
	require.NoError(t, err)

	g, err := s.Gates().Get(gate.LLMRequest)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Capacity())

	g, err = s.Gates().Get(gate.DatabaseConnection)
	require.NoError(t, err)
	assert.Equal(t, 8, g.Capacity())

	_, err = New(Config{Gates: map[string]int{gate.FileIO: 0}}, nil)
	assert.ErrorIs(t, err, gate.ErrInvalidCapacity)
	assert.NotEmpty(t, s.RunID())
}
