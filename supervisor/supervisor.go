// Package supervisor runs one root task to completion, drains whatever is
// still running afterwards, runs exit hooks and reports an exit code.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
	"github.com/kawashirov/vrc-localization-checker/task"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// Config configures a Supervisor.
type Config struct {
	// DrainGrace bounds each drain pass. Default: 5s.
	DrainGrace time.Duration

	// HookTimeout bounds all exit hooks together. Default: 10s.
	HookTimeout time.Duration

	// Gates overrides resource class capacities.
	Gates map[string]int

	// IgnoreSignals leaves SIGINT/SIGTERM alone.
	IgnoreSignals bool
}

// Supervisor owns the shutdown signal, the gate registry, the task arena and
// the exit hooks of one run.
type Supervisor struct {
	cfg    Config
	runID  string
	log    *logging.Logger
	signal *shutdown.Signal
	gates  *gate.Registry
	arena  *task.Arena
	hooks  *shutdown.Coordinator
}

// Option configures optional collaborators.
type Option func(*options)

type options struct {
	tracer *telemetry.Tracer
}

// WithTracer sets the tracer used for task spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// New builds a supervisor and declares its gates.
func New(cfg Config, log *logging.Logger, opts ...Option) (*Supervisor, error) {
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = 10 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	o := options{tracer: telemetry.GetTracer()}
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.NewString()
	log = log.WithTraceID(runID)
	signal := shutdown.NewSignal(log)

	gates := gate.NewRegistry(signal)
	if err := gates.DeclareAll(cfg.Gates); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:    cfg,
		runID:  runID,
		log:    log.WithComponent("supervisor"),
		signal: signal,
		gates:  gates,
		arena:  task.NewArena(signal, log, o.tracer),
	}
	s.hooks = shutdown.NewCoordinator(shutdown.Config{
		ContinueOnError: true,
		OnProgress: func(r shutdown.HandlerResult) {
			if r.Err != nil {
				s.log.Error("Exit hook failed", logging.Fields{"hook": r.Name, "error": r.Err.Error()})
				return
			}
			s.log.Debug("Exit hook done", logging.Fields{"hook": r.Name, "duration": r.Duration.String()})
		},
	})
	return s, nil
}

func (s *Supervisor) RunID() string            { return s.runID }
func (s *Supervisor) Signal() *shutdown.Signal { return s.signal }
func (s *Supervisor) Gates() *gate.Registry    { return s.gates }
func (s *Supervisor) Arena() *task.Arena       { return s.arena }

// OnExit registers a hook run once after the drain loop. Lower phases run
// first.
func (s *Supervisor) OnExit(name string, phase int, fn func(ctx context.Context) error) {
	s.hooks.Register(name, phase, fn)
}

// Run executes body as the root task named name and returns the process
// exit code: 1 if the root task failed, 0 otherwise. Cancelling ctx
// requests shutdown.
func (s *Supervisor) Run(ctx context.Context, name string, body task.Body) int {
	if !s.cfg.IgnoreSignals {
		stop := s.signal.HandleSignals()
		defer stop()
	}
	stopCtx := context.AfterFunc(ctx, func() {
		s.signal.Request("context cancelled")
	})
	defer stopCtx()

	s.log.Info("Starting", logging.Fields{"root": name})
	root := s.arena.NewRoot(context.WithoutCancel(ctx), name, body)
	outcome := root.Wait()

	code := 0
	if outcome.State == task.Failed {
		code = 1
		s.log.Error("Root task failed", failureFields(name, outcome.Err))
		s.signal.Request("root task failed")
	}

	s.Drain()

	s.runHooks()

	s.log.Info("Finished", logging.Fields{
		"root":      name,
		"state":     outcome.State.String(),
		"exit_code": code,
		"duration":  outcome.Duration().String(),
	})
	return code
}

// runHooks runs the exit hooks once. Later calls do nothing.
func (s *Supervisor) runHooks() {
	err := s.hooks.RunWithTimeout(s.cfg.HookTimeout)
	if err == nil || errors.Is(err, shutdown.ErrAlreadyShutdown) {
		return
	}
	fields := logging.Fields{"error": err.Error()}
	if res := s.hooks.Result(); res != nil {
		fields["failed"] = res.FailedHandlers()
		fields["duration"] = res.TotalDuration.String()
	}
	s.log.Warn("Exit hooks incomplete", fields)
}

// failureFields describes a failed root: the error, its code and category,
// the innermost failed task and any metadata the error carries.
func failureFields(root string, err error) logging.Fields {
	fields := logging.Fields{
		"root":     root,
		"error":    err.Error(),
		"code":     kerrors.Code(err).String(),
		"category": kerrors.Category(err).String(),
	}
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		fields["task"] = ke.Task()
		fields["retryable"] = ke.Retryable()
		for k, v := range ke.Metadata() {
			if _, taken := fields[k]; !taken {
				fields[k] = v
			}
		}
	}
	return fields
}

// Drain cancels every live task and waits up to DrainGrace for them to
// settle, repeating until none are left.
func (s *Supervisor) Drain() {
	for pass := 1; ; pass++ {
		live := s.arena.Live()
		if len(live) == 0 {
			return
		}

		s.log.Warn("Cancelling outstanding tasks", logging.Fields{
			"pass":  pass,
			"tasks": len(live),
		})
		for _, t := range live {
			t.Cancel()
		}

		settled := waitAll(live, s.cfg.DrainGrace)
		s.log.Info("Drain pass done", logging.Fields{
			"pass":        pass,
			"settled":     settled,
			"outstanding": len(live) - settled,
		})
	}
}

// waitAll waits until every task is terminal or grace elapses, and returns
// how many are terminal.
func waitAll(tasks []*task.Task, grace time.Duration) int {
	timer := time.NewTimer(grace)
	defer timer.Stop()

wait:
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-timer.C:
			break wait
		}
	}

	settled := 0
	for _, t := range tasks {
		if t.State().Terminal() {
			settled++
		}
	}
	return settled
}
