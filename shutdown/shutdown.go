package shutdown

import (
	"context"
	"errors"
	"time"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
)

// ErrAborted is returned by every shutdown-aware suspension point once
// shutdown has been requested. Tasks that stop with it end as ShutdownAborted,
// which is never treated as a failure.
var ErrAborted error = kerrors.New(kerrors.ErrCodeShutdown, "shutdown requested")

// Common coordinator errors.
var (
	// ErrAlreadyShutdown indicates exit hooks were already run.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates hooks did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more hooks failed.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// HandlerResult contains the result of a single hook.
type HandlerResult struct {
	// Name of the hook.
	Name string

	// Phase the hook was registered with.
	Phase int

	// Duration how long the hook took.
	Duration time.Duration

	// Err is any error returned by the hook.
	Err error
}

// Result contains the outcome of running all hooks.
type Result struct {
	// TotalDuration of the whole hook sequence.
	TotalDuration time.Duration

	// Results for each hook.
	Results []HandlerResult

	// Err is the overall error (nil if all hooks succeeded).
	Err error
}

// FailedHandlers returns the names of hooks that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the exit-hook coordinator.
type Config struct {
	// DefaultTimeout bounds RunWithTimeout when called without a timeout.
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// ContinueOnError runs later phases even if a hook failed.
	// Default: true
	ContinueOnError bool

	// OnProgress is called when each hook completes.
	OnProgress func(result HandlerResult)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		ContinueOnError: true,
	}
}

// Phases used by the supervisor's exit hooks. Lower phases run first.
const (
	PhaseStorage   = 30 // close databases
	PhaseTelemetry = 40 // flush tracers
	PhaseLogging   = 90 // close log files last
)

type registration struct {
	name  string
	fn    func(ctx context.Context) error
	phase int
}
