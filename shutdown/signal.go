package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kawashirov/vrc-localization-checker/logging"
)

// Signal is the process-wide, one-way shutdown flag. Once set it never
// clears. Every blocking step in the task tree observes it.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	reason string

	log *logging.Logger
}

// NewSignal creates an unset shutdown signal.
func NewSignal(log *logging.Logger) *Signal {
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Signal{
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithComponent("shutdown"),
	}
}

// Request sets the signal. Only the first call has an effect; it returns
// true for that call.
func (s *Signal) Request(reason string) bool {
	first := false
	s.once.Do(func() {
		first = true
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.log.Warn("Shutdown requested", logging.Fields{"reason": reason})
		s.cancel()
	})
	return first
}

// IsSet reports whether shutdown was requested.
func (s *Signal) IsSet() bool {
	return s.ctx.Err() != nil
}

// Reason returns the reason passed to the first Request.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel closed once shutdown is requested.
func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context returns a context cancelled once shutdown is requested.
func (s *Signal) Context() context.Context {
	return s.ctx
}

// WaitUntilSet blocks until the signal is set or timeout elapses.
// A non-positive timeout waits forever. Returns whether the signal is set.
func (s *Signal) WaitUntilSet(timeout time.Duration) bool {
	if timeout <= 0 {
		<-s.ctx.Done()
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return true
	case <-timer.C:
		return s.IsSet()
	}
}

// CheckOrAbort returns ErrAborted if shutdown was requested.
func (s *Signal) CheckOrAbort() error {
	if s.IsSet() {
		return ErrAborted
	}
	return nil
}

// Sleep waits for d. It returns true if the full duration elapsed, and false
// if shutdown was requested or ctx was cancelled first. It returns false
// immediately when the signal is already set.
func (s *Signal) Sleep(ctx context.Context, d time.Duration) bool {
	if s.IsSet() {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !s.IsSet()
	case <-s.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// HandleSignals requests shutdown on the first SIGINT or SIGTERM (or the
// given signals). After that first delivery the handler is removed so a
// second signal gets the default action and terminates the process.
// The returned stop function uninstalls the handler.
func (s *Signal) HandleSignals(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	s.log.Debug("Added signal handlers", logging.Fields{"signals": fmt.Sprint(sigs)})

	done := make(chan struct{})
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			s.Request(fmt.Sprintf("received signal %s", sig))
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
