package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kawashirov/vrc-localization-checker/logging"
)

type bucket struct {
	limiter    *rate.Limiter
	capacity   int
	window     time.Duration
	reductions int
}

func newBucket(capacity int, window time.Duration) *bucket {
	every := rate.Limit(float64(capacity) / window.Seconds())
	return &bucket{
		limiter:  rate.NewLimiter(every, capacity),
		capacity: capacity,
		window:   window,
	}
}

// MemoryLimiter provides in-process rate limiting using token buckets.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates a new in-memory rate limiter.
func NewMemoryLimiter() *MemoryLimiter {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		log:     logging.Nop(),
		ctx:     ctx,
		cancel:  cancel,
		nowFunc: time.Now,
	}
}

// SetLogger sets the logger used to report capacity reductions.
func (m *MemoryLimiter) SetLogger(log *logging.Logger) {
	if log == nil {
		log = logging.Nop()
	}
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

// SetCapacity configures the rate limit for a resource. Reconfiguring an
// existing resource keeps its current tokens, clamped to the new capacity.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}
	if window <= 0 {
		return ErrInvalidWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	b, ok := m.buckets[resource]
	if !ok {
		m.buckets[resource] = newBucket(capacity, window)
		return nil
	}
	now := m.nowFunc()
	b.capacity = capacity
	b.window = window
	b.reductions = 0
	b.limiter.SetLimitAt(now, rate.Limit(float64(capacity)/window.Seconds()))
	b.limiter.SetBurstAt(now, capacity)
	return nil
}

// Reduce halves the capacity of a resource, never below one token per window.
func (m *MemoryLimiter) Reduce(resource, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok || m.closed {
		return
	}
	next := b.capacity / 2
	if next < 1 {
		next = 1
	}
	if next == b.capacity {
		return
	}

	now := m.nowFunc()
	m.log.Warn("Reducing request rate", logging.Fields{
		"resource": resource,
		"from":     b.capacity,
		"to":       next,
		"window":   b.window.String(),
		"reason":   reason,
	})
	b.capacity = next
	b.reductions++
	b.limiter.SetLimitAt(now, rate.Limit(float64(next)/b.window.Seconds()))
	b.limiter.SetBurstAt(now, next)
}

// GetCapacity returns the current capacity info for a resource.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	return &Capacity{
		Resource:   resource,
		Available:  int(b.limiter.TokensAt(m.nowFunc())),
		Total:      b.capacity,
		Window:     b.window,
		Reductions: b.reductions,
	}
}

// TryAcquire attempts to take a token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	b, ok := m.buckets[resource]
	if !ok {
		return true
	}
	return b.limiter.AllowN(m.nowFunc(), 1)
}

// Acquire blocks until a token is available for the resource, ctx ends, or
// the limiter is closed. The returned error is the cause of ctx, or ErrClosed.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	b, ok := m.buckets[resource]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(m.ctx, func() { cancel(ErrClosed) })
	defer stop()

	if err := b.limiter.Wait(waitCtx); err != nil {
		if cause := context.Cause(waitCtx); cause != nil {
			return cause
		}
		// The deadline of ctx falls before the next token.
		return err
	}
	return nil
}

// Close shuts down the limiter. Blocked Acquire calls return ErrClosed.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel(ErrClosed)
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
