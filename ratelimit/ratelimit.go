package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidWindow   = errors.New("invalid window")
)

// Limiter paces access to named resources.
type Limiter interface {
	// Acquire blocks until a token is available for the resource.
	// Unknown resources are not limited.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire takes a token without blocking and reports success.
	TryAcquire(resource string) bool

	// SetCapacity configures capacity tokens per window for a resource.
	SetCapacity(resource string, capacity int, window time.Duration) error

	// Reduce lowers the capacity of a resource after throttling.
	Reduce(resource string, reason string)

	// GetCapacity returns the current state of a resource, or nil.
	GetCapacity(resource string) *Capacity

	// Close releases blocked callers with ErrClosed.
	Close() error
}

// Capacity describes the rate limit configuration for a resource.
type Capacity struct {
	Resource string

	// Available is the number of whole tokens currently in the bucket.
	Available int

	// Total is the bucket size (tokens per window).
	Total int

	Window time.Duration

	// Reductions counts Reduce calls since the last SetCapacity.
	Reductions int
}

// PerMinute is shorthand for SetCapacity(resource, n, time.Minute). A
// non-positive n leaves the resource unlimited.
func PerMinute(l Limiter, resource string, n int) error {
	if n <= 0 {
		return nil
	}
	return l.SetCapacity(resource, n, time.Minute)
}
