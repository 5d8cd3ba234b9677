package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock returns a limiter whose TryAcquire and GetCapacity read a
// manually advanced clock.
func fakeClock() (*MemoryLimiter, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter()
	limiter.nowFunc = func() time.Time { return now }
	return limiter, &now
}

func TestMemoryLimiter_SetCapacity(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	if err := limiter.SetCapacity("test-api", 10, time.Minute); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}

	c := limiter.GetCapacity("test-api")
	if c == nil {
		t.Fatal("expected capacity, got nil")
	}
	if c.Total != 10 {
		t.Errorf("expected capacity 10, got %d", c.Total)
	}
	if c.Available != 10 {
		t.Errorf("expected available 10, got %d", c.Available)
	}
	if c.Window != time.Minute {
		t.Errorf("expected window 1m, got %v", c.Window)
	}
}

func TestMemoryLimiter_SetCapacityInvalid(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	if err := limiter.SetCapacity("x", 0, time.Minute); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
	if err := limiter.SetCapacity("x", 1, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
	if limiter.GetCapacity("x") != nil {
		t.Error("invalid settings must not create a bucket")
	}
}

func TestMemoryLimiter_TryAcquire(t *testing.T) {
	limiter, _ := fakeClock()
	defer limiter.Close()

	limiter.SetCapacity("test-api", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.TryAcquire("test-api") {
			t.Errorf("expected TryAcquire to succeed on attempt %d", i+1)
		}
	}
	if limiter.TryAcquire("test-api") {
		t.Error("expected TryAcquire to fail after exhausting capacity")
	}
	if c := limiter.GetCapacity("test-api"); c.Available != 0 {
		t.Errorf("expected available 0, got %d", c.Available)
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	limiter, now := fakeClock()
	defer limiter.Close()

	limiter.SetCapacity("test-api", 6, time.Minute)
	for limiter.TryAcquire("test-api") {
	}

	// One token every 10 seconds.
	*now = now.Add(10 * time.Second)
	if !limiter.TryAcquire("test-api") {
		t.Fatal("expected a token after 10s")
	}
	if limiter.TryAcquire("test-api") {
		t.Fatal("expected only one token after 10s")
	}

	*now = now.Add(time.Hour)
	if c := limiter.GetCapacity("test-api"); c.Available != 6 {
		t.Errorf("bucket must not overfill: available %d", c.Available)
	}
}

func TestMemoryLimiter_UnknownResourceIsUnlimited(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	for i := 0; i < 100; i++ {
		if !limiter.TryAcquire("free") {
			t.Fatal("unknown resource must not be limited")
		}
	}
	if err := limiter.Acquire(context.Background(), "free"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}

func TestMemoryLimiter_Acquire_Blocking(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	// One token per 100ms.
	limiter.SetCapacity("test-api", 1, 100*time.Millisecond)
	if err := limiter.Acquire(context.Background(), "test-api"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background(), "test-api"); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected second Acquire to wait for refill, took %v", elapsed)
	}
}

func TestMemoryLimiter_Acquire_ContextCancel(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("test-api", 1, time.Hour)
	limiter.TryAcquire("test-api")

	cause := errors.New("shutting down")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(cause)
	}()

	if err := limiter.Acquire(ctx, "test-api"); !errors.Is(err, cause) {
		t.Errorf("expected cancel cause, got %v", err)
	}
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter()
	limiter.SetCapacity("test-api", 1, time.Hour)
	limiter.TryAcquire("test-api")

	done := make(chan error, 1)
	go func() {
		done <- limiter.Acquire(context.Background(), "test-api")
	}()

	time.Sleep(20 * time.Millisecond)
	limiter.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the waiter")
	}

	if limiter.TryAcquire("other") {
		t.Error("closed limiter must refuse tokens")
	}
	if err := limiter.SetCapacity("x", 1, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := limiter.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMemoryLimiter_Reduce(t *testing.T) {
	limiter, _ := fakeClock()
	defer limiter.Close()

	limiter.SetCapacity("llm", 8, time.Minute)
	limiter.Reduce("llm", "429")
	limiter.Reduce("llm", "429")

	c := limiter.GetCapacity("llm")
	if c.Total != 2 {
		t.Errorf("expected capacity 2, got %d", c.Total)
	}
	if c.Reductions != 2 {
		t.Errorf("expected 2 reductions, got %d", c.Reductions)
	}
	if c.Available > 2 {
		t.Errorf("available must be clamped to capacity, got %d", c.Available)
	}

	limiter.Reduce("llm", "429")
	limiter.Reduce("llm", "429")
	if c := limiter.GetCapacity("llm"); c.Total != 1 {
		t.Errorf("capacity must not drop below 1, got %d", c.Total)
	}

	limiter.SetCapacity("llm", 8, time.Minute)
	if c := limiter.GetCapacity("llm"); c.Reductions != 0 || c.Total != 8 {
		t.Errorf("SetCapacity must reset reductions: %+v", c)
	}

	// Unknown resources are ignored.
	limiter.Reduce("nope", "429")
}

func TestPerMinute(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	if err := PerMinute(limiter, "llm", 0); err != nil {
		t.Fatalf("PerMinute(0): %v", err)
	}
	if limiter.GetCapacity("llm") != nil {
		t.Error("zero rate must leave the resource unlimited")
	}

	if err := PerMinute(limiter, "llm", 30); err != nil {
		t.Fatalf("PerMinute(30): %v", err)
	}
	if c := limiter.GetCapacity("llm"); c.Total != 30 || c.Window != time.Minute {
		t.Errorf("unexpected capacity %+v", c)
	}
}
