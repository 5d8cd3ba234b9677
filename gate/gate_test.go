package gate

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawashirov/vrc-localization-checker/shutdown"
)

func newGate(t *testing.T, capacity int) (*Gate, *shutdown.Signal) {
	t.Helper()
	sig := shutdown.NewSignal(nil)
	g, err := NewRegistry(sig).Declare("test", capacity)
	require.NoError(t, err)
	return g, sig
}

func TestDeclare(t *testing.T) {
	r := NewRegistry(shutdown.NewSignal(nil))

	g1, err := r.Declare(FileIO, 4)
	require.NoError(t, err)
	g2, err := r.Declare(FileIO, 4)
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	_, err = r.Declare(FileIO, 5)
	assert.ErrorIs(t, err, ErrCapacityMismatch)

	_, err = r.Declare(LLMRequest, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = r.Get(DatabaseConnection)
	assert.ErrorIs(t, err, ErrUnknownGate)

	got, err := r.Get(FileIO)
	require.NoError(t, err)
	assert.Same(t, g1, got)
}

func TestDeclareAllAppliesDefaults(t *testing.T) {
	r := NewRegistry(shutdown.NewSignal(nil))
	require.NoError(t, r.DeclareAll(map[string]int{LLMRequest: 3}))

	assert.Equal(t, []Stat{
		{Name: DatabaseConnection, Capacity: 8},
		{Name: FileIO, Capacity: 8},
		{Name: LLMRequest, Capacity: 3},
	}, r.Stats())
}

func TestPermitReleaseIsIdempotent(t *testing.T) {
	g, _ := newGate(t, 1)

	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.Held())

	p.Release()
	p.Release()
	assert.Equal(t, 0, g.Held())

	// Capacity is intact: exactly one permit can be taken again.
	p, err = g.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	p.Release()
}

func TestDoReleasesOnPanic(t *testing.T) {
	g, _ := newGate(t, 1)

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, g.Held())
}

func TestAcquireAfterShutdown(t *testing.T) {
	g, sig := newGate(t, 2)
	sig.Request("test")

	_, err := g.Acquire(context.Background())
	assert.ErrorIs(t, err, shutdown.ErrAborted)
	assert.Equal(t, 0, g.Held())
}

func TestShutdownAbandonsWaiters(t *testing.T) {
	g, sig := newGate(t, 1)
	holder, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer holder.Release()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := g.Acquire(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	sig.Request("test")

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, shutdown.ErrAborted)
		case <-time.After(time.Second):
			t.Fatal("waiter not released by shutdown")
		}
	}
	assert.Equal(t, 1, g.Held())
}

func TestAcquireServesWaitersInOrder(t *testing.T) {
	g, _ := newGate(t, 1)
	holder, err := g.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, g.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}))
		}(i)
		// let waiter i queue before i+1
		time.Sleep(10 * time.Millisecond)
	}

	holder.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

// Randomized workloads never exceed capacity.
func TestHeldNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 20; round++ {
		capacity := 1 + rng.Intn(5)
		workers := 5 + rng.Intn(30)
		g, _ := newGate(t, capacity)

		var inside, peak atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			hold := time.Duration(rng.Intn(500)) * time.Microsecond
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := g.Do(context.Background(), func(context.Context) error {
					n := inside.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(hold)
					inside.Add(-1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int64(capacity), "round %d", round)
		assert.Equal(t, 0, g.Held())
	}
}

// A gate of capacity 2 with 5 holders: at most 2 hold at once, all finish.
func TestCapacityTwoFiveHolders(t *testing.T) {
	g, _ := newGate(t, 2)

	var inside, peak, done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inside.Add(-1)
				done.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), peak.Load())
	assert.Equal(t, int64(5), done.Load())
}
