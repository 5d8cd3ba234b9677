package shutdown

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Coordinator runs phase-ordered exit hooks exactly once.
type Coordinator struct {
	config Config

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	err      error
	done     chan struct{}
	result   *Result
	start    time.Time
}

// NewCoordinator creates a new exit-hook coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	return &Coordinator{
		config:   config,
		handlers: make([]registration, 0),
		done:     make(chan struct{}),
	}
}

// Register adds a hook. Lower phases run first; hooks sharing a phase run
// concurrently.
func (c *Coordinator) Register(name string, phase int, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:  name,
		fn:    fn,
		phase: phase,
	})
}

// Run executes all hooks. Only the first call runs them; later calls
// return ErrAlreadyShutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	ran := false
	c.once.Do(func() {
		ran = true
		c.start = time.Now()
		c.err = c.run(ctx)
		close(c.done)
	})
	if !ran {
		return ErrAlreadyShutdown
	}
	return c.err
}

// RunWithTimeout executes all hooks bounded by timeout (or DefaultTimeout).
func (c *Coordinator) RunWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Run(ctx)
}

// Result returns the detailed result, or nil until the hooks have run.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{
		Results: make([]HandlerResult, 0, len(handlers)),
	}
	defer func() {
		result.TotalDuration = time.Since(c.start)
		c.result = result
	}()

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			result.Err = ErrTimeout
			return ErrTimeout
		default:
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err != nil && overallErr == nil {
				overallErr = ErrHandlerFailed
			}
		}
		if overallErr != nil && !c.config.ContinueOnError {
			break
		}
	}

	result.Err = overallErr
	return overallErr
}

// executePhase runs all hooks in a phase concurrently.
func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.fn(ctx)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits handlers, already sorted by phase, into phase groups.
func groupByPhase(handlers []registration) [][]registration {
	if len(handlers) == 0 {
		return nil
	}

	var groups [][]registration
	var current []registration
	phase := handlers[0].phase

	for _, h := range handlers {
		if h.phase != phase {
			groups = append(groups, current)
			current = nil
			phase = h.phase
		}
		current = append(current, h)
	}
	return append(groups, current)
}
