// Package ratelimit paces calls to shared resources that enforce
// request-per-window quotas, such as hosted LLM APIs.
//
// The MemoryLimiter keeps one token bucket per resource:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("openai", 60, time.Minute) // 60 requests per minute
//
//	if err := limiter.Acquire(ctx, "openai"); err != nil {
//	    return err
//	}
//
// Buckets start full and refill continuously at capacity/window. A resource
// with no configured capacity is unlimited. Reduce halves a resource's
// capacity after the remote side reports throttling.
package ratelimit
