package ratelimit

import "context"

// RateLimiter bounds outbound send throughput per delivery provider. A nil
// limiter means unlimited.
type RateLimiter interface {
	Allow(ctx context.Context, provider string) (bool, error)
	Wait(ctx context.Context, provider string) error
}
