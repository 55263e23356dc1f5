package adapter

import (
	"context"

	"github.com/confluence-watch/internal/circuitbreaker"
	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/retry"
	"golang.org/x/time/rate"
)

// Guard wraps a single upstream-adapter instance with the three ambient
// concerns every adapter call needs: a per-provider rate limiter (the
// "2-3s gap" minimum-spacing rule of spec §4.1/§5, with a burst; it does
// not cap how many calls are in flight at once), capped exponential
// backoff, and a circuit breaker. Concrete adapters
// embed a Guard and call Do around every upstream round trip.
type Guard struct {
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   *retry.RetryConfig
}

// NewGuard builds a Guard for an adapter instance named name. minSpacing
// is the minimum duration between calls; burst is the number of calls
// allowed to fire immediately before spacing applies.
func NewGuard(name string, minSpacing rate.Limit, burst int) *Guard {
	return &Guard{
		limiter: rate.NewLimiter(minSpacing, burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(name)),
		retry:   retry.DefaultRetryConfig(),
	}
}

// Do runs fn under the rate limiter, circuit breaker, and retry policy.
// fn must itself classify its own errors into an internal/errors Kind;
// Do does not reinterpret a nil vs non-nil error beyond that.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return pipelineerrors.New(pipelineerrors.RateLimited, op, "rate limiter wait cancelled", err)
	}

	var breakerOpen error
	result := retry.WithExponentialBackoff(ctx, g.retry, func(ctx context.Context, attempt int) error {
		breakerErr := g.breaker.Execute(ctx, func() error {
			return fn(ctx)
		})
		if breakerErr == circuitbreaker.ErrCircuitOpen || breakerErr == circuitbreaker.ErrTooManyRequests {
			// Breaker is open; don't burn retry attempts hammering a
			// known-down provider, surface immediately.
			breakerOpen = breakerErr
			return nil
		}
		return breakerErr
	})
	if breakerOpen != nil {
		return breakerOpen
	}

	if !result.Success {
		return result.LastError
	}
	return nil
}
