package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Policy is the retry and breaker pair applied to one upstream. Each retry
// attempt passes through the breaker, so an opening circuit stops the
// remaining attempts.
type Policy struct {
	Upstream string
	Retry    RetryConfig
	Breaker  *CircuitBreaker
}

// NewPolicy builds a policy for upstream using its breaker from reg.
func NewPolicy(upstream string, retry RetryConfig, reg *Breakers) *Policy {
	return &Policy{Upstream: upstream, Retry: retry, Breaker: reg.Get(upstream)}
}

// Call runs fn under p. A nil policy calls fn once.
func Call[T any](ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	retry := p.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(p.Upstream, operation)
	}
	shouldRetry := retry.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && shouldRetry(err)
	}

	val, err := DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if p.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, p.Breaker, fn)
	})
	if errors.Is(err, ErrCircuitOpen) {
		zap.L().Debug("upstream circuit open",
			zap.String("upstream", p.Upstream),
			zap.String("operation", operation),
		)
	}
	return val, err
}
