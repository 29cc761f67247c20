package providers

import (
	"context"
	"errors"

	"github.com/aj-archipelago/cortex/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM provider plugins.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int) *BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     backoff.DefaultPolicy(),
	}
}

// Retry runs op with exponential backoff and jitter, stopping early on a
// non-retryable error as classified by ClassifyError. It drives
// backoff.RetryWithBackoff rather than re-implementing the attempt/sleep
// loop: a non-retryable error cancels a child context so RetryWithBackoff's
// own ctx.Err() check short-circuits the remaining attempts.
func (b *BaseProvider) Retry(ctx context.Context, op func() error) error {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, err := backoff.RetryWithBackoff(childCtx, b.policy, b.maxRetries, func(_ int) (struct{}, error) {
		opErr := op()
		if opErr != nil && !ClassifyError(opErr).IsRetryable() {
			cancel()
		}
		return struct{}{}, opErr
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
		return result.LastError
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// our own cancel() fired on a non-retryable op error, not a
		// caller-side cancellation; surface the real error instead.
		return result.LastError
	}
	return err
}
