package providers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aj-archipelago/cortex/internal/ratelimit"
)

// defaultRequestsPerSecond is applied when a model declares no explicit
// rate (§3 Model.RequestsPerSecond): generous enough not to throttle a
// lightly configured deployment, while still giving the circuit breaker
// and in-flight tracking somewhere to live.
const defaultRequestsPerSecond = 50

// RateLimitedPlugin decorates a Plugin with per-model endpoint selection
// (§4.2): Complete acquires capacity from sel before the underlying
// plugin dials out, and records the dial outcome against the selected
// endpoint's circuit breaker. Streaming errors delivered later via
// StreamChunk.Err are the caller's concern (§4.3.4) — the breaker here
// only protects against an endpoint that is failing to establish calls
// at all.
type RateLimitedPlugin struct {
	Plugin
	Selector *ratelimit.Selector
}

// NewRateLimitedPlugin wraps base with sel.
func NewRateLimitedPlugin(base Plugin, sel *ratelimit.Selector) *RateLimitedPlugin {
	return &RateLimitedPlugin{Plugin: base, Selector: sel}
}

func (r *RateLimitedPlugin) Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	var chunks <-chan StreamChunk
	err := r.Selector.Execute(ctx, func(ctx context.Context, _ *ratelimit.Endpoint) error {
		c, err := r.Plugin.Complete(ctx, req)
		if err != nil {
			return err
		}
		chunks = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// NewModelSelector builds a single-endpoint Selector for a model, sized by
// its declared RequestsPerSecond (§3 "Endpoint owns a token-bucket limiter
// ... capacity = requestsPerSecond").
func NewModelSelector(modelName string, requestsPerSecond float64, reg prometheus.Registerer) *ratelimit.Selector {
	rate := requestsPerSecond
	if rate <= 0 {
		rate = defaultRequestsPerSecond
	}
	capacity := int(rate)
	if capacity < 1 {
		capacity = 1
	}
	bucket := ratelimit.NewTokenBucket(rate, capacity)
	endpoint := ratelimit.NewEndpoint(modelName, bucket, ratelimit.CircuitBreakerConfig{})
	return ratelimit.NewSelector(modelName, []*ratelimit.Endpoint{endpoint}, reg)
}
