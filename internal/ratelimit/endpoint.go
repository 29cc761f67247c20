package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoEndpointAvailable is returned when every endpoint behind a model is
// either rate-limited or circuit-open.
var ErrNoEndpointAvailable = errors.New("no endpoint available")

// Endpoint is one concrete deployment of a model: a base URL, credential,
// and its own rate limit and circuit breaker (§4.2). A model fans out over
// one or more endpoints for load distribution and failover.
type Endpoint struct {
	Name     string
	Limiter  RateLimiter
	Breaker  *CircuitBreaker
	inFlight int64
}

// NewEndpoint constructs an Endpoint with the given name and limiter/breaker
// configuration.
func NewEndpoint(name string, limiter RateLimiter, breakerCfg CircuitBreakerConfig) *Endpoint {
	breakerCfg.Name = name
	return &Endpoint{
		Name:    name,
		Limiter: limiter,
		Breaker: NewCircuitBreaker(breakerCfg),
	}
}

// available reports whether the endpoint can accept a request right now:
// its circuit is not open and its limiter would not block.
func (e *Endpoint) available() bool {
	return e.Breaker.State() != CircuitOpen && e.Limiter.Allow()
}

// availabilityReporter is implemented by limiters (TokenBucket) that can
// report remaining capacity without consuming it, for Status.
type availabilityReporter interface {
	Available() int
}

// EndpointStatus is a point-in-time snapshot of an Endpoint for operational
// surfaces (e.g. a /healthz response) to render.
type EndpointStatus struct {
	Name           string
	CircuitState   string
	InFlight       int64
	AvailableQuota int // -1 if the limiter doesn't report availability
}

// Status snapshots the endpoint's circuit state, in-flight count, and
// remaining rate-limit quota.
func (e *Endpoint) Status() EndpointStatus {
	quota := -1
	if r, ok := e.Limiter.(availabilityReporter); ok {
		quota = r.Available()
	}
	return EndpointStatus{
		Name:           e.Name,
		CircuitState:   e.Breaker.State(),
		InFlight:       atomic.LoadInt64(&e.inFlight),
		AvailableQuota: quota,
	}
}

// Selector picks an endpoint for a model using least-in-flight with
// round-robin tiebreak, skipping endpoints whose circuit is open (§4.2).
type Selector struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	next      int

	selections   prometheus.Counter
	exhausted    prometheus.Counter
	rejectedOpen prometheus.Counter
}

// NewSelector builds a Selector over the given endpoints, registering
// model-scoped Prometheus counters against reg.
func NewSelector(model string, endpoints []*Endpoint, reg prometheus.Registerer) *Selector {
	s := &Selector{
		endpoints: endpoints,
		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_endpoint_selections_total",
			Help:        "Endpoint selections made for a model.",
			ConstLabels: prometheus.Labels{"model": model},
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_endpoint_exhausted_total",
			Help:        "Times no endpoint was available for a model.",
			ConstLabels: prometheus.Labels{"model": model},
		}),
		rejectedOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cortex_endpoint_circuit_rejections_total",
			Help:        "Requests rejected because every endpoint's circuit was open.",
			ConstLabels: prometheus.Labels{"model": model},
		}),
	}
	if reg != nil {
		reg.MustRegister(s.selections, s.exhausted, s.rejectedOpen)
	}
	return s
}

// Status snapshots every endpoint in the pool.
func (s *Selector) Status() []EndpointStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]EndpointStatus, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		statuses = append(statuses, ep.Status())
	}
	return statuses
}

// Select returns the next available endpoint, or ErrNoEndpointAvailable if
// none are currently usable.
func (s *Selector) Select() (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.endpoints)
	if n == 0 {
		return nil, ErrNoEndpointAvailable
	}

	var best *Endpoint
	bestInFlight := int64(-1)
	allOpen := true
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		ep := s.endpoints[idx]
		if ep.Breaker.State() != CircuitOpen {
			allOpen = false
		}
		if !ep.available() {
			continue
		}
		inFlight := atomic.LoadInt64(&ep.inFlight)
		if best == nil || inFlight < bestInFlight {
			best = ep
			bestInFlight = inFlight
		}
	}

	if best == nil {
		s.exhausted.Inc()
		if allOpen {
			s.rejectedOpen.Inc()
		}
		return nil, ErrNoEndpointAvailable
	}

	s.next = (s.next + 1) % n
	s.selections.Inc()
	return best, nil
}

// Execute runs fn against an endpoint selected from the pool, tracking
// in-flight count and recording the result against the endpoint's circuit
// breaker (§4.2 "Retry policy").
func (s *Selector) Execute(ctx context.Context, fn func(context.Context, *Endpoint) error) error {
	ep, err := s.Select()
	if err != nil {
		return err
	}

	atomic.AddInt64(&ep.inFlight, 1)
	defer atomic.AddInt64(&ep.inFlight, -1)

	return ep.Breaker.Execute(ctx, func(ctx context.Context) error {
		return fn(ctx, ep)
	})
}
