package cortex

import "context"

// Request is a single invocation of a pathway: the resolved messages, any
// caller-supplied parameter overrides, and the idempotency key used to
// coalesce duplicate async dispatches (§4.4).
type Request struct {
	PathwayName    string
	Messages       []ChatMessage
	Params         map[string]any
	IdempotencyKey string
	Stream         bool
}

// AgentContext threads the resolved pathway, model, and a done channel for
// cooperative cancellation through the executor state machine (§4.4) and
// into the agent/tool loop (§4.5).
type AgentContext struct {
	Context   context.Context
	Request   Request
	Pathway   *Pathway
	Model     *Model
	RequestID string
}
