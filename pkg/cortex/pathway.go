package cortex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ToolSpec declares a tool available to a pathway's agent loop (§3 "Tool").
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// OutputShape names a pathway's declared output typing hint (§3, §4.7).
type OutputShape string

const (
	OutputText            OutputShape = "text"
	OutputNumberedList    OutputShape = "numbered_list"
	OutputNumberedObjects OutputShape = "numbered_object_list"
	OutputCommaSeparated  OutputShape = "comma_separated_list"
	OutputJSON            OutputShape = "json"
)

// ParamSpec declares one input parameter a pathway accepts, with its
// default applied when the caller omits it (§3 "declared input parameters
// with defaults").
type ParamSpec struct {
	Name    string
	Default any
}

// ExecutePathwayFunc is the optional override hook a pathway may declare in
// place of the standard admit→prepare→dispatch pipeline (§3
// "executePathway override"), given the resolved input args, a flag for
// whether every declared prompt in a template sequence should run, and a
// resolver callback to invoke a single rendered prompt against the
// pathway's model.
type ExecutePathwayFunc func(ctx context.Context, args map[string]any, runAllPrompts bool, resolve func(ctx context.Context, prompt string) (string, error)) (string, error)

// Pathway is a declarative binding of a prompt template, model assignment,
// tool set, and execution policy (§2). Once registered it is immutable:
// callers that need different behavior define a new pathway rather than
// mutating this one (§3 invariant).
type Pathway struct {
	Name     string
	Template string
	Model    string
	Tools    []ToolSpec

	// Params declares accepted input parameters and their defaults (§3).
	Params []ParamSpec

	// OutputShape is the declared output typing hint; the executor applies
	// the matching §4.7 parser once execution completes. Zero value is
	// OutputText (no parsing).
	OutputShape OutputShape

	// OutputFieldSpec is the whitespace-separated field list used when
	// OutputShape is OutputNumberedObjects (§4.7).
	OutputFieldSpec string

	// UseInputChunking splits the primary text input into semantic chunks
	// sized to the model's budget and dispatches each as a sub-request
	// (§4.4 chunking policy).
	UseInputChunking bool

	// EnableDuplicateRequests disables idempotence coalescing when true;
	// the default (false) means concurrent identical requests share one
	// in-flight execution (§4.4).
	EnableDuplicateRequests bool

	// ExecutePathwayOverride, when set, replaces the standard
	// admit→prepare→dispatch pipeline entirely (§3).
	ExecutePathwayOverride ExecutePathwayFunc

	// Timeout is the pathway's authoritative execution deadline (§9
	// decision 3); the provider's reasoning-model inter-event-gap
	// allowance never extends it.
	Timeout time.Duration

	// CompressionThresholdFraction is the fraction of the active model's
	// MaxTokenLength at which history compression triggers (§9 decision 1).
	// Zero means the default of 0.6 applies.
	CompressionThresholdFraction float64

	// FallbackPathway is invoked when execution classifies as
	// NonRetryable or otherwise should fail over (§4.4).
	FallbackPathway string

	// EmulateOpenAIChatModel, if set, is the model id this pathway
	// impersonates in GET /v1/models and chat/completions routing (§9
	// decision 4).
	EmulateOpenAIChatModel string

	// InCollection and ChatIDs together gate visibility of file-collection
	// entries to this pathway (§9 decision 2): InCollection==true is
	// checked first (global visibility), then ChatIDs membership (an id
	// or "*" in the set).
	InCollection bool
	ChatIDs      map[string]bool
}

// CompressionThreshold returns the fraction at which history compression
// should trigger, defaulting to 0.6 (§9 decision 1).
func (p *Pathway) CompressionThreshold() float64 {
	if p.CompressionThresholdFraction > 0 {
		return p.CompressionThresholdFraction
	}
	return 0.6
}

// VisibleTo reports whether a file-collection entry scoped by inCollection
// and chatID is visible to this pathway, per the coexistence rule decided
// in §9 decision 2: inCollection wins outright, then chatID membership
// (including the wildcard "*") is checked.
func (p *Pathway) VisibleTo(inCollection bool, chatID string) bool {
	if inCollection {
		return true
	}
	if p.ChatIDs == nil {
		return false
	}
	return p.ChatIDs[chatID] || p.ChatIDs["*"]
}

// Fingerprint returns a stable identity for this pathway's configuration:
// a hash of its name, template, model, timeout and fallback pathway.
// Registry.Register does not consult it: a second registration under an
// already-registered name is rejected whatever its Fingerprint (§3
// immutability invariant).
func (p *Pathway) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%v\x00%s",
		p.Name, p.Template, p.Model, p.Timeout, p.FallbackPathway)
	return hex.EncodeToString(h.Sum(nil))
}
