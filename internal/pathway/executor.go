// Package pathway implements pathway registration, prompt-template
// rendering, and the admission-through-completion execution pipeline of
// §4.4: resolve a pathway and model, strip and sync file references,
// render the template, dispatch to the assigned vendor plugin (running
// the bounded tool loop when the pathway declares tools), apply the
// declared output-shape parser, and publish progress throughout.
//
// Grounded on the teacher's internal/agent/loop.go top-level dispatch
// flow and internal/infra/singleflight.go's duplicate-suppression
// pattern, generalized from per-branch coalescing to per-pathway,
// per-fingerprint request coalescing (§4.4 idempotence cache).
package pathway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aj-archipelago/cortex/internal/agentloop"
	"github.com/aj-archipelago/cortex/internal/cortexerr"
	"github.com/aj-archipelago/cortex/internal/files"
	"github.com/aj-archipelago/cortex/internal/obsmetrics"
	"github.com/aj-archipelago/cortex/internal/outputparse"
	"github.com/aj-archipelago/cortex/internal/progressbus"
	"github.com/aj-archipelago/cortex/internal/providers"
	"github.com/aj-archipelago/cortex/internal/ratelimit"
	"github.com/aj-archipelago/cortex/internal/tokenchunk"
	"github.com/aj-archipelago/cortex/pkg/cortex"
	"github.com/google/uuid"
)

// idempotenceCacheTTL is how long a completed execution's result is kept
// available to later callers presenting the same fingerprint (§4.4).
const idempotenceCacheTTL = 60 * time.Second

const idempotenceCacheSize = 4096

// Dispatcher resolves the vendor plugin serving a model, satisfied by
// internal/providers.Registry.
type Dispatcher interface {
	Get(vendor cortex.Vendor) (providers.Plugin, error)
}

// ExecuteResult is the outcome of one pathway execution.
type ExecuteResult struct {
	RequestID string
	Text      string
	Parsed    any
	History   []cortex.ChatMessage
}

// Executor ties the registry, vendor dispatch, file substrate, agent
// loop, and output parsers into the admission→...→finalize pipeline
// (§4.4).
type Executor struct {
	Registry   *Registry
	Dispatcher Dispatcher
	Files      *files.Store
	Encoder    *tokenchunk.Encoder
	Bus        *progressbus.Bus

	// Metrics is optional; when nil, execution proceeds uninstrumented.
	Metrics *obsmetrics.Metrics

	// MetricsRegistry, if set, receives the per-model endpoint-selection
	// counters ratelimit.NewSelector exposes. Optional.
	MetricsRegistry prometheus.Registerer

	// Models resolves a Pathway's declared model name to its full
	// configuration. Populated by the caller at startup.
	Models map[string]*cortex.Model

	cache *lru.LRU[string, *ExecuteResult]
	group coalesceGroup[*ExecuteResult]

	selectorsMu sync.Mutex
	selectors   map[string]*ratelimit.Selector
}

// NewExecutor constructs an Executor with a 60-second idempotence cache
// (§4.4).
func NewExecutor(registry *Registry, dispatcher Dispatcher, store *files.Store, encoder *tokenchunk.Encoder, bus *progressbus.Bus, models map[string]*cortex.Model) *Executor {
	return &Executor{
		Registry:   registry,
		Dispatcher: dispatcher,
		Files:      store,
		Encoder:    encoder,
		Bus:        bus,
		Models:     models,
		cache:      lru.NewLRU[string, *ExecuteResult](idempotenceCacheSize, nil, idempotenceCacheTTL),
	}
}

// RateLimited wraps plugin with the per-model endpoint Selector for model,
// for callers (e.g. the REST surface's raw-model dispatch path) that talk
// to a vendor Plugin directly instead of through Execute.
func (e *Executor) RateLimited(model *cortex.Model, plugin providers.Plugin) providers.Plugin {
	return providers.NewRateLimitedPlugin(plugin, e.selectorFor(model))
}

// EndpointStatus snapshots the circuit/rate-limit state of every model
// that has dispatched at least once, keyed by model name, for an
// operational surface like /healthz to render.
func (e *Executor) EndpointStatus() map[string][]ratelimit.EndpointStatus {
	e.selectorsMu.Lock()
	defer e.selectorsMu.Unlock()

	status := make(map[string][]ratelimit.EndpointStatus, len(e.selectors))
	for name, sel := range e.selectors {
		status[name] = sel.Status()
	}
	return status
}

// selectorFor returns the cached per-model endpoint Selector (§3
// "Endpoint"/§4.2), building one on first use from the model's declared
// RequestsPerSecond.
func (e *Executor) selectorFor(model *cortex.Model) *ratelimit.Selector {
	e.selectorsMu.Lock()
	defer e.selectorsMu.Unlock()
	if e.selectors == nil {
		e.selectors = make(map[string]*ratelimit.Selector)
	}
	if sel, ok := e.selectors[model.Name]; ok {
		return sel
	}
	sel := providers.NewModelSelector(model.Name, model.RequestsPerSecond, e.MetricsRegistry)
	e.selectors[model.Name] = sel
	return sel
}

// Execute runs req.PathwayName synchronously to completion and returns its
// result. No caller in this repository (internal/restapi, the CLI, the
// fallback and tool paths) runs it in the background or returns a
// requestId before it finishes.
func (e *Executor) Execute(ctx context.Context, req cortex.Request) (*ExecuteResult, error) {
	p, ok := e.Registry.Get(req.PathwayName)
	if !ok {
		return nil, cortexerr.New(cortexerr.InputValidation, fmt.Errorf("pathway: unknown pathway %q", req.PathwayName)).WithPathway(req.PathwayName)
	}

	if e.Metrics != nil {
		start := time.Now()
		defer func() {
			e.Metrics.PathwayRequestDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
		}()
	}

	fingerprint := p.Name
	if !p.EnableDuplicateRequests {
		fingerprint = requestFingerprint(p, req)
		if cached, ok := e.cache.Get(fingerprint); ok {
			return cached, nil
		}
	}

	result, err := e.group.Do(fingerprint, func() (*ExecuteResult, error) {
		if !p.EnableDuplicateRequests {
			if cached, ok := e.cache.Get(fingerprint); ok {
				return cached, nil
			}
		}
		res, err := e.execute(ctx, p, req)
		if err == nil && !p.EnableDuplicateRequests {
			e.cache.Add(fingerprint, res)
		}
		return res, err
	})

	if e.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.Metrics.PathwayRequestsTotal.WithLabelValues(p.Name, status).Inc()
	}

	return result, err
}

func requestFingerprint(p *cortex.Pathway, req cortex.Request) string {
	if req.IdempotencyKey != "" {
		return p.Name + "\x00" + req.IdempotencyKey
	}
	var b strings.Builder
	b.WriteString(p.Name)
	for _, m := range req.Messages {
		b.WriteByte(0)
		b.WriteString(string(m.Role))
		b.WriteByte(0)
		b.WriteString(m.Content.AsText())
	}
	for k, v := range req.Params {
		fmt.Fprintf(&b, "\x00%s=%v", k, v)
	}
	return b.String()
}

func (e *Executor) execute(ctx context.Context, p *cortex.Pathway, req cortex.Request) (*ExecuteResult, error) {
	model, ok := e.Models[p.Model]
	if !ok {
		return nil, cortexerr.New(cortexerr.InputValidation, fmt.Errorf("pathway: unknown model %q", p.Model)).WithPathway(p.Name)
	}

	actx := cortex.AgentContext{
		Context:   ctx,
		Request:   req,
		Pathway:   p,
		Model:     model,
		RequestID: uuid.NewString(),
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		actx.Context, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	if p.ExecutePathwayOverride != nil {
		return e.executeOverride(actx, req)
	}

	history := req.Messages
	if e.Files != nil {
		history, _ = e.Files.SyncAndStrip(history, chatIDOf(req, actx.RequestID))
	}

	args := paramArgs(p, req.Params)
	history = renderHistoryTemplate(p, args, history)

	plugin, err := e.Dispatcher.Get(model.Vendor)
	if err != nil {
		dispatchErr := cortexerr.New(cortexerr.NonRetryable, err).WithPathway(p.Name).WithModel(model.Name)
		if fallback := e.tryFailover(ctx, p, req, dispatchErr); fallback != nil {
			return fallback, nil
		}
		return nil, dispatchErr
	}
	plugin = providers.NewRateLimitedPlugin(plugin, e.selectorFor(model))

	var result *ExecuteResult
	if len(p.Tools) > 0 && model.SupportsTools {
		result, err = e.runWithToolLoop(actx, plugin, history)
	} else {
		result, err = e.runSingleShot(actx, plugin, history)
	}
	if err != nil {
		if fallback := e.tryFailover(ctx, p, req, err); fallback != nil {
			return fallback, nil
		}
		return nil, err
	}

	result.Parsed = applyOutputShape(p, result.Text)
	return result, nil
}

// tryFailover invokes the pathway's declared fallback when the error
// classifies as should-failover (§4.4). A nil return
// means no fallback applies and the original error should propagate.
func (e *Executor) tryFailover(ctx context.Context, p *cortex.Pathway, req cortex.Request, cause error) *ExecuteResult {
	if p.FallbackPathway == "" || !cortexerr.KindOf(cause).ShouldFailover() {
		return nil
	}
	fallbackReq := req
	fallbackReq.PathwayName = p.FallbackPathway
	res, err := e.Execute(ctx, fallbackReq)
	if err != nil {
		return nil
	}
	return res
}

func (e *Executor) executeOverride(actx cortex.AgentContext, req cortex.Request) (*ExecuteResult, error) {
	resolve := func(ctx context.Context, prompt string) (string, error) {
		plugin, err := e.Dispatcher.Get(actx.Model.Vendor)
		if err != nil {
			return "", err
		}
		plugin = providers.NewRateLimitedPlugin(plugin, e.selectorFor(actx.Model))
		single := cortex.AgentContext{Context: ctx, Request: req, Pathway: actx.Pathway, Model: actx.Model, RequestID: actx.RequestID}
		res, err := e.runSingleShot(single, plugin, []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent(prompt)}})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	text, err := actx.Pathway.ExecutePathwayOverride(actx.Context, paramArgs(actx.Pathway, req.Params), true, resolve)
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{RequestID: actx.RequestID, Text: text, Parsed: applyOutputShape(actx.Pathway, text)}, nil
}

func (e *Executor) runWithToolLoop(actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage) (*ExecuteResult, error) {
	loop := &agentloop.Loop{
		Invoker:    toolInvoker{executor: e},
		Compressor: compressorAdapter{executor: e},
		Bus:        e.Bus,
		Encoder:    e.Encoder,
	}
	res, err := loop.Run(actx.Context, actx, plugin, history)
	if err != nil {
		return nil, cortexerr.New(cortexerr.Retryable, err).WithPathway(actx.Pathway.Name).WithModel(actx.Model.Name)
	}
	return &ExecuteResult{RequestID: actx.RequestID, Text: res.Text, History: res.History}, nil
}

// runSingleShot dispatches one completion round with no tool-use phase,
// optionally splitting the input across sub-requests when the pathway
// declares UseInputChunking (§4.4 chunking policy).
func (e *Executor) runSingleShot(actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage) (*ExecuteResult, error) {
	if !actx.Pathway.UseInputChunking || e.Encoder == nil || len(history) == 0 {
		return e.dispatchOnce(actx, plugin, history)
	}
	return e.dispatchChunked(actx, plugin, history)
}

func (e *Executor) dispatchOnce(actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage) (*ExecuteResult, error) {
	req := &providers.CompletionRequest{Model: actx.Model, Messages: history, Stream: true}
	chunks, err := plugin.Complete(actx.Context, req)
	if err != nil {
		e.observeVendorDispatch(actx.Model.Vendor, "error")
		return nil, cortexerr.New(cortexerr.Retryable, err).WithPathway(actx.Pathway.Name).WithModel(actx.Model.Name)
	}

	var text strings.Builder
	progress := 0.0
	// Publish a processing event before consuming any deltas so a
	// no-content completion (e.g. an immediate tool-call-only or empty
	// response) still satisfies §4.4's "two progress events minimum"
	// instead of jumping straight to the terminal progress=1 event.
	e.publishProgress(actx.RequestID, progress)
	for chunk := range chunks {
		if chunk.Err != nil {
			e.observeVendorDispatch(actx.Model.Vendor, "error")
			return nil, cortexerr.New(cortexerr.Retryable, chunk.Err).WithPathway(actx.Pathway.Name).WithModel(actx.Model.Name)
		}
		if chunk.Delta != "" {
			text.WriteString(chunk.Delta)
			e.publishDelta(actx.RequestID, chunk.Delta, &progress)
		}
	}
	e.observeVendorDispatch(actx.Model.Vendor, "success")
	e.publishDone(actx.RequestID, text.String())
	return &ExecuteResult{RequestID: actx.RequestID, Text: text.String(), History: history}, nil
}

func (e *Executor) observeVendorDispatch(vendor cortex.Vendor, status string) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.VendorDispatchTotal.WithLabelValues(string(vendor), status).Inc()
}

// dispatchChunked splits the last user turn's text into token-bounded
// chunks sized to the model's remaining budget, dispatches each
// sequentially against the same preceding context, and concatenates the
// results (§4.4).
func (e *Executor) dispatchChunked(actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage) (*ExecuteResult, error) {
	last := len(history) - 1
	budget := actx.Model.MaxTokenLength / 2
	if budget < 1 {
		budget = 1
	}

	parts, err := e.Encoder.Split(history[last].Content.AsText(), budget)
	if err != nil {
		return nil, cortexerr.New(cortexerr.OversizedAtom, err).WithPathway(actx.Pathway.Name)
	}
	if e.Metrics != nil {
		e.Metrics.ChunkSplitCount.WithLabelValues(actx.Pathway.Name).Observe(float64(len(parts)))
	}

	var out strings.Builder
	for i, part := range parts {
		chunkHistory := make([]cortex.ChatMessage, last)
		copy(chunkHistory, history[:last])
		chunkHistory = append(chunkHistory, cortex.ChatMessage{Role: history[last].Role, Content: cortex.StringContent(part.Text)})

		res, err := e.dispatchOnce(actx, plugin, chunkHistory)
		if err != nil {
			return nil, err
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(res.Text)
		e.publishProgress(actx.RequestID, float64(i+1)/float64(len(parts)))
	}
	return &ExecuteResult{RequestID: actx.RequestID, Text: out.String(), History: history}, nil
}

// chatIDOf returns the caller-supplied chatId parameter (§3 "common
// arguments"), falling back to the request's own id when the caller
// didn't address a persistent chat.
func chatIDOf(req cortex.Request, requestID string) string {
	if v, ok := req.Params["chatId"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return requestID
}

func paramArgs(p *cortex.Pathway, overrides map[string]any) map[string]any {
	args := make(map[string]any, len(p.Params))
	for _, spec := range p.Params {
		args[spec.Name] = spec.Default
	}
	for k, v := range overrides {
		args[k] = v
	}
	return args
}

func renderHistoryTemplate(p *cortex.Pathway, args map[string]any, history []cortex.ChatMessage) []cortex.ChatMessage {
	if p.Template == "" {
		return history
	}
	rendered := RenderTemplate(p.Template, args, history)
	return append(append([]cortex.ChatMessage{}, history...), cortex.ChatMessage{
		Role:    cortex.RoleUser,
		Content: cortex.StringContent(rendered),
	})
}

func applyOutputShape(p *cortex.Pathway, text string) any {
	switch p.OutputShape {
	case cortex.OutputNumberedList:
		return outputparse.NumberedList(text)
	case cortex.OutputNumberedObjects:
		return outputparse.NumberedObjectList(text, p.OutputFieldSpec)
	case cortex.OutputCommaSeparated:
		return outputparse.CommaSeparatedList(text)
	case cortex.OutputJSON:
		return outputparse.JSON(text)
	default:
		return text
	}
}

func (e *Executor) publishDelta(requestID, delta string, progress *float64) {
	if e.Bus == nil {
		return
	}
	*progress += min(0.1, (1.0-*progress)/2)
	e.Bus.Publish(cortex.ProgressEvent{RequestID: requestID, Type: cortex.ProgressDelta, Delta: delta, Progress: *progress})
}

func (e *Executor) publishProgress(requestID string, progress float64) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(cortex.ProgressEvent{RequestID: requestID, Type: cortex.ProgressDelta, Progress: progress})
}

func (e *Executor) publishDone(requestID, text string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(cortex.ProgressEvent{RequestID: requestID, Type: cortex.ProgressDone, Delta: text, Progress: 1})
}

// toolInvoker adapts Executor to agentloop.ToolInvoker by dispatching a
// tool call as a nested pathway execution (§4.5 step 3: sys_tool_<name>).
type toolInvoker struct {
	executor *Executor
}

func (t toolInvoker) InvokeTool(ctx context.Context, pathwayName string, arguments map[string]any) (string, error) {
	p, ok := t.executor.Registry.GetCaseInsensitive(pathwayName)
	if !ok {
		return "", fmt.Errorf("pathway: no tool pathway registered for %q", pathwayName)
	}
	res, err := t.executor.Execute(ctx, cortex.Request{PathwayName: p.Name, Params: arguments})
	if t.executor.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		t.executor.Metrics.ToolInvocationsTotal.WithLabelValues(pathwayName, status).Inc()
	}
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// compressorAdapter adapts Executor to agentloop.Compressor by invoking
// the well-known sys_compress pathway, never propagating an error out of
// the primary flow (§4.5.1).
type compressorAdapter struct {
	executor *Executor
}

const compressPathwayName = "sys_compress"

func (c compressorAdapter) Compress(ctx context.Context, history []cortex.ChatMessage) (string, error) {
	p, ok := c.executor.Registry.Get(compressPathwayName)
	if !ok {
		c.observe("fallback")
		return fallbackSummary(history), nil
	}
	res, err := c.executor.Execute(ctx, cortex.Request{PathwayName: p.Name, Messages: history})
	if err != nil || res.Text == "" {
		c.observe("fallback")
		return fallbackSummary(history), nil
	}
	c.observe("summarized")
	return res.Text, nil
}

func (c compressorAdapter) observe(outcome string) {
	if c.executor.Metrics == nil {
		return
	}
	c.executor.Metrics.CompressionsTotal.WithLabelValues(outcome).Inc()
}

func fallbackSummary(history []cortex.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == cortex.RoleUser {
			return "Compression failed: " + history[i].Content.AsText()
		}
	}
	return "Compression failed: no prior user turn"
}
