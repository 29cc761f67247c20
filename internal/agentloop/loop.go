// Package agentloop implements the bounded tool-use loop of §4.5: invoke
// the model, dispatch any requested tool calls through pathways named
// sys_tool_<name>, append results to history, compress when the history
// grows past a model-relative token budget, and repeat until the model
// stops requesting tools or the iteration cap is reached.
//
// Grounded on the teacher's internal/agent/loop.go phase state machine
// (Init/Stream/ExecuteTools/Continue/Complete), renamed to this package's
// admit/prepare/dispatch/stream/tool-step/compress/finalize/fail phases.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aj-archipelago/cortex/internal/providers"
	"github.com/aj-archipelago/cortex/internal/tokenchunk"
	"github.com/aj-archipelago/cortex/internal/progressbus"
	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// MaxIterations is the hard cap on tool-use round trips per request (§4.5).
const MaxIterations = 16

// keepRecentTurns is how many trailing user/assistant turns survive
// compression verbatim (§4.5 step 5).
const keepRecentTurns = 2

// Phase names a stage of the loop's state machine, published alongside
// LoopError for observability.
type Phase string

const (
	PhaseAdmit    Phase = "admit"
	PhasePrepare  Phase = "prepare"
	PhaseDispatch Phase = "dispatch"
	PhaseStream   Phase = "stream"
	PhaseToolStep Phase = "tool_step"
	PhaseCompress Phase = "compress"
	PhaseFinalize Phase = "finalize"
	PhaseFail     Phase = "fail"
)

// LoopError wraps a failure with the phase and iteration it occurred in.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agentloop: phase %s, iteration %d: %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// ToolInvoker dispatches a single tool call by its fully-qualified pathway
// name (sys_tool_<name>, already resolved by the caller) with parsed JSON
// arguments, returning the tool's string result.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, pathwayName string, arguments map[string]any) (string, error)
}

// Compressor produces the history-compression summary described in §4.5.1.
// Implementations must never return an error that aborts the primary
// flow — on internal failure they should return a fallback stub beginning
// "Compression failed" instead (§4.5.1); Compress returning an error here
// is treated as "skip compression this round", not a loop failure.
type Compressor interface {
	Compress(ctx context.Context, history []cortex.ChatMessage) (string, error)
}

// Loop runs the bounded agent/tool loop against a single resolved Plugin.
type Loop struct {
	Invoker    ToolInvoker
	Compressor Compressor
	Bus        *progressbus.Bus
	Encoder    *tokenchunk.Encoder
}

// Result is the outcome of a completed loop run.
type Result struct {
	Text    string
	History []cortex.ChatMessage
}

// Run executes the loop for a single request against plugin, using actx's
// pathway/model for tool schemas and compression thresholds, starting from
// history (which already contains the admitted user turn).
func (l *Loop) Run(ctx context.Context, actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage) (*Result, error) {
	progress := 0.0
	lastText := ""
	for iteration := 0; iteration < MaxIterations; iteration++ {
		text, toolCalls, finish, err := l.dispatchAndStream(ctx, actx, plugin, history, iteration, &progress)
		if err != nil {
			l.publishError(actx.RequestID, err)
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		if finish != providers.FinishToolCalls || len(toolCalls) == 0 {
			l.publishDone(actx.RequestID, text)
			return &Result{Text: text, History: history}, nil
		}

		lastText = text
		history = l.appendToolStep(ctx, actx, history, toolCalls, iteration)

		if l.shouldCompress(actx, history) {
			history = l.compress(ctx, history, iteration)
		}
	}

	// Iteration cap reached: return whatever text the last round produced.
	l.publishDone(actx.RequestID, lastText)
	return &Result{Text: lastText, History: history}, nil
}

func (l *Loop) dispatchAndStream(ctx context.Context, actx cortex.AgentContext, plugin providers.Plugin, history []cortex.ChatMessage, iteration int, progress *float64) (string, []cortex.ToolCall, providers.FinishReason, error) {
	req := &providers.CompletionRequest{
		Model:    actx.Model,
		Messages: history,
		Tools:    actx.Pathway.Tools,
		Stream:   true,
	}

	chunks, err := plugin.Complete(ctx, req)
	if err != nil {
		return "", nil, "", fmt.Errorf("dispatch: %w", err)
	}

	var text strings.Builder
	var toolCalls []cortex.ToolCall
	var finish providers.FinishReason

	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, "", fmt.Errorf("stream: %w", chunk.Err)
		}
		if chunk.Delta != "" {
			text.WriteString(chunk.Delta)
			l.publishDelta(actx.RequestID, chunk.Delta, progress, iteration)
		}
		if chunk.ToolCallID != "" {
			toolCalls = append(toolCalls, cortex.ToolCall{
				ID:   chunk.ToolCallID,
				Type: "function",
				Function: cortex.ToolCallFunc{
					Name:      chunk.ToolName,
					Arguments: chunk.ArgsDelta,
				},
			})
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	return text.String(), toolCalls, finish, nil
}

// appendToolStep dispatches each completed tool call in order, then appends
// the assistant tool_calls message and one tool-result message per call to
// history (§4.5 steps 3-4).
func (l *Loop) appendToolStep(ctx context.Context, actx cortex.AgentContext, history []cortex.ChatMessage, toolCalls []cortex.ToolCall, iteration int) []cortex.ChatMessage {
	assistantMsg := cortex.ChatMessage{
		Role:      cortex.RoleAssistant,
		Content:   cortex.NullContent(),
		ToolCalls: toolCalls,
	}
	history = append(history, assistantMsg)

	for _, tc := range toolCalls {
		result := l.invokeOne(ctx, actx, tc, iteration)
		history = append(history, cortex.ChatMessage{
			Role:       cortex.RoleTool,
			Content:    cortex.StringContent(result),
			ToolCallID: tc.ID,
		})
		l.publishToolCall(actx.RequestID, tc)
	}
	return history
}

func (l *Loop) invokeOne(ctx context.Context, actx cortex.AgentContext, tc cortex.ToolCall, iteration int) string {
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return toolArgumentError(err)
		}
	}

	if spec := findToolSpec(actx.Pathway.Tools, tc.Function.Name); spec != nil && len(spec.Parameters) > 0 {
		if err := validateToolArguments(spec, args); err != nil {
			return toolArgumentError(err)
		}
	}

	pathwayName := "sys_tool_" + strings.ToLower(tc.Function.Name)
	result, err := l.Invoker.InvokeTool(ctx, pathwayName, args)
	if err != nil {
		return toolArgumentError(err)
	}
	return result
}

func toolArgumentError(err error) string {
	b, marshalErr := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	if marshalErr != nil {
		return `{"success":false,"error":"tool argument error"}`
	}
	return string(b)
}

// shouldCompress reports whether history's rendered token count exceeds
// the pathway's compression threshold fraction of the model's context
// window (§4.5 step 5, §9 decision 1).
func (l *Loop) shouldCompress(actx cortex.AgentContext, history []cortex.ChatMessage) bool {
	if l.Compressor == nil || l.Encoder == nil || actx.Model == nil || actx.Model.MaxTokenLength <= 0 {
		return false
	}
	threshold := actx.Pathway.CompressionThreshold() * float64(actx.Model.MaxTokenLength)
	return float64(l.historyTokenCount(history)) > threshold
}

func (l *Loop) historyTokenCount(history []cortex.ChatMessage) int {
	total := 0
	for _, msg := range history {
		total += l.Encoder.CountTokens(msg.Content.AsText())
		for _, tc := range msg.ToolCalls {
			total += l.Encoder.CountTokens(tc.Function.Name + tc.Function.Arguments)
		}
	}
	return total
}

// compress replaces every turn before the last keepRecentTurns user turns
// with a single system message holding the compression summary (§4.5 step
// 5). A compressor error or nil summary leaves history untouched for this
// round rather than failing the loop (§4.5.1's "never throw" posture
// extends to the caller here too).
func (l *Loop) compress(ctx context.Context, history []cortex.ChatMessage, iteration int) []cortex.ChatMessage {
	older, recent := splitForCompression(history, keepRecentTurns)
	if len(older) == 0 {
		return history
	}

	summary, err := l.Compressor.Compress(ctx, older)
	if err != nil || summary == "" {
		return history
	}

	compressed := make([]cortex.ChatMessage, 0, len(recent)+1)
	compressed = append(compressed, cortex.ChatMessage{
		Role:    cortex.RoleSystem,
		Content: cortex.StringContent(summary),
	})
	compressed = append(compressed, recent...)
	return compressed
}

func splitForCompression(history []cortex.ChatMessage, keepTurns int) (older, recent []cortex.ChatMessage) {
	var userIdx []int
	for i, m := range history {
		if m.Role == cortex.RoleUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= keepTurns {
		return nil, history
	}
	splitAt := userIdx[len(userIdx)-keepTurns]
	return history[:splitAt], history[splitAt:]
}

func (l *Loop) publishDelta(requestID, delta string, progress *float64, iteration int) {
	if l.Bus == nil {
		return
	}
	remaining := 1 - *progress
	step := remaining / 2
	if step > 0.1 {
		step = 0.1
	}
	*progress += step
	l.Bus.Publish(cortex.ProgressEvent{
		RequestID: requestID,
		Type:      cortex.ProgressDelta,
		Progress:  *progress,
		Delta:     delta,
	})
}

func (l *Loop) publishToolCall(requestID string, tc cortex.ToolCall) {
	if l.Bus == nil {
		return
	}
	call := tc
	l.Bus.Publish(cortex.ProgressEvent{
		RequestID: requestID,
		Type:      cortex.ProgressToolCall,
		ToolCall:  &call,
	})
}

func (l *Loop) publishDone(requestID, text string) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(cortex.ProgressEvent{
		RequestID: requestID,
		Type:      cortex.ProgressDone,
		Progress:  1,
		Delta:     text,
	})
}

func (l *Loop) publishError(requestID string, err error) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(cortex.ProgressEvent{
		RequestID: requestID,
		Type:      cortex.ProgressError,
		Err:       err,
	})
}
