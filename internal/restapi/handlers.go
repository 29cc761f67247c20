package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aj-archipelago/cortex/internal/cortexerr"
	"github.com/aj-archipelago/cortex/internal/providers"
	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// handleModels serves GET /v1/models, aggregating both the directly
// configured models and the emulateOpenAIChatModel aliases of registered
// pathways (§6, §9 decision 4).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	seen := make(map[string]bool)
	items := make([]modelListItem, 0, len(s.Models))

	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		items = append(items, modelListItem{ID: name, Object: "model", OwnedBy: string(s.Models[name].Vendor)})
		seen[name] = true
	}

	if s.Registry != nil {
		for _, p := range s.Registry.List() {
			if p.EmulateOpenAIChatModel == "" || seen[p.EmulateOpenAIChatModel] {
				continue
			}
			items = append(items, modelListItem{ID: p.EmulateOpenAIChatModel, Object: "model", OwnedBy: "cortex"})
			seen[p.EmulateOpenAIChatModel] = true
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: items})
}

// target is the resolved routing decision for an incoming model id: either
// a pathway to execute through the full §4.4 pipeline, or a bare model to
// dispatch directly against its vendor plugin.
type target struct {
	pathwayName string
	model       *cortex.Model
}

func (s *Server) resolveTarget(modelID string) (target, bool) {
	if s.Registry != nil {
		if aliases := s.Registry.ResolveEmulatedModels(); aliases != nil {
			if p, ok := aliases[modelID]; ok {
				return target{pathwayName: p.Name}, true
			}
		}
	}
	if m, ok := s.Models[modelID]; ok {
		return target{model: m}, true
	}
	return target{}, false
}

func convertMessages(in []chatMessageWire) []cortex.ChatMessage {
	out := make([]cortex.ChatMessage, 0, len(in))
	for _, m := range in {
		out = append(out, cortex.ChatMessage{
			Role:    cortex.Role(m.Role),
			Name:    m.Name,
			Content: cortex.StringContent(m.Content),
		})
	}
	return out
}

func convertTools(in []toolWire) []cortex.ToolSpec {
	if len(in) == 0 {
		return nil
	}
	out := make([]cortex.ToolSpec, 0, len(in))
	for _, t := range in {
		out = append(out, cortex.ToolSpec{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}

// handleChatCompletions serves POST /v1/chat/completions (§6), supporting
// both the single-shot JSON response and the stream=true SSE form
// terminated by "data: [DONE]".
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required", "invalid_request_error")
		return
	}

	tgt, ok := s.resolveTarget(req.Model)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown model: "+req.Model, "invalid_request_error")
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	messages := convertMessages(req.Messages)

	if req.Stream {
		sse, ok := newSSEWriter(w)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported", "server_error")
			return
		}
		s.streamChatCompletion(r.Context(), sse, id, created, req.Model, tgt, messages, convertTools(req.Tools))
		return
	}

	text, finishReason, err := s.dispatchChatOnce(r.Context(), tgt, messages, convertTools(req.Tools))
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []chatCompletionItem{{
			Index:        0,
			Message:      chatMessageWire{Role: "assistant", Content: text},
			FinishReason: finishReason,
		}},
	})
}

// dispatchChatOnce resolves tgt to a final completion, blocking until
// done. Pathway targets go through the full §4.4 pipeline; bare-model
// targets dispatch directly against the vendor plugin.
func (s *Server) dispatchChatOnce(ctx context.Context, tgt target, messages []cortex.ChatMessage, tools []cortex.ToolSpec) (text, finishReason string, err error) {
	if tgt.pathwayName != "" {
		res, err := s.Executor.Execute(ctx, cortex.Request{PathwayName: tgt.pathwayName, Messages: messages})
		if err != nil {
			return "", "", err
		}
		return res.Text, string(providers.FinishStop), nil
	}

	plugin, err := s.Dispatcher.Get(tgt.model.Vendor)
	if err != nil {
		return "", "", cortexerr.New(cortexerr.NonRetryable, err).WithModel(tgt.model.Name)
	}
	plugin = s.Executor.RateLimited(tgt.model, plugin)
	chunks, err := plugin.Complete(ctx, &providers.CompletionRequest{Model: tgt.model, Messages: messages, Tools: tools})
	if err != nil {
		return "", "", err
	}

	var out string
	reason := providers.FinishStop
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", "", chunk.Err
		}
		out += chunk.Delta
		if chunk.FinishReason != "" {
			reason = chunk.FinishReason
		}
	}
	return out, string(reason), nil
}

// streamChatCompletion emits a role-opening chunk, then content chunks, and
// exactly one terminal chunk carrying finish_reason as the last event
// (§8 invariant 3), followed by the [DONE] sentinel.
func (s *Server) streamChatCompletion(ctx context.Context, sse *sseWriter, id string, created int64, model string, tgt target, messages []cortex.ChatMessage, tools []cortex.ToolSpec) {
	sse.writeEvent(chunkEvent(id, created, model, chatCompletionDelta{Role: "assistant"}, nil))

	if tgt.pathwayName != "" {
		text, finishReason, err := s.dispatchChatOnce(ctx, tgt, messages, tools)
		if err != nil {
			sse.writeEvent(errorEnvelope{Error: errorBody{Message: err.Error(), Type: "server_error"}})
			sse.done()
			return
		}
		if text != "" {
			sse.writeEvent(chunkEvent(id, created, model, chatCompletionDelta{Content: text}, nil))
		}
		sse.writeEvent(chunkEvent(id, created, model, chatCompletionDelta{}, strPtr(finishReason)))
		sse.done()
		return
	}

	plugin, err := s.Dispatcher.Get(tgt.model.Vendor)
	if err != nil {
		sse.writeEvent(errorEnvelope{Error: errorBody{Message: err.Error(), Type: "server_error"}})
		sse.done()
		return
	}
	plugin = s.Executor.RateLimited(tgt.model, plugin)
	chunks, err := plugin.Complete(ctx, &providers.CompletionRequest{Model: tgt.model, Messages: messages, Tools: tools, Stream: true})
	if err != nil {
		sse.writeEvent(errorEnvelope{Error: errorBody{Message: err.Error(), Type: "server_error"}})
		sse.done()
		return
	}

	reason := providers.FinishStop
	for chunk := range chunks {
		if chunk.Err != nil {
			break
		}
		if chunk.Delta != "" {
			sse.writeEvent(chunkEvent(id, created, model, chatCompletionDelta{Content: chunk.Delta}, nil))
		}
		if chunk.FinishReason != "" {
			reason = chunk.FinishReason
		}
	}
	sse.writeEvent(chunkEvent(id, created, model, chatCompletionDelta{}, strPtr(string(reason))))
	sse.done()
}

func chunkEvent(id string, created int64, model string, delta chatCompletionDelta, finishReason *string) chatCompletionChunk {
	return chatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chatCompletionChunkItem{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

func strPtr(s string) *string { return &s }

func writeChatError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := cortexerr.As(err); ok {
		switch e.Kind {
		case cortexerr.InputValidation:
			status = http.StatusBadRequest
		case cortexerr.Timeout:
			status = http.StatusGatewayTimeout
		case cortexerr.Cancelled:
			status = http.StatusRequestTimeout
		}
	}
	writeError(w, status, err.Error(), "server_error")
}

// handleCompletions serves the legacy POST /v1/completions text-completion
// shape (§6), implemented as a single-message chat dispatch.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}
	if req.Model == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "model and prompt are required", "invalid_request_error")
		return
	}

	tgt, ok := s.resolveTarget(req.Model)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown model: "+req.Model, "invalid_request_error")
		return
	}

	messages := []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent(req.Prompt)}}
	text, finishReason, err := s.dispatchChatOnce(r.Context(), tgt, messages, nil)
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []completionItem{{Index: 0, Text: text, FinishReason: finishReason}},
	})
}
