package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/runtime"
)

// OpenAIHandler serves POST /v1/chat/completions in the OpenAI chat
// completions wire format, per spec.md §6, so any client speaking that API
// (editors, agent frameworks) can talk to the gateway directly. Grounded on
// the original implementation's chat_completions handler, reduced from its
// background-task SSE relay (driven by a native streaming provider call) to
// a single runtime.Process result replayed as one streamed chunk, since
// internal/runtime.Process doesn't expose incremental deltas.
type OpenAIHandler struct {
	Runtime *runtime.Runtime
	Log     zerolog.Logger
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChoice struct {
	Index        int            `json:"index"`
	Message      *openAIMessage `json:"message,omitempty"`
	Delta        *openAIMessage `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

type openAIError struct {
	Error openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *OpenAIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req openAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := lastUserMessage(req.Messages)
	if message == "" {
		writeOpenAIError(w, http.StatusBadRequest, "no user message found")
		return
	}

	h.Log.Info().Str("model", req.Model).Bool("stream", req.Stream).Msg("openai-compat request")

	result, err := h.Runtime.Process(r.Context(), runtime.Turn{
		Channel:       "openai_compat",
		Identifier:    identifierFor(r),
		Content:       message,
		ModelOverride: req.Model,
	})
	if err != nil {
		h.Log.Warn().Err(err).Msg("openai-compat request failed")
		writeOpenAIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Stream {
		h.writeStreaming(w, result)
		return
	}
	h.writeNonStreaming(w, result)
}

func (h *OpenAIHandler) writeNonStreaming(w http.ResponseWriter, result *runtime.ProcessedMessage) {
	finish := openAIFinishReason(result.StopReason)
	resp := openAIResponse{
		ID:     "chatcmpl-" + uuid.NewString(),
		Object: "chat.completion",
		Model:  result.Model,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      &openAIMessage{Role: "assistant", Content: result.Content},
			FinishReason: &finish,
		}},
		Usage: &openAIUsage{
			PromptTokens:     result.TokensIn,
			CompletionTokens: result.TokensOut,
			TotalTokens:      result.TokensIn + result.TokensOut,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeStreaming replays the full result as a single SSE content delta
// followed by a finish-reason chunk and the terminal [DONE] line.
func (h *OpenAIHandler) writeStreaming(w http.ResponseWriter, result *runtime.ProcessedMessage) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeNonStreaming(w, result)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.NewString()

	delta := openAIResponse{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  result.Model,
		Choices: []openAIChoice{{
			Index: 0,
			Delta: &openAIMessage{Role: "assistant", Content: result.Content},
		}},
	}
	writeSSEChunk(w, delta)
	flusher.Flush()

	finish := openAIFinishReason(result.StopReason)
	doneChunk := openAIResponse{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  result.Model,
		Choices: []openAIChoice{{
			Index:        0,
			Delta:        &openAIMessage{Role: "assistant"},
			FinishReason: &finish,
		}},
	}
	writeSSEChunk(w, doneChunk)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEChunk(w http.ResponseWriter, chunk openAIResponse) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeOpenAIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(openAIError{Error: openAIErrorBody{Message: message, Type: "invalid_request_error"}})
}

func lastUserMessage(messages []openAIMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// identifierFor takes the caller's session identifier from the
// X-Skynet-Session header. Without that header it returns a fresh
// timestamp-based identifier, so each such request gets its own identity
// and session.
func identifierFor(r *http.Request) string {
	if key := r.Header.Get("X-Skynet-Session"); key != "" {
		return key
	}
	return "openai-compat-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func openAIFinishReason(stop providers.StopReason) string {
	return string(stop)
}
