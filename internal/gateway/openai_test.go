package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenAIHandlerNonStreamingReturnsChatCompletion(t *testing.T) {
	rt, _ := newTestRuntime(t)
	h := &OpenAIHandler{Runtime: rt, Log: zerolog.Nop()}

	reqBody := `{"model":"claude-sonnet-4-20250514","messages":[{"role":"user","content":"hi"}],"stream":false}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(reqBody))
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp openAIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Fatalf("object = %q, want chat.completion", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == "" {
		t.Fatalf("choices = %+v, want one choice with content", resp.Choices)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens == 0 {
		t.Fatalf("usage = %+v, want non-zero totals", resp.Usage)
	}
}

func TestOpenAIHandlerRejectsNoUserMessage(t *testing.T) {
	rt, _ := newTestRuntime(t)
	h := &OpenAIHandler{Runtime: rt, Log: zerolog.Nop()}

	reqBody := `{"model":"m","messages":[{"role":"system","content":"hi"}]}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(reqBody))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestOpenAIHandlerStreamingEndsWithDone(t *testing.T) {
	rt, _ := newTestRuntime(t)
	h := &OpenAIHandler{Runtime: rt, Log: zerolog.Nop()}

	reqBody := `{"model":"m","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(reqBody))
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "chat.completion.chunk") {
		t.Fatalf("body = %q, want chat.completion.chunk events", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Fatalf("body = %q, want it to end with data: [DONE]", body)
	}
}
