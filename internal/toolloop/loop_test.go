package toolloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/providers"
)

type stubTool struct {
	name    string
	content string
	isError bool
	calls   int
}

func (t *stubTool) Name() string          { return t.name }
func (t *stubTool) Description() string   { return "stub" }
func (t *stubTool) InputSchema() []byte   { return json.RawMessage(`{}`) }
func (t *stubTool) Execute(ctx context.Context, input []byte) (string, bool) {
	t.calls++
	return t.content, t.isError
}

type stubRegistry struct {
	tools map[string]Tool
}

func newStubRegistry(tools ...Tool) *stubRegistry {
	r := &stubRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *stubRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *stubRegistry) Defs() []providers.ToolDef { return nil }

// scriptedSender replays a fixed sequence of responses, one per call to
// Send. It does not inspect the request it is given.
type scriptedSender struct {
	responses []*providers.ChatResponse
	calls     int
}

func (s *scriptedSender) Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func TestRunStopsImmediatelyWithoutToolCalls(t *testing.T) {
	sender := &scriptedSender{responses: []*providers.ChatResponse{
		{Content: "hello", StopReason: providers.StopReasonEndTurn},
	}}
	result, err := Run(context.Background(), sender, newStubRegistry(), zerolog.Nop(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Response.Content != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", result.Response.Content)
	}
	if len(result.ToolsInvoked) != 0 {
		t.Fatalf("expected no tools invoked, got %v", result.ToolsInvoked)
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly one Send call, got %d", sender.calls)
	}
}

func TestRunExecutesToolAndFeedsResultBack(t *testing.T) {
	tool := &stubTool{name: "echo", content: "42"}
	sender := &scriptedSender{responses: []*providers.ChatResponse{
		{
			StopReason: providers.StopReasonToolUse,
			ToolCalls:  []providers.RequestedToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"x":1}`)}},
		},
		{Content: "done", StopReason: providers.StopReasonEndTurn},
	}}

	result, err := Run(context.Background(), sender, newStubRegistry(tool), zerolog.Nop(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool to be called once, got %d", tool.calls)
	}
	if result.ToolsInvoked[0] != "echo" {
		t.Fatalf("expected echo to be recorded as invoked, got %v", result.ToolsInvoked)
	}
	if result.Response.Content != "done" {
		t.Fatalf("expected final response content %q, got %q", "done", result.Response.Content)
	}

	// Final RawMessages must contain the assistant tool_use turn followed
	// by a user turn carrying the tool_result.
	if len(result.RawMessages) != 2 {
		t.Fatalf("expected 2 raw messages, got %d", len(result.RawMessages))
	}
	if result.RawMessages[0].Role != "assistant" || result.RawMessages[0].Content[0].Type != "tool_use" {
		t.Fatalf("expected assistant tool_use message first, got %+v", result.RawMessages[0])
	}
	if result.RawMessages[1].Role != "user" || result.RawMessages[1].Content[0].Type != "tool_result" {
		t.Fatalf("expected user tool_result message second, got %+v", result.RawMessages[1])
	}
	if result.RawMessages[1].Content[0].ToolResult != "42" {
		t.Fatalf("expected tool result content %q, got %q", "42", result.RawMessages[1].Content[0].ToolResult)
	}
}

func TestRunUnknownToolReportsErrorWithoutAborting(t *testing.T) {
	sender := &scriptedSender{responses: []*providers.ChatResponse{
		{
			StopReason: providers.StopReasonToolUse,
			ToolCalls:  []providers.RequestedToolCall{{ID: "call-1", Name: "missing", Input: json.RawMessage(`{}`)}},
		},
		{Content: "recovered", StopReason: providers.StopReasonEndTurn},
	}}

	result, err := Run(context.Background(), sender, newStubRegistry(), zerolog.Nop(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.RawMessages[1].Content[0].IsError {
		t.Fatalf("expected unknown tool result to be marked an error")
	}
	if result.Response.Content != "recovered" {
		t.Fatalf("expected the loop to continue past the unknown tool, got %q", result.Response.Content)
	}
}

func TestRunStopsAtMaxIterationsAndReturnsLastResponse(t *testing.T) {
	responses := make([]*providers.ChatResponse, 0, MaxIterations)
	for i := 0; i < MaxIterations; i++ {
		responses = append(responses, &providers.ChatResponse{
			StopReason: providers.StopReasonToolUse,
			Content:    "still going",
			ToolCalls:  []providers.RequestedToolCall{{ID: "call", Name: "echo", Input: json.RawMessage(`{}`)}},
		})
	}
	sender := &scriptedSender{responses: responses}
	tool := &stubTool{name: "echo", content: "ok"}

	result, err := Run(context.Background(), sender, newStubRegistry(tool), zerolog.Nop(), providers.ChatRequest{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sender.calls != MaxIterations {
		t.Fatalf("expected exactly %d Send calls, got %d", MaxIterations, sender.calls)
	}
	if result.Response.Content != "still going" {
		t.Fatalf("expected the last response to be returned, got %q", result.Response.Content)
	}
}
