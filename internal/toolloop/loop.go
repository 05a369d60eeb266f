// Package toolloop drives the bounded agentic tool-execution loop: call a
// provider, execute any requested tools, feed the results back, repeat.
// Grounded on internal/agent/loop.go's AgenticLoop, reduced from its
// parallel/streaming/approval-gated executor down to the sequential
// algorithm the spec actually requires — persistence, approvals, and
// streaming-to-caller belong to internal/runtime, not this package.
package toolloop

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/providers"
)

// MaxIterations bounds the loop; hitting it returns the last response
// rather than erroring, logged at warn level.
const MaxIterations = 25

// Tool is one invocable capability. Execute never returns a Go error for a
// failed operation — failures are reported as IsError content so the
// calling model can see and recover from them.
type Tool interface {
	Name() string
	Description() string
	InputSchema() []byte
	Execute(ctx context.Context, input []byte) (content string, isError bool)
}

// Registry resolves tool names to Tool implementations and exposes the
// tool definitions to advertise to a provider.
type Registry interface {
	Lookup(name string) (Tool, bool)
	Defs() []providers.ToolDef
}

// Sender is the subset of providers.Provider (and router.Router) the loop
// needs. Structural typing lets both satisfy it without an import cycle.
type Sender interface {
	Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error)
}

// Result is what the loop returns once it stops iterating.
type Result struct {
	Response     *providers.ChatResponse
	RawMessages  []providers.RawMessage
	ToolsInvoked []string
}

// Run executes the loop per spec: clone the request each iteration with
// the current raw_messages, call Send, stop once the response has no tool
// calls or its stop reason isn't tool_use, otherwise execute every
// requested tool in order and feed results back as a single user message
// of tool_result blocks.
func Run(ctx context.Context, sender Sender, registry Registry, log zerolog.Logger, req providers.ChatRequest) (*Result, error) {
	messages := append([]providers.RawMessage(nil), req.RawMessages...)
	var invoked []string
	var lastResp *providers.ChatResponse

	for iter := 0; iter < MaxIterations; iter++ {
		iterReq := req
		iterReq.RawMessages = messages

		resp, err := sender.Send(ctx, &iterReq)
		if err != nil {
			return nil, err
		}
		lastResp = resp

		if len(resp.ToolCalls) == 0 || resp.StopReason != providers.StopReasonToolUse {
			return &Result{Response: resp, RawMessages: messages, ToolsInvoked: invoked}, nil
		}

		var assistantBlocks []providers.ContentBlock
		if resp.Content != "" {
			assistantBlocks = append(assistantBlocks, providers.ContentBlock{Type: "text", Text: resp.Content})
		}
		for _, tc := range resp.ToolCalls {
			assistantBlocks = append(assistantBlocks, providers.ContentBlock{
				Type: "tool_use", ToolUseID: tc.ID, ToolName: tc.Name, ToolInput: tc.Input,
			})
		}
		messages = append(messages, providers.RawMessage{Role: "assistant", Content: assistantBlocks})

		var resultBlocks []providers.ContentBlock
		for _, tc := range resp.ToolCalls {
			invoked = append(invoked, tc.Name)
			content, isError := execute(ctx, registry, tc)
			resultBlocks = append(resultBlocks, providers.ContentBlock{
				Type: "tool_result", ToolUseID: tc.ID, ToolResult: content, IsError: isError,
			})
		}
		messages = append(messages, providers.RawMessage{Role: "user", Content: resultBlocks})
	}

	log.Warn().Int("max_iterations", MaxIterations).Msg("tool loop hit iteration cap")
	return &Result{Response: lastResp, RawMessages: messages, ToolsInvoked: invoked}, nil
}

// execute looks up and runs one requested tool call. An unknown tool name
// is reported back to the model as an error result rather than aborting
// the loop.
func execute(ctx context.Context, registry Registry, tc providers.RequestedToolCall) (string, bool) {
	tool, ok := registry.Lookup(tc.Name)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", tc.Name), true
	}
	return tool.Execute(ctx, tc.Input)
}
