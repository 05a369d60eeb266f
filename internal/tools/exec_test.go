package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExecuteCommandToolRunsAndCapturesOutput(t *testing.T) {
	ws := tempWorkspace(t)
	tool := NewExecuteCommandTool(ws)
	out, isErr := tool.Execute(context.Background(), []byte(`{"command":"echo hi"}`))
	if isErr {
		t.Fatalf("Execute() error: %s", out)
	}
	var result map[string]any
	json.Unmarshal([]byte(out), &result)
	if result["stdout"] != "hi\n" {
		t.Fatalf("stdout = %q, want %q", result["stdout"], "hi\n")
	}
	if result["exit_code"].(float64) != 0 {
		t.Fatalf("exit_code = %v, want 0", result["exit_code"])
	}
}

func TestExecuteCommandToolDeniesUnsafeCommand(t *testing.T) {
	ws := tempWorkspace(t)
	tool := NewExecuteCommandTool(ws)
	_, isErr := tool.Execute(context.Background(), []byte(`{"command":"rm -rf /"}`))
	if !isErr {
		t.Fatalf("expected the safety denylist to reject rm -rf /")
	}
}

func TestExecuteCommandToolRequiresCommand(t *testing.T) {
	ws := tempWorkspace(t)
	tool := NewExecuteCommandTool(ws)
	_, isErr := tool.Execute(context.Background(), []byte(`{}`))
	if !isErr {
		t.Fatalf("expected an error for a missing command")
	}
}

func TestExecuteCommandToolCapturesNonZeroExit(t *testing.T) {
	ws := tempWorkspace(t)
	tool := NewExecuteCommandTool(ws)
	out, isErr := tool.Execute(context.Background(), []byte(`{"command":"exit 3"}`))
	if isErr {
		t.Fatalf("Execute() should report result via exit_code, not IsError, got %s", out)
	}
	var result map[string]any
	json.Unmarshal([]byte(out), &result)
	if result["exit_code"].(float64) != 3 {
		t.Fatalf("exit_code = %v, want 3", result["exit_code"])
	}
}
