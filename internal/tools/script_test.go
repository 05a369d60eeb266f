package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir string, manifest map[string]any) {
	t.Helper()
	raw, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestScriptToolRunsCommandWithEnvInput(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\necho \"$SCRIPT_TOOL_NAME:$SCRIPT_TOOL_INPUT\"\n"
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	writeManifest(t, dir, map[string]any{
		"name":        "greet",
		"description": "says hi",
		"run":         map[string]any{"command": "/bin/sh", "script": "run.sh"},
		"input": map[string]any{
			"params": []map[string]any{{"name": "who", "type": "string", "required": true}},
		},
	})

	manifest, err := LoadScriptManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("LoadScriptManifest: %v", err)
	}
	tool := NewScriptTool(*manifest)
	out, isErr := tool.Execute(context.Background(), []byte(`{"who":"world"}`))
	if isErr {
		t.Fatalf("Execute() error: %s", out)
	}
	if out != "greet:{\"who\":\"world\"}\n" {
		t.Fatalf("output = %q, want the script to echo its name and JSON input", out)
	}
}

func TestScriptToolTimesOut(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 2\necho done\n"
	if err := os.WriteFile(filepath.Join(dir, "slow.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	writeManifest(t, dir, map[string]any{
		"name": "slow",
		"run":  map[string]any{"command": "/bin/sh", "script": "slow.sh", "timeout": 1},
	})
	manifest, err := LoadScriptManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("LoadScriptManifest: %v", err)
	}
	tool := NewScriptTool(*manifest)
	_, isErr := tool.Execute(context.Background(), []byte(`{}`))
	if !isErr {
		t.Fatalf("expected a timeout error")
	}
}

func TestDiscoverScriptToolsSkipsMalformedManifests(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	os.MkdirAll(good, 0o755)
	writeManifest(t, good, map[string]any{"name": "good-tool", "run": map[string]any{"command": "/bin/true"}})

	bad := filepath.Join(dir, "bad")
	os.MkdirAll(bad, 0o755)
	os.WriteFile(filepath.Join(bad, "manifest.json"), []byte("not json"), 0o644)

	empty := filepath.Join(dir, "empty")
	os.MkdirAll(empty, 0o755)

	tools, err := DiscoverScriptTools(dir)
	if err != nil {
		t.Fatalf("DiscoverScriptTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name() != "good-tool" {
		t.Fatalf("tools = %+v, want exactly one good-tool", tools)
	}
}

func TestDiscoverScriptToolsOnMissingDirReturnsEmpty(t *testing.T) {
	tools, err := DiscoverScriptTools(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("DiscoverScriptTools on missing dir: %v", err)
	}
	if len(tools) != 0 {
		t.Fatalf("expected no tools for a missing directory, got %+v", tools)
	}
}
