package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skynetai/skynet/internal/safety"
)

const (
	bashPollInterval = 100 * time.Millisecond
	bashDeadline     = 60 * time.Second
)

// bashSession is a single persistent shell kept alive for the life of the
// process. Every bash tool call writes a command to its stdin and polls
// stdout for a unique sentinel line rather than spawning a new process per
// call, so state (cwd, env vars, background jobs) survives across calls.
// Grounded on internal/tools/exec/manager.go's startBackground, adapted
// from a tracked-by-id process pool to a single long-lived singleton
// addressed by sentinel polling instead of an exit-channel wait.
type bashSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

// BashTool implements bash: a process-global persistent shell session.
// A timed-out call clears the stored session so the next call respawns a
// fresh shell rather than reusing one stuck mid-command.
type BashTool struct {
	resolver resolver

	mu      sync.Mutex
	session *bashSession
	started bool
}

func NewBashTool(workspace string) *BashTool {
	return &BashTool{resolver: resolver{Root: workspace}}
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Run a command in a persistent shell session that keeps its working directory and environment across calls."
}

func (t *BashTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "Shell command to run in the persistent session."},
	}, "command")
}

func (t *BashTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	for _, line := range strings.Split(in.Command, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if verdict := safety.CheckCommand(line); !verdict.Allowed {
			return toolError(fmt.Sprintf("command rejected: %s", verdict.Reason))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	firstCommand := !t.started
	if t.session == nil {
		sess, err := t.spawn(ctx)
		if err != nil {
			return toolError(fmt.Sprintf("start session: %v", err))
		}
		t.session = sess
		t.started = true
	}

	out, err := t.session.run(in.Command)
	if err != nil {
		t.session.close()
		t.session = nil // respawn fresh on the next call
		return toolError(fmt.Sprintf("session error: %v", err))
	}

	result := map[string]any{"output": out}
	if firstCommand {
		result["session"] = "started"
	}
	return encodeResult(result)
}

func (t *BashTool) spawn(ctx context.Context) (*bashSession, error) {
	cwd, err := t.resolver.Resolve(".")
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("/bin/sh")
	cmd.Dir = cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return &bashSession{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdoutPipe)}, nil
}

func (s *bashSession) close() {
	s.stdin.Close()
	s.cmd.Process.Kill()
	s.cmd.Wait()
}

// run writes command to the session's stdin followed by an echo of a
// unique sentinel, then reads lines until the sentinel reappears, polling
// every bashPollInterval with an overall bashDeadline.
func (s *bashSession) run(command string) (string, error) {
	sentinel := fmt.Sprintf("__DONE_%s__", uuid.NewString())
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}
	if _, err := io.WriteString(s.stdin, fmt.Sprintf("echo \"%s\"\n", sentinel)); err != nil {
		return "", fmt.Errorf("write sentinel: %w", err)
	}

	lineCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, err := s.stdout.ReadString('\n')
			if line != "" {
				line = strings.TrimRight(line, "\r\n")
				lineCh <- line
				if line == sentinel {
					return // the next call starts its own reader
				}
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	var output strings.Builder
	deadline := time.After(bashDeadline)
	for {
		select {
		case line := <-lineCh:
			if line == sentinel {
				return output.String(), nil
			}
			output.WriteString(line)
			output.WriteByte('\n')
		case err := <-errCh:
			return output.String(), fmt.Errorf("session closed: %w", err)
		case <-deadline:
			return output.String(), fmt.Errorf("timed out after %s waiting for command to complete", bashDeadline)
		case <-time.After(bashPollInterval):
			// keep polling; nothing to do on a bare tick
		}
	}
}
