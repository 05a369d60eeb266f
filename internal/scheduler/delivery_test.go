package scheduler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
)

type recordingDispatcher struct {
	delivered []Action
}

func (d *recordingDispatcher) Deliver(ctx context.Context, action Action, job *models.Job) error {
	d.delivered = append(d.delivered, action)
	return nil
}

type scriptedRunner struct {
	stdout string
}

func (r *scriptedRunner) Run(ctx context.Context, command string) (string, string, error) {
	return r.stdout, "", nil
}

func TestRouterDispatchesByChannel(t *testing.T) {
	ws := &recordingDispatcher{}
	r := NewRouter(zerolog.Nop(), nil)
	r.Register("ws", ws)

	action, err := EncodeAction(Action{Channel: "ws", Message: "hello"})
	if err != nil {
		t.Fatalf("EncodeAction() error: %v", err)
	}
	r.deliver(context.Background(), &models.Job{ID: "j1", Action: action})

	if len(ws.delivered) != 1 || ws.delivered[0].Message != "hello" {
		t.Fatalf("ws.delivered = %+v, want one \"hello\" action", ws.delivered)
	}
}

func TestRouterUnregisteredChannelIsDroppedNotPanicked(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	action, err := EncodeAction(Action{Channel: "discord", Message: "hi"})
	if err != nil {
		t.Fatalf("EncodeAction() error: %v", err)
	}
	r.deliver(context.Background(), &models.Job{ID: "j1", Action: action}) // must not panic
}

func TestRouterAppendsBashCommandOutputToMessage(t *testing.T) {
	terminal := &recordingDispatcher{}
	r := NewRouter(zerolog.Nop(), &scriptedRunner{stdout: "42"})
	r.Register("terminal", terminal)

	action, err := EncodeAction(Action{Channel: "terminal", Message: "result:", BashCommand: "echo 42"})
	if err != nil {
		t.Fatalf("EncodeAction() error: %v", err)
	}
	r.deliver(context.Background(), &models.Job{ID: "j1", Action: action})

	if len(terminal.delivered) != 1 {
		t.Fatalf("terminal.delivered = %+v, want one delivery", terminal.delivered)
	}
	got := terminal.delivered[0].Message
	if !contains(got, "result:") || !contains(got, "42") {
		t.Fatalf("delivered message = %q, want bash output appended", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
