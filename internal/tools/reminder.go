package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skynetai/skynet/internal/scheduler"
)

// ReminderTool implements reminder: add/list/remove persisted jobs that
// deliver a message (optionally with an image or a bash_command's output)
// back to the channel that created them. Wired to internal/scheduler.Handle.
// Both the delivery channel and the delivery target are resolved at
// add-time from the calling turn, since one tool instance is shared across
// every front-end channel the gateway runs.
type ReminderTool struct {
	handle  *scheduler.Handle
	channel func(ctx context.Context) string
	target  func(ctx context.Context) string
}

// NewReminderTool builds a ReminderTool. channel and target are called at
// add-time to capture the calling session's delivery channel (e.g.
// "discord", "ws") and address (a Discord channel id, a WS session key,
// ...) into the job's action payload.
func NewReminderTool(handle *scheduler.Handle, channel func(ctx context.Context) string, target func(ctx context.Context) string) *ReminderTool {
	return &ReminderTool{handle: handle, channel: channel, target: target}
}

func (t *ReminderTool) Name() string        { return "reminder" }
func (t *ReminderTool) Description() string { return "Add, list, or remove a scheduled reminder." }

func (t *ReminderTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"action":          map[string]any{"type": "string", "enum": []string{"add", "list", "remove"}},
		"message":         map[string]any{"type": "string", "description": "Text to deliver when the reminder fires."},
		"fire_at":         map[string]any{"type": "string", "description": "RFC3339 timestamp for a one-off reminder."},
		"fire_in_seconds": map[string]any{"type": "integer", "minimum": 1, "description": "Seconds from now for a one-off reminder."},
		"recurring":       map[string]any{"type": "string", "description": "\"daily|HH:MM\" (UTC) or \"interval|N\" (seconds, N>0)."},
		"image_url":       map[string]any{"type": "string", "description": "Optional image to attach to the delivered message."},
		"bash_command":    map[string]any{"type": "string", "description": "Optional command whose output is appended to the message at fire time."},
		"job_id":          map[string]any{"type": "string", "description": "Required for remove."},
	}, "action")
}

type reminderInput struct {
	Action        string `json:"action"`
	Message       string `json:"message"`
	FireAt        string `json:"fire_at"`
	FireInSeconds int    `json:"fire_in_seconds"`
	Recurring     string `json:"recurring"`
	ImageURL      string `json:"image_url"`
	BashCommand   string `json:"bash_command"`
	JobID         string `json:"job_id"`
}

func (t *ReminderTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in reminderInput
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	switch in.Action {
	case "add":
		return t.add(ctx, in)
	case "list":
		return t.list(ctx)
	case "remove":
		return t.remove(ctx, in)
	default:
		return toolError(fmt.Sprintf("unknown action %q", in.Action))
	}
}

func (t *ReminderTool) add(ctx context.Context, in reminderInput) (string, bool) {
	if in.Message == "" {
		return toolError("message is required")
	}
	schedule, err := parseReminderSchedule(in)
	if err != nil {
		return toolError(err.Error())
	}

	action := scheduler.Action{
		Message:     in.Message,
		ImageURL:    in.ImageURL,
		BashCommand: in.BashCommand,
	}
	if t.channel != nil {
		action.Channel = t.channel(ctx)
	}
	if t.target != nil {
		action.Target = t.target(ctx)
	}
	encoded, err := scheduler.EncodeAction(action)
	if err != nil {
		return toolError(fmt.Sprintf("encode action: %v", err))
	}

	job, err := t.handle.Add(ctx, in.Message, schedule, encoded, nil)
	if err != nil {
		return toolError(fmt.Sprintf("add reminder: %v", err))
	}
	return encodeResult(map[string]any{"job_id": job.ID, "next_run": job.NextRun})
}

func parseReminderSchedule(in reminderInput) (scheduler.Schedule, error) {
	switch {
	case in.Recurring != "":
		return parseRecurring(in.Recurring)
	case in.FireAt != "":
		at, err := time.Parse(time.RFC3339, in.FireAt)
		if err != nil {
			return scheduler.Schedule{}, fmt.Errorf("fire_at must be RFC3339: %w", err)
		}
		return scheduler.Schedule{Kind: scheduler.KindOnce, At: at}, nil
	case in.FireInSeconds > 0:
		return scheduler.Schedule{Kind: scheduler.KindOnce, At: time.Now().UTC().Add(time.Duration(in.FireInSeconds) * time.Second)}, nil
	default:
		return scheduler.Schedule{}, fmt.Errorf("one of fire_at, fire_in_seconds, or recurring is required")
	}
}

// parseRecurring parses the spec's two recurring grammars: "daily|HH:MM"
// (UTC) and "interval|N" (seconds, N>0).
func parseRecurring(raw string) (scheduler.Schedule, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return scheduler.Schedule{}, fmt.Errorf("recurring must be \"daily|HH:MM\" or \"interval|N\"")
	}
	kind, value := parts[0], parts[1]
	switch kind {
	case "daily":
		hh, mm, err := parseHHMM(value)
		if err != nil {
			return scheduler.Schedule{}, err
		}
		return scheduler.Schedule{Kind: scheduler.KindDaily, Hour: hh, Minute: mm}, nil
	case "interval":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return scheduler.Schedule{}, fmt.Errorf("interval seconds must be a positive integer, got %q", value)
		}
		return scheduler.Schedule{Kind: scheduler.KindInterval, EverySecs: n}, nil
	default:
		return scheduler.Schedule{}, fmt.Errorf("unknown recurring kind %q", kind)
	}
}

func parseHHMM(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

func (t *ReminderTool) list(ctx context.Context) (string, bool) {
	jobs, err := t.handle.List(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("list reminders: %v", err))
	}
	return encodeResult(map[string]any{"jobs": jobs})
}

func (t *ReminderTool) remove(ctx context.Context, in reminderInput) (string, bool) {
	if in.JobID == "" {
		return toolError("job_id is required for remove")
	}
	if err := t.handle.Remove(ctx, in.JobID); err != nil {
		return toolError(fmt.Sprintf("remove reminder: %v", err))
	}
	return encodeResult(map[string]any{"removed": in.JobID})
}
