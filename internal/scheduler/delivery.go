package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
)

// Action is the opaque JSON payload carried by models.Job.Action, decoded by
// the delivery router when a job fires.
type Action struct {
	Channel     string `json:"channel"`                 // "discord" | "ws" | "web" | "terminal" | ...
	Target      string `json:"target,omitempty"`        // discord channel id, session key, etc.
	Message     string `json:"message"`
	ImageURL    string `json:"image_url,omitempty"`
	BashCommand string `json:"bash_command,omitempty"`
}

// EncodeAction serializes an Action for storage in models.Job.Action.
func EncodeAction(a Action) ([]byte, error) {
	return json.Marshal(a)
}

// CommandRunner executes a bash_command attached to a fired job's action
// payload. Satisfied by the bash tool's persistent session or a one-shot
// runner; kept as a minimal interface here so scheduler never imports
// internal/tools.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, err error)
}

// Dispatcher delivers one fired job's rendered message to a single channel.
// internal/channels adapters and internal/gateway's WS broadcaster each
// implement this for the channel names they own.
type Dispatcher interface {
	Deliver(ctx context.Context, action Action, job *models.Job) error
}

// Router drains an Engine's fired-job channel and dispatches each by
// channel name. Unregistered channels are logged and dropped — delivery
// never blocks the tick loop and never panics on a bad payload.
type Router struct {
	log         zerolog.Logger
	runner      CommandRunner
	dispatchers map[string]Dispatcher
}

// NewRouter builds a Router. runner may be nil if no fired job is ever
// expected to carry a bash_command.
func NewRouter(log zerolog.Logger, runner CommandRunner) *Router {
	return &Router{
		log:         log.With().Str("component", "scheduler.router").Logger(),
		runner:      runner,
		dispatchers: make(map[string]Dispatcher),
	}
}

// Register binds a Dispatcher to a channel name.
func (r *Router) Register(channel string, d Dispatcher) {
	r.dispatchers[channel] = d
}

// Run drains fired until ctx is cancelled, dispatching each job. Every
// failure is logged and swallowed — a delivery failure must never surface
// back to the scheduler's tick loop.
func (r *Router) Run(ctx context.Context, fired <-chan *models.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-fired:
			if !ok {
				return
			}
			r.deliver(ctx, job)
		}
	}
}

func (r *Router) deliver(ctx context.Context, job *models.Job) {
	var action Action
	if err := json.Unmarshal(job.Action, &action); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("deliver: decode action failed")
		return
	}

	if action.BashCommand != "" && r.runner != nil {
		stdout, stderr, err := r.runner.Run(ctx, action.BashCommand)
		switch {
		case err != nil:
			action.Message += fmt.Sprintf("\n```\n%s\n```", stderr)
		case stdout != "":
			action.Message += fmt.Sprintf("\n```\n%s\n```", stdout)
		}
	}

	d, ok := r.dispatchers[action.Channel]
	if !ok {
		r.log.Warn().Str("job_id", job.ID).Str("channel", action.Channel).Msg("deliver: no dispatcher registered for channel")
		return
	}
	if err := d.Deliver(ctx, action, job); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Str("channel", action.Channel).Msg("deliver: dispatch failed")
	}
}
