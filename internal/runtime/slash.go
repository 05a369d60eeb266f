package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skynetai/skynet/internal/providers"
)

// Version is the gateway's reported build identity, surfaced by /version.
const Version = "0.1.0"

// helpText lists every slash command this runtime recognizes.
const helpText = `Available commands:
/help            show this message
/version         show the gateway version
/model           show the current default model
/model <alias>   switch the default model (opus|sonnet|haiku or a full model id)
/tools           list registered tool names
/reload          reload the SOUL prompt file from disk
/config          show a summary of the active configuration
/clear           forget this session's conversation history`

// handleSlashCommand intercepts a recognized leading-slash command,
// returning its reply and handled=true. Any other content falls through to
// the ordinary turn pipeline, per spec.md §4.9 step 2.
func (r *Runtime) handleSlashCommand(ctx context.Context, turn Turn, session string) (*ProcessedMessage, bool) {
	content := strings.TrimSpace(turn.Content)
	if !strings.HasPrefix(content, "/") {
		return nil, false
	}
	fields := strings.Fields(content)
	cmd := strings.ToLower(fields[0])
	model := r.DefaultModel()

	reply := func(text string) (*ProcessedMessage, bool) {
		return &ProcessedMessage{Content: text, Model: model, StopReason: providers.StopReasonEndTurn}, true
	}

	switch cmd {
	case "/help":
		return reply(helpText)

	case "/version":
		return reply(fmt.Sprintf("skynet gateway %s", Version))

	case "/model":
		if len(fields) == 1 {
			return reply(fmt.Sprintf("current model: %s", model))
		}
		newModel := ResolveModelAlias(fields[1])
		r.SetDefaultModel(newModel)
		return reply(fmt.Sprintf("model set to %s", newModel))

	case "/tools":
		if r.deps.Tools == nil {
			return reply("no tools registered")
		}
		defs := r.deps.Tools.Defs()
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, d.Name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return reply("no tools registered")
		}
		return reply("tools: " + strings.Join(names, ", "))

	case "/reload":
		if r.deps.Prompt == nil {
			return reply("no prompt builder configured")
		}
		if err := r.deps.Prompt.Reload(); err != nil {
			return reply(fmt.Sprintf("reload failed: %v", err))
		}
		return reply("reloaded SOUL prompt from disk")

	case "/config":
		if r.deps.Config == nil {
			return reply("no configuration loaded")
		}
		return reply(fmt.Sprintf("model: %s\nproviders: %s\nscheduler tick: %ds",
			model, strings.Join(r.deps.Config.Providers.Order, ", "), r.deps.Config.Scheduler.TickSeconds))

	case "/clear":
		n, err := r.deps.Memory.CountTurns(ctx, session)
		if err != nil {
			return reply(fmt.Sprintf("clear failed: %v", err))
		}
		if n == 0 {
			return reply("no history to clear")
		}
		if err := r.deps.Memory.DeleteTurns(ctx, session, n); err != nil {
			return reply(fmt.Sprintf("clear failed: %v", err))
		}
		return reply(fmt.Sprintf("cleared %d turns of history", n))

	default:
		// Unrecognized leading-slash text falls through to the normal
		// pipeline as ordinary message content — channel-specific commands
		// (e.g. a Discord-only /invite) are handled by the channel adapter
		// before this runtime ever sees them.
		return nil, false
	}
}
