// Package policy gates the tool surface a user's turn is allowed to see
// and invoke, giving spec.md's otherwise-inert User fields — content
// filter, capability flags, and the approval state a daily token budget
// can trip — a concrete enforcement point. Grounded on the teacher's
// internal/tools/policy.Resolver, reduced from its MCP/edge-server group
// expansion machinery to the single axis this gateway actually needs:
// a static table of sensitive built-ins gated by those three user fields.
package policy

import (
	"fmt"
	"strings"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/providers"
)

// sensitive lists the built-in tools that reach outside the conversation
// (shell/process execution) and maps each to the CapabilityFlags field
// that must be set for a user to use it. A tool absent from this table is
// never gated — it has no elevated capability to withhold.
var sensitive = map[string]func(models.CapabilityFlags) bool{
	"bash":            func(c models.CapabilityFlags) bool { return c.Exec },
	"execute_command": func(c models.CapabilityFlags) bool { return c.Exec },
	"script_tool":     func(c models.CapabilityFlags) bool { return c.Exec },
}

// Decision explains whether a tool is visible/runnable for a user.
type Decision struct {
	Allowed bool
	Reason  string
}

// Resolver gates tool visibility and execution against a resolved user.
// Stateless today; a struct in case gated tool sets need to vary per
// deployment later.
type Resolver struct{}

// NewResolver builds a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve decides whether user may see and invoke toolName. A nil user
// (turn processed outside identity resolution, e.g. a direct CLI call)
// is unrestricted.
func (r *Resolver) Resolve(user *models.User, toolName string) Decision {
	gate, ok := sensitive[strings.ToLower(toolName)]
	if !ok || user == nil {
		return Decision{Allowed: true}
	}

	if user.ContentFilter == models.ContentFilterStrict {
		return Decision{Reason: fmt.Sprintf("content_filter=strict hides %s", toolName)}
	}
	if !gate(user.Capabilities) {
		return Decision{Reason: fmt.Sprintf("%s requires a capability flag this user lacks", toolName)}
	}
	if user.RequiresApproval {
		return Decision{Reason: fmt.Sprintf("%s requires admin approval (daily token budget exceeded)", toolName)}
	}
	return Decision{Allowed: true}
}

// VisibleDefs filters defs down to the tools user is allowed to see, per
// Resolve. Order is preserved.
func (r *Resolver) VisibleDefs(user *models.User, defs []providers.ToolDef) []providers.ToolDef {
	out := make([]providers.ToolDef, 0, len(defs))
	for _, d := range defs {
		if r.Resolve(user, d.Name).Allowed {
			out = append(out, d)
		}
	}
	return out
}
