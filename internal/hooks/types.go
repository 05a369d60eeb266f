// Package hooks implements spec.md §4.11's before/after event taps: a
// priority-sorted registry where Before handlers may allow, modify, or
// block an event, and After handlers run concurrently as fire-and-forget
// observers.
package hooks

import "context"

// EventType names a point in the pipeline a hook can tap.
type EventType string

const (
	// EventLLMInput fires just before a provider call, payload carries the
	// request the provider is about to receive.
	EventLLMInput EventType = "llm.input"
	// EventLLMOutput fires after a provider call returns successfully.
	EventLLMOutput EventType = "llm.output"
	// EventLLMError fires when a provider call returns an error.
	EventLLMError EventType = "llm.error"

	EventGatewayStartup  EventType = "gateway.startup"
	EventGatewayShutdown EventType = "gateway.shutdown"

	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"

	EventSessionCreated EventType = "session.created"

	EventToolCalled    EventType = "tool.called"
	EventToolCompleted EventType = "tool.completed"
)

// Timing selects which phase of an event a Registration taps.
type Timing string

const (
	Before Timing = "before"
	After  Timing = "after"
)

// Priority determines call order within a phase; lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Context carries an event through the registry's Before chain. Payload is
// the mutable request/response data downstream handlers see; a Modify
// decision replaces it for every handler still to run.
type Context struct {
	Event      EventType
	SessionKey string
	ChannelID  string
	Payload    map[string]any
	Err        error
}

// DecisionKind is a Before handler's verdict.
type DecisionKind int

const (
	// Allow lets the event proceed unchanged.
	Allow DecisionKind = iota
	// Modify replaces the Context's Payload for downstream handlers.
	Modify
	// Block halts the Before chain and skips After dispatch entirely.
	Block
)

// Decision is a Before handler's return value. After handlers return one
// too, but its Kind is ignored — only a non-nil error is logged for them.
type Decision struct {
	Kind    DecisionKind
	Payload map[string]any // set when Kind == Modify
	Reason  string         // set when Kind == Block
}

func AllowDecision() Decision                       { return Decision{Kind: Allow} }
func ModifyDecision(payload map[string]any) Decision { return Decision{Kind: Modify, Payload: payload} }
func BlockDecision(reason string) Decision           { return Decision{Kind: Block, Reason: reason} }

// Handler processes one event. Before handlers' Decision is honored; After
// handlers' Decision is discarded (only err is logged).
type Handler func(ctx context.Context, hctx *Context) (Decision, error)

// Registration binds a Handler to an event/timing/priority.
type Registration struct {
	ID       string
	Name     string
	Event    EventType
	Timing   Timing
	Priority Priority
	Handler  Handler
	Source   string // plugin or subsystem that registered this hook
}
