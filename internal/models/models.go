// Package models holds the shared domain and wire types used across the
// gateway: users, identities, sessions, conversation turns, memory, and
// jobs. Keeping them in one package avoids import cycles between the
// storage, memory, identity, and runtime layers.
package models

import "time"

// Role is a user's privilege tier.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleChild Role = "child"
)

// ContentFilter controls how permissive tool/content exposure is for a user.
type ContentFilter string

const (
	ContentFilterStrict     ContentFilter = "strict"
	ContentFilterModerate   ContentFilter = "moderate"
	ContentFilterPermissive ContentFilter = "permissive"
)

// CapabilityFlags gates which tool families a user may invoke.
type CapabilityFlags struct {
	Install bool `json:"install"`
	Browser bool `json:"browser"`
	Exec    bool `json:"exec"`
}

// Counters tracks usage for a user across their lifetime and the current day.
type Counters struct {
	Messages   int64     `json:"msgs"`
	TokensAll  int64     `json:"tokens_total"`
	TokensDay  int64     `json:"tokens_today"`
	ResetDate  string    `json:"reset_date"` // YYYY-MM-DD, UTC
	LastTurnAt time.Time `json:"last_turn_at,omitempty"`
}

// User is a durable cross-channel identity owner. Created lazily on first
// contact via any channel.
type User struct {
	ID               string          `json:"id"` // UUIDv7
	DisplayName      string          `json:"display_name"`
	Role             Role            `json:"role"`
	Language         string          `json:"language,omitempty"`
	Tone             string          `json:"tone,omitempty"`
	Interests        []string        `json:"interests,omitempty"`
	Age              *int            `json:"age,omitempty"`
	Timezone         string          `json:"tz,omitempty"`
	Capabilities     CapabilityFlags `json:"capability_flags"`
	ContentFilter    ContentFilter   `json:"content_filter"`
	TokenBudget      *int64          `json:"token_budget,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	Counters         Counters        `json:"counters"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// UserIdentity maps a (channel, identifier) pair to a durable user.
type UserIdentity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Channel   string    `json:"channel"`
	Identifier string   `json:"identifier"`
	Verified  bool      `json:"verified"`
	LinkedBy  string    `json:"linked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a user-centric conversation slot shared across channels.
type Session struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	UserID     string    `json:"user_id"`
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Title      string    `json:"title,omitempty"`
	MsgCount   int64     `json:"msg_count"`
	TokensAll  int64     `json:"tokens_total"`
	LastModel  string    `json:"last_model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MessageRole identifies who authored a ConversationMessage.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ConversationMessage is one append-only turn of session history.
type ConversationMessage struct {
	ID         int64       `json:"id"`
	UserID     string      `json:"user_id,omitempty"`
	SessionKey string      `json:"session_key"`
	Channel    string      `json:"channel"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ModelUsed  string      `json:"model_used,omitempty"`
	TokensIn   int         `json:"tokens_in"`
	TokensOut  int         `json:"tokens_out"`
	CostUSD    float64     `json:"cost_usd"`
	CreatedAt  time.Time   `json:"created_at"`
}

// MemoryCategory buckets a UserMemory row for prompt rendering order.
type MemoryCategory string

const (
	MemoryCategoryInstruction MemoryCategory = "instruction"
	MemoryCategoryPreference  MemoryCategory = "preference"
	MemoryCategoryFact        MemoryCategory = "fact"
	MemoryCategoryContext     MemoryCategory = "context"
)

// MemorySource records how a UserMemory fact was learned.
type MemorySource string

const (
	MemorySourceUserSaid MemorySource = "user_said"
	MemorySourceInferred MemorySource = "inferred"
	MemorySourceAdminSet MemorySource = "admin_set"
)

// UserMemory is a durable long-term fact/instruction/preference about a user.
type UserMemory struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"user_id"`
	Category   MemoryCategory `json:"category"`
	Key        string         `json:"key"`
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence"`
	Source     MemorySource   `json:"source"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// KnowledgeSource records who/what authored a KnowledgeEntry.
type KnowledgeSource string

const (
	KnowledgeSourceUser KnowledgeSource = "user"
	KnowledgeSourceMCP  KnowledgeSource = "mcp"
	KnowledgeSourceSeed KnowledgeSource = "seed"
)

// KnowledgeEntry is an operator-authored, any-user-readable knowledge row.
type KnowledgeEntry struct {
	ID        int64           `json:"id"`
	Topic     string          `json:"topic"`
	Content   string          `json:"content"`
	Tags      string          `json:"tags"` // comma-separated
	Source    KnowledgeSource `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ToolCallLogEntry records one tool invocation for frequency ranking.
type ToolCallLogEntry struct {
	ID         int64     `json:"id"`
	ToolName   string    `json:"tool_name"`
	SessionKey string    `json:"session_key"`
	CalledAt   time.Time `json:"called_at"`
}

// JobStatus is the lifecycle state of a scheduled Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusMissed    JobStatus = "missed"
)

// Job is a persisted, timed unit of work dispatched to a channel at fire time.
type Job struct {
	ID        string     `json:"id"` // UUIDv4
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"` // encoded tagged union, see internal/scheduler
	Action    []byte     `json:"action"`   // opaque JSON payload
	Status    JobStatus  `json:"status"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	RunCount  int        `json:"run_count"`
	MaxRuns   *int       `json:"max_runs,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TokenKind identifies the shape of a provider credential.
type TokenKind string

const (
	TokenKindAPIKey   TokenKind = "api_key"
	TokenKindOAuth    TokenKind = "oauth"
	TokenKindExchange TokenKind = "exchange"
	TokenKindNone     TokenKind = "none"
)

// TokenInfo is a nullable snapshot of a provider's credential state.
type TokenInfo struct {
	Kind        TokenKind  `json:"kind"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Refreshable bool       `json:"refreshable"`
}

// HealthStatus is the derived status of a provider's rolling window.
type HealthStatus string

const (
	HealthOK          HealthStatus = "ok"
	HealthDegraded    HealthStatus = "degraded"
	HealthDown        HealthStatus = "down"
	HealthRateLimited HealthStatus = "rate_limited"
	HealthAuthExpired HealthStatus = "auth_expired"
	HealthUnknown     HealthStatus = "unknown"
)

// ToolCall is a single structured tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input []byte          `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_use_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
