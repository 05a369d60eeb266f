package sqlite

// schema is applied on every Open. All tables use TEXT for UUID and
// timestamp columns; timestamps are stored as RFC3339 strings. FTS5 mirrors are synced explicitly in the
// same transaction as their source table write — modernc.org/sqlite
// compiles FTS5 in by default, so no external extension load is needed.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL DEFAULT 'user',
	language          TEXT NOT NULL DEFAULT '',
	tone              TEXT NOT NULL DEFAULT '',
	interests         TEXT NOT NULL DEFAULT '', -- comma-separated
	age               INTEGER,
	timezone          TEXT NOT NULL DEFAULT '',
	cap_install       INTEGER NOT NULL DEFAULT 0,
	cap_browser       INTEGER NOT NULL DEFAULT 0,
	cap_exec          INTEGER NOT NULL DEFAULT 0,
	content_filter    TEXT NOT NULL DEFAULT 'moderate',
	token_budget      INTEGER,
	requires_approval INTEGER NOT NULL DEFAULT 0,
	msgs              INTEGER NOT NULL DEFAULT 0,
	tokens_total      INTEGER NOT NULL DEFAULT 0,
	tokens_today      INTEGER NOT NULL DEFAULT 0,
	reset_date        TEXT NOT NULL DEFAULT '',
	last_turn_at      TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_identities (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	channel    TEXT NOT NULL,
	identifier TEXT NOT NULL,
	verified   INTEGER NOT NULL DEFAULT 0,
	linked_by  TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(channel, identifier)
);
CREATE INDEX IF NOT EXISTS idx_identities_channel_ident ON user_identities(channel, identifier);
CREATE INDEX IF NOT EXISTS idx_identities_user ON user_identities(user_id);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	agent_id   TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	msg_count  INTEGER NOT NULL DEFAULT 0,
	tokens_total INTEGER NOT NULL DEFAULT 0,
	last_model TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL DEFAULT '',
	session_key TEXT NOT NULL,
	channel     TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	model_used  TEXT NOT NULL DEFAULT '',
	tokens_in   INTEGER NOT NULL DEFAULT 0,
	tokens_out  INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session_created ON conversations(session_key, created_at);

CREATE TABLE IF NOT EXISTS user_memory (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	category   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	source     TEXT NOT NULL,
	expires_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(user_id, category, key)
);
CREATE INDEX IF NOT EXISTS idx_user_memory_user ON user_memory(user_id);

CREATE VIRTUAL TABLE IF NOT EXISTS user_memory_fts USING fts5(
	key, value, content='user_memory', content_rowid='id'
);

CREATE TABLE IF NOT EXISTS knowledge (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT NOT NULL UNIQUE,
	content    TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT 'user',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
	topic, content, tags, content='knowledge', content_rowid='id'
);

CREATE TABLE IF NOT EXISTS tool_calls (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name   TEXT NOT NULL,
	session_key TEXT NOT NULL DEFAULT '',
	called_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_name ON tool_calls(tool_name);
CREATE INDEX IF NOT EXISTS idx_tool_calls_called_at ON tool_calls(called_at);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	schedule   TEXT NOT NULL,
	action     BLOB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	last_run   TEXT,
	next_run   TEXT,
	run_count  INTEGER NOT NULL DEFAULT 0,
	max_runs   INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(next_run);

CREATE TABLE IF NOT EXISTS approval_queue (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	tool_input  TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_approval_user ON approval_queue(user_id, status);
`
