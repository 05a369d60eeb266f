package sqlite

import (
	"context"
	"time"
)

// LogToolCall records one tool invocation for later frequency ranking.
func (s *Store) LogToolCall(ctx context.Context, toolName, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO tool_calls (tool_name, session_key, called_at) VALUES (?,?,?)`,
		toolName, sessionKey, now())
	return err
}

// HotTopic is a tool name ranked by how often it has been invoked within
// the lookback window.
type HotTopic struct {
	ToolName string
	Count    int
}

// HotTopics returns the most frequently invoked tools for a session over
// its whole history, most-called first, capped at limit rows. Used by
// internal/memory to surface "hot topics" in the volatile prompt tier.
func (s *Store) HotTopics(ctx context.Context, sessionKey string, limit int) ([]HotTopic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*) as c FROM tool_calls
		WHERE session_key = ? GROUP BY tool_name ORDER BY c DESC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HotTopic
	for rows.Next() {
		var h HotTopic
		if err := rows.Scan(&h.ToolName, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TopTools returns the most frequently invoked tools across every session
// within the last days, most-called first, capped at limit rows. Used by
// internal/memory to seed get_hot_topics' tag-intersection scoring.
func (s *Store) TopTools(ctx context.Context, days int, limit int) ([]HotTopic, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*) as c FROM tool_calls
		WHERE called_at >= ? GROUP BY tool_name ORDER BY c DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HotTopic
	for rows.Next() {
		var h HotTopic
		if err := rows.Scan(&h.ToolName, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
