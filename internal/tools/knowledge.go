package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/models"
)

const knowledgeSearchDefaultLimit = 10

// KnowledgeSearchTool implements knowledge_search: an FTS5 query over the
// operator-authored knowledge base.
type KnowledgeSearchTool struct{ mgr *memory.Manager }

func NewKnowledgeSearchTool(mgr *memory.Manager) *KnowledgeSearchTool { return &KnowledgeSearchTool{mgr: mgr} }

func (t *KnowledgeSearchTool) Name() string        { return "knowledge_search" }
func (t *KnowledgeSearchTool) Description() string { return "Search the knowledge base for entries matching a query." }

func (t *KnowledgeSearchTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Search terms."},
		"limit": map[string]any{"type": "integer", "minimum": 1, "description": "Maximum entries to return."},
	}, "query")
}

func (t *KnowledgeSearchTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if in.Limit <= 0 {
		in.Limit = knowledgeSearchDefaultLimit
	}
	entries, err := t.mgr.SearchKnowledge(ctx, in.Query, in.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("search knowledge: %v", err))
	}
	return encodeResult(map[string]any{"entries": entries})
}

// KnowledgeWriteTool implements knowledge_write: upsert a topic.
type KnowledgeWriteTool struct{ mgr *memory.Manager }

func NewKnowledgeWriteTool(mgr *memory.Manager) *KnowledgeWriteTool { return &KnowledgeWriteTool{mgr: mgr} }

func (t *KnowledgeWriteTool) Name() string        { return "knowledge_write" }
func (t *KnowledgeWriteTool) Description() string { return "Create or update a knowledge base entry." }

func (t *KnowledgeWriteTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"topic":   map[string]any{"type": "string", "description": "Unique topic name."},
		"content": map[string]any{"type": "string", "description": "Entry body."},
		"tags":    map[string]any{"type": "string", "description": "Comma-separated tags."},
	}, "topic", "content")
}

func (t *KnowledgeWriteTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Topic   string `json:"topic"`
		Content string `json:"content"`
		Tags    string `json:"tags"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if err := t.mgr.WriteKnowledge(ctx, &models.KnowledgeEntry{
		Topic: in.Topic, Content: in.Content, Tags: in.Tags, Source: models.KnowledgeSourceUser,
	}); err != nil {
		return toolError(fmt.Sprintf("write knowledge: %v", err))
	}
	return encodeResult(map[string]any{"topic": in.Topic})
}

// KnowledgeListTool implements knowledge_list: every entry, most recently
// updated first.
type KnowledgeListTool struct{ mgr *memory.Manager }

func NewKnowledgeListTool(mgr *memory.Manager) *KnowledgeListTool { return &KnowledgeListTool{mgr: mgr} }

func (t *KnowledgeListTool) Name() string        { return "knowledge_list" }
func (t *KnowledgeListTool) Description() string { return "List every knowledge base entry." }
func (t *KnowledgeListTool) InputSchema() []byte  { return objectSchema(map[string]any{}) }

func (t *KnowledgeListTool) Execute(ctx context.Context, input []byte) (string, bool) {
	entries, err := t.mgr.ListKnowledge(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("list knowledge: %v", err))
	}
	return encodeResult(map[string]any{"entries": entries})
}

// KnowledgeDeleteTool implements knowledge_delete: remove an entry by id.
type KnowledgeDeleteTool struct{ mgr *memory.Manager }

func NewKnowledgeDeleteTool(mgr *memory.Manager) *KnowledgeDeleteTool { return &KnowledgeDeleteTool{mgr: mgr} }

func (t *KnowledgeDeleteTool) Name() string        { return "knowledge_delete" }
func (t *KnowledgeDeleteTool) Description() string { return "Delete a knowledge base entry by id." }

func (t *KnowledgeDeleteTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"id": map[string]any{"type": "integer", "description": "Entry id, from knowledge_list or knowledge_search."},
	}, "id")
}

func (t *KnowledgeDeleteTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if err := t.mgr.DeleteKnowledgeEntry(ctx, in.ID); err != nil {
		return toolError(fmt.Sprintf("delete knowledge: %v", err))
	}
	return encodeResult(map[string]any{"deleted": in.ID})
}
