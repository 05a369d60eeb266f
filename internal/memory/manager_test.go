package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

func newTestManager(t *testing.T, compactor Sender) *Manager {
	t.Helper()
	store, err := sqlite.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, zerolog.Nop(), compactor, "claude-haiku")
}

func TestLearnForgetSearch(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	written, err := m.Learn(ctx, "u1", models.MemoryCategoryPreference, "theme", "dark", 0.9, models.MemorySourceUserSaid)
	if err != nil || !written {
		t.Fatalf("Learn() = %v, %v; want written=true", written, err)
	}

	results, err := m.Search(ctx, "u1", "dark", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Value != "dark" {
		t.Fatalf("Search() = %+v, want one dark match", results)
	}

	if err := m.Forget(ctx, "u1", models.MemoryCategoryPreference, "theme"); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}
	results, err = m.Search(ctx, "u1", "dark", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search() after Forget() = %+v, want empty", results)
	}
}

func TestLearnConfidenceWinsLowerConfidenceDropped(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.Learn(ctx, "u1", models.MemoryCategoryFact, "city", "nyc", 0.8, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}
	written, err := m.Learn(ctx, "u1", models.MemoryCategoryFact, "city", "boston", 0.3, models.MemorySourceInferred)
	if err != nil {
		t.Fatalf("Learn() error: %v", err)
	}
	if written {
		t.Fatalf("Learn() with lower confidence should not overwrite")
	}

	got, err := m.Search(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(got) != 1 || got[0].Value != "nyc" {
		t.Fatalf("Search() = %+v, want original nyc fact preserved", got)
	}
}

func TestSearchWildcardMatchesAllUsers(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	if _, err := m.Learn(ctx, "u1", models.MemoryCategoryFact, "k", "v1", 0.9, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}
	if _, err := m.Learn(ctx, "u2", models.MemoryCategoryFact, "k", "v2", 0.9, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}

	all, err := m.Search(ctx, "*", "", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Search(\"*\") = %d rows, want 2", len(all))
	}
}

func TestBuildUserContextOrdersByCategoryAndCaches(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.Learn(ctx, "u1", models.MemoryCategoryFact, "city", "nyc", 0.9, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}
	if _, err := m.Learn(ctx, "u1", models.MemoryCategoryInstruction, "tone", "be terse", 0.9, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}

	text, err := m.BuildUserContext(ctx, "u1")
	if err != nil {
		t.Fatalf("BuildUserContext() error: %v", err)
	}
	instrIdx := indexOf(text, "tone: be terse")
	factIdx := indexOf(text, "city: nyc")
	if instrIdx == -1 || factIdx == -1 || instrIdx > factIdx {
		t.Fatalf("expected instruction before fact, got:\n%s", text)
	}

	// cache hit: mutate the store directly without invalidating, context should be unchanged
	if _, err := m.store.UpsertFact(ctx, &models.UserMemory{UserID: "u1", Category: models.MemoryCategoryFact, Key: "extra", Value: "zzz", Confidence: 0.9}); err != nil {
		t.Fatalf("UpsertFact() error: %v", err)
	}
	cached, err := m.BuildUserContext(ctx, "u1")
	if err != nil {
		t.Fatalf("BuildUserContext() error: %v", err)
	}
	if indexOf(cached, "extra: zzz") != -1 {
		t.Fatalf("expected cached context to miss the uninvalidated write")
	}

	// Learn() invalidates; the next build should pick up the new fact.
	if _, err := m.Learn(ctx, "u1", models.MemoryCategoryFact, "country", "us", 0.9, models.MemorySourceUserSaid); err != nil {
		t.Fatalf("Learn() error: %v", err)
	}
	fresh, err := m.BuildUserContext(ctx, "u1")
	if err != nil {
		t.Fatalf("BuildUserContext() error: %v", err)
	}
	if indexOf(fresh, "country: us") == -1 {
		t.Fatalf("expected invalidated cache to pick up new fact, got:\n%s", fresh)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &models.ConversationMessage{
			UserID: "u1", SessionKey: "s1", Channel: "discord",
			Role: models.MessageRoleUser, Content: fmt.Sprintf("turn %d", i),
		}
		if err := m.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() error: %v", err)
		}
	}

	count, err := m.CountTurns(ctx, "s1")
	if err != nil || count != 3 {
		t.Fatalf("CountTurns() = %d, %v; want 3, nil", count, err)
	}

	history, err := m.GetHistory(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error: %v", err)
	}
	if len(history) != 3 || history[0].Content != "turn 0" {
		t.Fatalf("GetHistory() = %+v, want oldest-first 3 turns", history)
	}

	oldest, err := m.GetOldestTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetOldestTurns() error: %v", err)
	}
	if len(oldest) != 2 || oldest[0].Content != "turn 0" || oldest[1].Content != "turn 1" {
		t.Fatalf("GetOldestTurns() = %+v", oldest)
	}

	if err := m.DeleteTurns(ctx, "s1", 2); err != nil {
		t.Fatalf("DeleteTurns() error: %v", err)
	}
	remaining, err := m.CountTurns(ctx, "s1")
	if err != nil || remaining != 1 {
		t.Fatalf("CountTurns() after delete = %d, %v; want 1, nil", remaining, err)
	}
}

type scriptedCompactor struct {
	response string
}

func (s *scriptedCompactor) Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: s.response}, nil
}

func TestCompactionFoldsOldestTurnsIntoFactsAndDeletesThem(t *testing.T) {
	compactor := &scriptedCompactor{response: `Sure, here you go: [
		{"key": "theme_pref", "value": "user prefers dark mode", "category": "preference"},
		{"key": "location", "value": "user lives in nyc", "category": "fact"}
	]`}
	m := newTestManager(t, compactor)
	ctx := context.Background()

	for i := 0; i < compactionBatchSize; i++ {
		msg := &models.ConversationMessage{
			UserID: "u1", SessionKey: "s1", Channel: "discord",
			Role: models.MessageRoleUser, Content: fmt.Sprintf("turn %d", i),
		}
		if err := m.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() error: %v", err)
		}
	}

	// Call compact directly (synchronously) rather than relying on the
	// spawned goroutine SaveMessage triggers once the threshold is crossed,
	// so the assertions below aren't racing a background task.
	m.compact(ctx, "s1")

	remaining, err := m.CountTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("CountTurns() error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("CountTurns() = %d, want 0 after compaction folded and deleted the batch", remaining)
	}

	facts, err := m.Search(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("Search() = %d facts, want 2 extracted facts", len(facts))
	}
	for _, f := range facts {
		if f.Source != models.MemorySourceInferred || f.Confidence != 0.7 {
			t.Fatalf("fact %+v should be inferred at confidence 0.7", f)
		}
	}
}

func TestParseFactArrayTolerantOfSurroundingProse(t *testing.T) {
	facts, err := parseFactArray(`here are the facts:
	[{"key": "a", "value": "fact a", "category": "fact"}, {"key": "b", "value": "fact b", "category": "context"}]
	hope that helps`)
	if err != nil {
		t.Fatalf("parseFactArray() error: %v", err)
	}
	if len(facts) != 2 || facts[0].Key != "a" || facts[1].Key != "b" {
		t.Fatalf("parseFactArray() = %+v", facts)
	}
	if facts[0].category() != models.MemoryCategoryFact || facts[1].category() != models.MemoryCategoryContext {
		t.Fatalf("parseFactArray() categories = %v, %v", facts[0].category(), facts[1].category())
	}

	if _, err := parseFactArray("no array here"); err == nil {
		t.Fatalf("parseFactArray() expected error for missing array")
	}
}

func TestParseFactArrayCapsAtTenItems(t *testing.T) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < 15; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `{"key":"k%d","value":"v%d","category":"fact"}`, i, i)
	}
	sb.WriteByte(']')

	facts, err := parseFactArray(sb.String())
	if err != nil {
		t.Fatalf("parseFactArray() error: %v", err)
	}
	if len(facts) != extractFactCap {
		t.Fatalf("parseFactArray() = %d facts, want capped at %d", len(facts), extractFactCap)
	}
}

func TestExtractedFactCategoryFallsBackToFactForUnknownValue(t *testing.T) {
	f := extractedFact{Category: "nonsense"}
	if f.category() != models.MemoryCategoryFact {
		t.Fatalf("category() = %v, want fallback to fact", f.category())
	}
}

func TestEnsureSessionCreatesRowOnceThenNoops(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.store.CreateUser(ctx, &models.User{ID: "u1"}); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	key := "user:u1:agent:default:default"
	if err := m.EnsureSession(ctx, key, "u1", "default"); err != nil {
		t.Fatalf("EnsureSession() error: %v", err)
	}
	sess, err := m.store.GetSessionByKey(ctx, key)
	if err != nil {
		t.Fatalf("GetSessionByKey() error: %v", err)
	}
	if sess.UserID != "u1" || sess.AgentID != "default" {
		t.Fatalf("GetSessionByKey() = %+v", sess)
	}

	// Calling again must not error or duplicate the row.
	if err := m.EnsureSession(ctx, key, "u1", "default"); err != nil {
		t.Fatalf("EnsureSession() second call error: %v", err)
	}
}

func TestRecordSessionTurnAccumulates(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.store.CreateUser(ctx, &models.User{ID: "u1"}); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	key := "user:u1:agent:default:default"
	if err := m.EnsureSession(ctx, key, "u1", "default"); err != nil {
		t.Fatalf("EnsureSession() error: %v", err)
	}

	if err := m.RecordSessionTurn(ctx, key, 42, "claude-haiku"); err != nil {
		t.Fatalf("RecordSessionTurn() error: %v", err)
	}
	if err := m.RecordSessionTurn(ctx, key, 8, "claude-opus"); err != nil {
		t.Fatalf("RecordSessionTurn() error: %v", err)
	}

	sess, err := m.store.GetSessionByKey(ctx, key)
	if err != nil {
		t.Fatalf("GetSessionByKey() error: %v", err)
	}
	if sess.MsgCount != 2 {
		t.Fatalf("MsgCount = %d, want 2", sess.MsgCount)
	}
	if sess.TokensAll != 50 {
		t.Fatalf("TokensAll = %d, want 50", sess.TokensAll)
	}
	if sess.LastModel != "claude-opus" {
		t.Fatalf("LastModel = %q, want the most recent model", sess.LastModel)
	}
}

func TestKnowledgeWriteSearchDelete(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	k := &models.KnowledgeEntry{Topic: "greetings", Content: "say hello warmly", Tags: "bash,social", Source: models.KnowledgeSourceUser}
	if err := m.WriteKnowledge(ctx, k); err != nil {
		t.Fatalf("WriteKnowledge() error: %v", err)
	}

	found, err := m.SearchKnowledge(ctx, "hello", 10)
	if err != nil || len(found) != 1 {
		t.Fatalf("SearchKnowledge() = %+v, %v", found, err)
	}

	if err := m.DeleteKnowledgeEntry(ctx, k.ID); err != nil {
		t.Fatalf("DeleteKnowledgeEntry() error: %v", err)
	}
	all, err := m.ListKnowledge(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("ListKnowledge() after delete = %+v, %v", all, err)
	}
}

func TestLoadSeedKnowledgeSkipsExistingTopics(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "bash.md"), []byte("tags: bash, shell\nUse bash for shell tasks."), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	if err := m.LoadSeedKnowledge(ctx, dir); err != nil {
		t.Fatalf("LoadSeedKnowledge() error: %v", err)
	}

	entries, err := m.ListKnowledge(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListKnowledge() = %+v, %v", entries, err)
	}
	if entries[0].Tags != "bash,shell" || entries[0].Content != "Use bash for shell tasks." {
		t.Fatalf("seed entry = %+v", entries[0])
	}

	// Overwrite the file; reload should NOT touch the already-seeded topic.
	if err := os.WriteFile(filepath.Join(dir, "bash.md"), []byte("tags: bash\nchanged"), 0o644); err != nil {
		t.Fatalf("rewrite seed file: %v", err)
	}
	if err := m.LoadSeedKnowledge(ctx, dir); err != nil {
		t.Fatalf("LoadSeedKnowledge() error: %v", err)
	}
	entries, err = m.ListKnowledge(ctx)
	if err != nil || len(entries) != 1 || entries[0].Content != "Use bash for shell tasks." {
		t.Fatalf("expected seed reload to skip existing topic, got %+v, %v", entries, err)
	}
}

func TestGetTopToolsAndHotTopics(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := m.LogToolCall(ctx, "bash", "s1"); err != nil {
			t.Fatalf("LogToolCall() error: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := m.LogToolCall(ctx, "read_file", "s1"); err != nil {
			t.Fatalf("LogToolCall() error: %v", err)
		}
	}

	top, err := m.GetTopTools(ctx, 30, 10)
	if err != nil {
		t.Fatalf("GetTopTools() error: %v", err)
	}
	if len(top) != 2 || top[0].ToolName != "bash" || top[0].Count != 5 {
		t.Fatalf("GetTopTools() = %+v, want bash first with count 5", top)
	}

	if err := m.WriteKnowledge(ctx, &models.KnowledgeEntry{Topic: "shell-safety", Content: "...", Tags: "bash,execute_command", Source: models.KnowledgeSourceSeed}); err != nil {
		t.Fatalf("WriteKnowledge() error: %v", err)
	}
	if err := m.WriteKnowledge(ctx, &models.KnowledgeEntry{Topic: "weather", Content: "...", Tags: "unrelated_tag", Source: models.KnowledgeSourceSeed}); err != nil {
		t.Fatalf("WriteKnowledge() error: %v", err)
	}

	hot, err := m.GetHotTopics(ctx, 30, 10)
	if err != nil {
		t.Fatalf("GetHotTopics() error: %v", err)
	}
	if len(hot) != 1 || hot[0] != "shell-safety" {
		t.Fatalf("GetHotTopics() = %v, want only shell-safety to score", hot)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
