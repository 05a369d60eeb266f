package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/storage/sqlite"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := sqlite.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, zerolog.Nop())
}

func TestResolveCreatesUserOnFirstContactThenReuses(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id1, err := m.Resolve(ctx, "discord", "123")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id1 == "" {
		t.Fatalf("Resolve() returned empty user id")
	}

	id2, err := m.Resolve(ctx, "discord", "123")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("Resolve() = %q, want same user id %q on repeat contact", id2, id1)
	}
}

func TestSelfLinkMergesSecondChannelIntoSameUser(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	discordID, err := m.Resolve(ctx, "discord", "123")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	terminalID, err := m.Resolve(ctx, "terminal", "alice")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if discordID == terminalID {
		t.Fatalf("expected distinct users before linking")
	}

	if err := m.SelfLink(ctx, "terminal", "alice", discordID); err != nil {
		t.Fatalf("SelfLink() error: %v", err)
	}

	got, err := m.Resolve(ctx, "terminal", "alice")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != discordID {
		t.Fatalf("Resolve(\"terminal\",\"alice\") = %q after SelfLink, want %q", got, discordID)
	}

	identities, err := m.ListIdentities(ctx, discordID)
	if err != nil {
		t.Fatalf("ListIdentities() error: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("ListIdentities() = %d entries, want 2 (discord + terminal)", len(identities))
	}
}

func TestAdminLinkOverwritesExistingBinding(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	userA, err := m.Resolve(ctx, "discord", "1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	userB, err := m.Resolve(ctx, "discord", "2")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if err := m.AdminLink(ctx, "admin-1", "discord", "1", userB); err != nil {
		t.Fatalf("AdminLink() error: %v", err)
	}

	got, err := m.Resolve(ctx, "discord", "1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != userB {
		t.Fatalf("Resolve() after AdminLink() = %q, want %q", got, userB)
	}
	_ = userA
}

func TestUnlinkRemovesBindingAndCacheEntry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	userID, err := m.Resolve(ctx, "discord", "1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := m.Unlink(ctx, "discord", "1"); err != nil {
		t.Fatalf("Unlink() error: %v", err)
	}

	again, err := m.Resolve(ctx, "discord", "1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if again == userID {
		t.Fatalf("Resolve() after Unlink() returned the old user id, want a fresh one")
	}
}

func TestRecordUsageAccumulatesAndTripsApprovalOverBudget(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	userID, err := m.Resolve(ctx, "discord", "budget-user")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	budget := int64(100)
	u.TokenBudget = &budget
	if err := m.store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser() error: %v", err)
	}

	if err := m.RecordUsage(ctx, userID, 60); err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}
	u, err = m.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if u.RequiresApproval {
		t.Fatalf("RequiresApproval = true after 60/100 tokens, want false")
	}
	if u.Counters.TokensDay != 60 || u.Counters.TokensAll != 60 || u.Counters.Messages != 1 {
		t.Fatalf("Counters = %+v", u.Counters)
	}

	if err := m.RecordUsage(ctx, userID, 60); err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}
	u, err = m.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if !u.RequiresApproval {
		t.Fatalf("RequiresApproval = false after exceeding the daily budget (120/100), want true")
	}
	if u.Counters.TokensDay != 120 || u.Counters.TokensAll != 120 || u.Counters.Messages != 2 {
		t.Fatalf("Counters = %+v", u.Counters)
	}
}

func TestRecordUsageRollsOverOnNewDayAndClearsApproval(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	userID, err := m.Resolve(ctx, "discord", "rollover-user")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	u.Counters.ResetDate = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	u.Counters.TokensDay = 500
	u.RequiresApproval = true
	if err := m.store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser() error: %v", err)
	}

	if err := m.RecordUsage(ctx, userID, 10); err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}
	u, err = m.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if u.RequiresApproval {
		t.Fatalf("RequiresApproval should clear on a new day's rollover")
	}
	if u.Counters.TokensDay != 10 {
		t.Fatalf("TokensDay = %d, want 10 after rollover (yesterday's 500 discarded)", u.Counters.TokensDay)
	}
	if u.Counters.ResetDate != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("ResetDate = %q, want today", u.Counters.ResetDate)
	}
}
