package tools

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/skynetai/skynet/internal/identity"
	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/models"
)

const linkCodeTTL = 10 * time.Minute

// LinkIdentityTool implements link_identity: generate/verify/list/unlink.
// A 6-digit code is stored as a short-TTL context memory (via
// internal/memory.Manager.LearnWithExpiry) on the requesting user; verify
// searches across all users' facts (the same wildcard pass-through used
// for admin knowledge search) to find which user minted the code, merges
// the verifying identity into that user via internal/identity.Manager, and
// deletes the code entry.
type LinkIdentityTool struct {
	mem      *memory.Manager
	identity *identity.Manager

	// currentUser returns the user id and channel/identifier the calling
	// turn is running as — the tool has no ambient session state of its
	// own, so the runtime supplies it per call.
	currentUser func(ctx context.Context) (userID, channel, identifier string)
}

// NewLinkIdentityTool builds a LinkIdentityTool. currentUser must return
// the resolved identity of whoever is invoking the tool this turn.
func NewLinkIdentityTool(mem *memory.Manager, idm *identity.Manager, currentUser func(ctx context.Context) (userID, channel, identifier string)) *LinkIdentityTool {
	return &LinkIdentityTool{mem: mem, identity: idm, currentUser: currentUser}
}

func (t *LinkIdentityTool) Name() string { return "link_identity" }
func (t *LinkIdentityTool) Description() string {
	return "Generate or verify a code linking the current channel identity to another, or list/unlink identities."
}

func (t *LinkIdentityTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"action":             map[string]any{"type": "string", "enum": []string{"generate", "verify", "list", "unlink"}},
		"code":               map[string]any{"type": "string", "description": "6-digit code from generate, required for verify."},
		"channel":            map[string]any{"type": "string", "description": "Channel to unlink, required for unlink."},
		"identifier":         map[string]any{"type": "string", "description": "Identifier to unlink, required for unlink."},
		"source_channel":     map[string]any{"type": "string", "description": "Unused; channel identity is resolved from the calling session."},
		"source_identifier":  map[string]any{"type": "string", "description": "Unused; identifier is resolved from the calling session."},
	}, "action")
}

func (t *LinkIdentityTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Action     string `json:"action"`
		Code       string `json:"code"`
		Channel    string `json:"channel"`
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}

	userID, _, _ := t.currentUser(ctx)
	switch in.Action {
	case "generate":
		return t.generate(ctx, userID)
	case "verify":
		return t.verify(ctx, in.Code, userID)
	case "list":
		return t.list(ctx, userID)
	case "unlink":
		return t.unlink(ctx, in.Channel, in.Identifier)
	default:
		return toolError(fmt.Sprintf("unknown action %q", in.Action))
	}
}

func (t *LinkIdentityTool) generate(ctx context.Context, userID string) (string, bool) {
	code, err := randomDigits(6)
	if err != nil {
		return toolError(fmt.Sprintf("generate code: %v", err))
	}
	key := linkCodeKey(code)
	if _, err := t.mem.LearnWithExpiry(ctx, userID, models.MemoryCategoryContext, key, userID, 1.0, models.MemorySourceAdminSet, time.Now().Add(linkCodeTTL)); err != nil {
		return toolError(fmt.Sprintf("store code: %v", err))
	}
	return encodeResult(map[string]any{"code": code, "expires_in_seconds": int(linkCodeTTL.Seconds())})
}

func (t *LinkIdentityTool) verify(ctx context.Context, code, verifyingUserID string) (string, bool) {
	if strings.TrimSpace(code) == "" {
		return toolError("code is required")
	}
	matches, err := t.mem.Search(ctx, "*", code, 5)
	if err != nil {
		return toolError(fmt.Sprintf("search for code: %v", err))
	}
	key := linkCodeKey(code)
	var targetUserID string
	for _, m := range matches {
		if m.Key == key {
			targetUserID = m.Value
			break
		}
	}
	if targetUserID == "" {
		return toolError("code not found or expired")
	}

	identities, err := t.identity.ListIdentities(ctx, verifyingUserID)
	if err != nil {
		return toolError(fmt.Sprintf("list calling identities: %v", err))
	}
	if len(identities) == 0 {
		return toolError("calling user has no linked channel identity to merge")
	}
	for _, ident := range identities {
		if err := t.identity.SelfLink(ctx, ident.Channel, ident.Identifier, targetUserID); err != nil {
			return toolError(fmt.Sprintf("merge identity: %v", err))
		}
	}

	if err := t.mem.Forget(ctx, targetUserID, models.MemoryCategoryContext, key); err != nil {
		return toolError(fmt.Sprintf("clean up code: %v", err))
	}
	return encodeResult(map[string]any{"merged_into": targetUserID})
}

func (t *LinkIdentityTool) list(ctx context.Context, userID string) (string, bool) {
	identities, err := t.identity.ListIdentities(ctx, userID)
	if err != nil {
		return toolError(fmt.Sprintf("list identities: %v", err))
	}
	return encodeResult(map[string]any{"identities": identities})
}

func (t *LinkIdentityTool) unlink(ctx context.Context, channel, identifier string) (string, bool) {
	if channel == "" || identifier == "" {
		return toolError("channel and identifier are required for unlink")
	}
	if err := t.identity.Unlink(ctx, channel, identifier); err != nil {
		return toolError(fmt.Sprintf("unlink identity: %v", err))
	}
	return encodeResult(map[string]any{"unlinked": map[string]string{"channel": channel, "identifier": identifier}})
}

func linkCodeKey(code string) string { return "link_code:" + code }

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d", d.Int64())
	}
	return b.String(), nil
}
