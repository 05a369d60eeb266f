package runtime

import "testing"

func TestFormatSessionKeyShape(t *testing.T) {
	got := FormatSessionKey("u1", "default", "default")
	want := "user:u1:agent:default:default"
	if got != want {
		t.Fatalf("FormatSessionKey() = %q, want %q", got, want)
	}
}

func TestSessionKeyRoundTripsSimpleNames(t *testing.T) {
	key := FormatSessionKey("u1", "agent-a", "slot1")
	userID, agentID, slot, err := ParseSessionKey(key)
	if err != nil {
		t.Fatalf("ParseSessionKey() error: %v", err)
	}
	if userID != "u1" || agentID != "agent-a" || slot != "slot1" {
		t.Fatalf("ParseSessionKey() = (%q, %q, %q)", userID, agentID, slot)
	}
}

func TestSessionKeyRoundTripsNamesContainingColons(t *testing.T) {
	cases := []struct{ userID, agentID, slot string }{
		{"discord:123", "agent:x", "slot:1"},
		{"a\\b", "c\\:d", "e"},
		{"", "", ""},
	}
	for _, c := range cases {
		key := FormatSessionKey(c.userID, c.agentID, c.slot)
		gotUser, gotAgent, gotSlot, err := ParseSessionKey(key)
		if err != nil {
			t.Fatalf("ParseSessionKey(%q) error: %v", key, err)
		}
		if gotUser != c.userID || gotAgent != c.agentID || gotSlot != c.slot {
			t.Fatalf("round trip for %+v = (%q, %q, %q), key=%q", c, gotUser, gotAgent, gotSlot, key)
		}
	}
}

func TestParseSessionKeyRejectsMalformedInput(t *testing.T) {
	if _, _, _, err := ParseSessionKey("not-a-session-key"); err == nil {
		t.Fatalf("ParseSessionKey() expected error for malformed key")
	}
	if _, _, _, err := ParseSessionKey("user:u1:agent:a1"); err == nil {
		t.Fatalf("ParseSessionKey() expected error for a key missing its slot")
	}
}
