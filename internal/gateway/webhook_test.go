package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/config"
)

func TestWebhookHandlerUnknownSourceReturnsNotFound(t *testing.T) {
	h := &WebhookHandler{Sources: map[string]config.WebhookSource{}, Log: zerolog.Nop()}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", bytes.NewBufferString("{}"))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestWebhookHandlerNoneModeAccepts(t *testing.T) {
	rt, sender := newTestRuntime(t)
	h := &WebhookHandler{
		Sources: map[string]config.WebhookSource{"github": {Name: "github", AuthMode: authModeNone}},
		Runtime: rt,
		Log:     zerolog.Nop(),
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewBufferString(`{"hello":"world"}`))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ok"] != true {
		t.Fatalf("resp = %+v, want ok=true", resp)
	}
	if resp["receipt_id"] == "" || resp["receipt_id"] == nil {
		t.Fatalf("resp = %+v, want a non-empty receipt_id", resp)
	}
	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1 (the webhook forwarded to the agent)", sender.calls)
	}
}

func TestWebhookHandlerBearerTokenRejectsMissingAuth(t *testing.T) {
	h := &WebhookHandler{
		Sources: map[string]config.WebhookSource{"slack": {Name: "slack", AuthMode: authModeBearer, Secret: "s3cret"}},
		Log:     zerolog.Nop(),
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewBufferString("{}"))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
}

func TestWebhookHandlerBearerTokenAcceptsMatchingAuth(t *testing.T) {
	rt, _ := newTestRuntime(t)
	h := &WebhookHandler{
		Sources: map[string]config.WebhookSource{"slack": {Name: "slack", AuthMode: authModeBearer, Secret: "s3cret"}},
		Runtime: rt,
		Log:     zerolog.Nop(),
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewBufferString("{}"))
	r.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestWebhookHandlerHMACRejectsBadSignature(t *testing.T) {
	h := &WebhookHandler{
		Sources: map[string]config.WebhookSource{"gh": {Name: "gh", AuthMode: authModeHMACSHA256, Secret: "topsecret"}},
		Log:     zerolog.Nop(),
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/gh", bytes.NewBufferString(`{"a":1}`))
	r.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
}

func TestWebhookHandlerHMACAcceptsValidSignature(t *testing.T) {
	rt, _ := newTestRuntime(t)
	secret := "topsecret"
	body := []byte(`{"a":1}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	h := &WebhookHandler{
		Sources: map[string]config.WebhookSource{"gh": {Name: "gh", AuthMode: authModeHMACSHA256, Secret: secret}},
		Runtime: rt,
		Log:     zerolog.Nop(),
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/gh", bytes.NewBuffer(body))
	r.Header.Set("X-Hub-Signature-256", sig)
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
