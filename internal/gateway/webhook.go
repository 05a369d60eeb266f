package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/runtime"
)

const maxWebhookBodyBytes = 256 * 1024

// Webhook auth modes, per spec.md §6 and config.WebhookSource.AuthMode.
const (
	authModeHMACSHA256 = "hmac_sha256"
	authModeBearer     = "bearer_token"
	authModeNone       = "none"
)

// WebhookHandler serves POST /webhooks/:source, forwarding an authenticated
// payload into the turn pipeline as a chat message. Grounded on the
// original implementation's webhook_handler (per-source auth_mode dispatch,
// GitHub-style X-Hub-Signature-256 verification) and the teacher's
// webhook_hooks.go (bearer-token extraction, body-size limiting,
// constant-time comparison).
type WebhookHandler struct {
	Sources map[string]config.WebhookSource
	Runtime *runtime.Runtime
	Log     zerolog.Logger
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	source = strings.Trim(source, "/")
	if source == "" {
		respondJSONError(w, http.StatusNotFound, "unknown webhook source")
		return
	}

	cfg, ok := h.Sources[source]
	if !ok {
		h.Log.Warn().Str("source", source).Msg("unknown webhook source")
		respondJSONError(w, http.StatusNotFound, "unknown webhook source")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := authenticateWebhook(r, body, cfg); err != nil {
		h.Log.Warn().Str("source", source).Err(err).Msg("webhook authentication failed")
		respondJSONError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			respondJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	receiptID := uuid.NewString()
	message := fmt.Sprintf("[webhook:%s] %s", source, string(body))

	if h.Runtime != nil {
		if _, err := h.Runtime.Process(r.Context(), runtime.Turn{
			Channel:    "webhook",
			Identifier: source,
			Content:    message,
		}); err != nil {
			h.Log.Warn().Str("source", source).Err(err).Msg("failed to forward webhook to agent")
			respondJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	h.Log.Info().Str("source", source).Str("receipt_id", receiptID).Msg("webhook accepted")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "receipt_id": receiptID})
}

func authenticateWebhook(r *http.Request, body []byte, cfg config.WebhookSource) error {
	switch cfg.AuthMode {
	case authModeHMACSHA256:
		return verifyHMACSHA256(r, body, cfg.Secret)
	case authModeBearer:
		return verifyBearerToken(r, cfg.Secret)
	case authModeNone, "":
		return nil
	default:
		return fmt.Errorf("unknown auth_mode %q", cfg.AuthMode)
	}
}

// verifyHMACSHA256 checks GitHub-style X-Hub-Signature-256: sha256=<hex>.
func verifyHMACSHA256(r *http.Request, body []byte, secret string) error {
	if secret == "" {
		return fmt.Errorf("no HMAC secret configured for this source")
	}
	sigHeader := r.Header.Get("X-Hub-Signature-256")
	if sigHeader == "" {
		return fmt.Errorf("missing X-Hub-Signature-256 header")
	}
	sigHex, ok := strings.CutPrefix(sigHeader, "sha256=")
	if !ok {
		return fmt.Errorf("malformed X-Hub-Signature-256 header")
	}
	expected, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("X-Hub-Signature-256 is not valid hex")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("HMAC signature mismatch")
	}
	return nil
}

func verifyBearerToken(r *http.Request, secret string) error {
	if secret == "" {
		return fmt.Errorf("no bearer token configured for this source")
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return fmt.Errorf("Authorization header must use Bearer scheme")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return fmt.Errorf("bearer token mismatch")
	}
	return nil
}

func respondJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
