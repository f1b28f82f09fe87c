package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

// handleInboundWebhook authenticates an inbound call by HMAC-SHA256 over the
// raw body against the subscription's secret (header X-Webhook-Signature,
// constant-time compare), then fires every enabled webhook.received rule
// whose trigger path matches, subject to the subscription's optional filter
// map requiring every (k, v) to match the decoded body.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read request body", err)
		return
	}

	var sub *automation.WebhookSubscription
	if s.webhooks != nil {
		sub, _ = s.webhooks.GetByPath(r.Context(), path)
	}

	secret := s.hmacSecretDefault
	if sub != nil && sub.Secret != "" {
		secret = sub.Secret
	}
	if secret == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no signing secret configured for this webhook", nil)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !validSignature(secret, raw, signature) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature", nil)
		return
	}

	var payload map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "body is not valid JSON", err)
			return
		}
	}

	if sub != nil && !matchesFilter(sub, payload) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "filter did not match"})
		return
	}

	fired := 0
	if s.rules != nil && s.exec != nil {
		rules, err := s.rules.ListRules(r.Context(), true)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to list automations", err)
			return
		}
		event := automation.TriggerEvent{
			Type:           automation.TriggerWebhookReceived,
			WebhookPayload: payload,
			Timestamp:      time.Now().UTC(),
		}
		for _, rule := range rules {
			if rule.Trigger.Kind != automation.TriggerWebhookReceived {
				continue
			}
			if rule.Trigger.WebhookPath != "" && rule.Trigger.WebhookPath != path {
				continue
			}
			if _, err := s.exec.Fire(r.Context(), rule, event); err != nil {
				logger.Error("webhook fire failed", "ruleId", rule.ID, "error", err)
				continue
			}
			fired++
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "accepted", "automationsFired": fired})
}

func validSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func matchesFilter(sub *automation.WebhookSubscription, payload map[string]any) bool {
	filterRaw, ok := sub.Metadata["filter"]
	if !ok {
		return true
	}
	filter, ok := filterRaw.(map[string]any)
	if !ok {
		return true
	}
	for k, want := range filter {
		got, exists := payload[k]
		if !exists || got != want {
			return false
		}
	}
	return true
}
