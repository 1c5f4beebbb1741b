package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/graphrun/internal/scheduler"
)

// handleWebhook receives an external HTTP POST and activates an event
// trigger. The X-Event-ID header is the idempotency key: redeliveries inside
// the dedup window are acknowledged without starting a second run.
// POST /api/hooks/{id}
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.triggerSvc == nil {
		http.Error(w, "triggers not available", http.StatusServiceUnavailable)
		return
	}

	trigger, err := s.triggerRepo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify HMAC signature if a secret is configured.
	if trigger.Secret != "" {
		signature := r.Header.Get("X-Webhook-Signature")
		if !verifyHMAC(body, trigger.Secret, signature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload map[string]any
	if len(body) > 0 {
		json.Unmarshal(body, &payload)
	}

	eventID := r.Header.Get("X-Event-ID")

	record, err := s.triggerSvc.OnEvent(r.Context(), id, payload, eventID)
	switch {
	case errors.Is(err, scheduler.ErrDuplicateEvent):
		// Redelivery: acknowledge without a new run.
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "duplicate",
			"trigger": id,
		})
	case errors.Is(err, scheduler.ErrEventNotMatched):
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ignored",
			"trigger": id,
		})
	case errors.Is(err, scheduler.ErrTriggerDisabled):
		http.Error(w, "trigger is disabled", http.StatusForbidden)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"trigger": id,
			"run_id":  record.ID,
		})
	}
}

// verifyHMAC checks the HMAC-SHA256 signature of a payload.
func verifyHMAC(payload []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
