package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/queue"
)

const EventsTopic = "webhook_events"

// Handler terminates the Cloud API webhook: the GET verification handshake
// and the signed POST callbacks. Callbacks are acked immediately and handed
// to the in-memory queue for processing so the channel never retries on our
// processing latency.
type Handler struct {
	AppSecret   string
	VerifyToken string
	Queue       queue.Queue
	Log         zerolog.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/webhook", h.Verify)
	r.Post("/webhook", h.Receive)
}

// Verify answers the subscription handshake by echoing the challenge.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.VerifyToken {
		h.Log.Warn().Str("mode", mode).Msg("webhook verification rejected")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive validates the signature over the raw body, acks, and enqueues the
// embedded change values.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body failed", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.Log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature mismatch, payload rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, ev := range splitEvents(change) {
				if err := h.Queue.Publish(EventsTopic, ev); err != nil {
					h.Log.Error().Err(err).Msg("enqueueing webhook event failed")
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// verifySignature checks the HMAC-SHA256 of the raw body. Running without a
// secret is a documented dev-only mode; config.Validate refuses it in
// production.
func (h *Handler) verifySignature(body []byte, header string) bool {
	if h.AppSecret == "" {
		h.Log.Warn().Msg("no app secret configured, accepting unsigned webhook (dev mode)")
		return true
	}

	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.AppSecret))
	mac.Write(body)
	return hmac.Equal(raw, mac.Sum(nil))
}

// Event is what travels over the in-memory queue: one change with its field
// discriminator.
type Event struct {
	Field string
	Value ChangeValue
}

// splitEvents separates delivery statuses from inbound messages so they
// retry independently: an orphan status waiting for its Send row must not
// re-run message handling on each attempt.
func splitEvents(change Change) []Event {
	v := change.Value
	if len(v.Statuses) == 0 || len(v.Messages) == 0 {
		return []Event{{Field: change.Field, Value: v}}
	}
	statuses, messages := v, v
	statuses.Messages = nil
	messages.Statuses = nil
	return []Event{
		{Field: change.Field, Value: statuses},
		{Field: change.Field, Value: messages},
	}
}
