package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dietbot/entitlement/pkg/subscription"
)

var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"paddle": "Paddle-Signature",
}

type webhookResponse struct {
	Outcome subscription.Outcome `json:"outcome"`
	Reason  string               `json:"reason,omitempty"`
}

// webhook acknowledges duplicate, stale and ignored events with 200 so the
// provider stops redelivering them. An unknown subscription answers 409 so
// the provider retries after the checkout event arrives.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	header, ok := signatureHeaders[provider]
	if !ok {
		header = "X-Webhook-Signature"
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxWebhookBytes))
	if err != nil {
		a.writeError(w, r, HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "payload_too_large"})
		return
	}

	res, err := a.deps.Subscriptions.HandleWebhook(r.Context(), provider, payload, r.Header.Get(header))
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		a.writeError(w, r, HTTPError{Code: http.StatusConflict, Key: "subscription_not_found"})
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Outcome: res.Outcome, Reason: res.Reason})
}
