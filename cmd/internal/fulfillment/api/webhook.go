package payapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/payment/provider"
	"ticketpay/cmd/security/signature"
)

const (
	paystackChargeSuccess     = "charge.success"
	flutterwaveChargeComplete = "charge.completed"
)

func (h *Handler) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(w, r, h.cfg.MaxWebhookBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	var ev paystackEvent
	decodeErr := json.Unmarshal(body, &ev)

	if err := signature.VerifyPaystack(body, r.Header.Get(signature.PaystackHeader), h.cfg.PaystackSecret); err != nil {
		h.rejectWebhook(w, r, provider.NamePaystack, ev.Data.Reference, err)
		return
	}
	if decodeErr != nil {
		h.log.Warn("payments.webhook.decode.fail", "provider", provider.NamePaystack, "err", decodeErr)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: "malformed"})
		return
	}
	if ev.Event != paystackChargeSuccess {
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: ev.Event})
		return
	}

	h.verifyFromWebhook(r.Context(), w, fulfillment.VerifyRequest{
		Provider:  provider.NamePaystack,
		Reference: ev.Data.Reference,
	})
}

func (h *Handler) handleFlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(w, r, h.cfg.MaxWebhookBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	var ev flutterwaveEvent
	decodeErr := json.Unmarshal(body, &ev)

	if err := signature.VerifyFlutterwave(r.Header.Get(signature.FlutterwaveHeader), h.cfg.FlutterwaveHash); err != nil {
		h.rejectWebhook(w, r, provider.NameFlutterwave, ev.Data.TxRef, err)
		return
	}
	if decodeErr != nil {
		h.log.Warn("payments.webhook.decode.fail", "provider", provider.NameFlutterwave, "err", decodeErr)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: "malformed"})
		return
	}
	if ev.Event != flutterwaveChargeComplete {
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: ev.Event})
		return
	}

	h.verifyFromWebhook(r.Context(), w, fulfillment.VerifyRequest{
		Provider:      provider.NameFlutterwave,
		Reference:     ev.Data.TxRef,
		TransactionID: ev.Data.ID.String(),
	})
}

func (h *Handler) rejectWebhook(w http.ResponseWriter, r *http.Request, providerName, claimedRef string, err error) {
	if errors.Is(err, signature.ErrSecretMissing) {
		h.log.Error("payments.webhook.secret_missing", "provider", providerName)
		writeError(w, http.StatusServiceUnavailable, "webhook_not_configured", "webhook secret is not configured")
		return
	}
	h.auditBadSignature(r.Context(), clientIP(r, h.cfg.TrustProxy), r.UserAgent(), providerName, claimedRef, err.Error())
	writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid webhook signature")
}

// verifyFromWebhook never trusts the webhook payload: it re-verifies the reference with the gateway.
// The gateway always gets 200 once the signature is valid; failures are logged for replay.
func (h *Handler) verifyFromWebhook(ctx context.Context, w http.ResponseWriter, req fulfillment.VerifyRequest) {
	if strings.TrimSpace(req.Reference) == "" {
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: "missing_reference"})
		return
	}

	out, err := h.svc.Verify(ctx, req)
	if err != nil {
		h.log.Error("payments.webhook.verify.fail", "provider", req.Provider, "reference", req.Reference, "err", err)
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Received: true, Verified: out.Verified})
}
