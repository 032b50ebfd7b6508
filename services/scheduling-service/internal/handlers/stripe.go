package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type PaymentAttacher interface {
	AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string) (model.Booking, error)
}

type EventInbox interface {
	RecordEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

type StripeHandler struct {
	attacher  PaymentAttacher
	inbox     EventInbox
	logger    *slog.Logger
	secret    string
	tolerance time.Duration
}

func NewStripeHandler(attacher PaymentAttacher, inbox EventInbox, logger *slog.Logger, secret string, tolerance time.Duration) *StripeHandler {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeHandler{
		attacher:  attacher,
		inbox:     inbox,
		logger:    logger,
		secret:    secret,
		tolerance: tolerance,
	}
}

// Webhook handles Stripe webhooks (no JWT auth; signature verification is the auth).
// A succeeded SetupIntent whose metadata names a booking marks that hold as having a
// payment method on file.
func (h *StripeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.secret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	if evtType != "setup_intent.succeeded" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	fresh, err := h.inbox.RecordEvent(r.Context(), "stripe:"+evt.ID, evtType)
	if err != nil {
		h.logger.Error("record provider event failed", "provider_event_id", evt.ID, "err", err)
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}
	if !fresh {
		h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	status, err := h.applySetupIntent(r.Context(), evt.Data.Raw)
	if err != nil {
		if ferr := h.inbox.ForgetEvent(r.Context(), "stripe:"+evt.ID); ferr != nil {
			h.logger.Error("forget provider event failed", "provider_event_id", evt.ID, "err", ferr)
		}
		http.Error(w, "failed to apply payment method", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// applySetupIntent returns an error only when Stripe should redeliver the event.
func (h *StripeHandler) applySetupIntent(ctx context.Context, raw json.RawMessage) (string, error) {
	var intent stripe.SetupIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		h.logger.Error("stripe: invalid setup intent payload", "err", err)
		return "ignored", nil
	}
	bookingID := strings.TrimSpace(intent.Metadata["booking_id"])
	businessID := strings.TrimSpace(intent.Metadata["business_id"])
	if bookingID == "" || businessID == "" {
		h.logger.Warn("stripe: missing metadata on setup intent (booking_id/business_id)", "setup_intent_id", intent.ID)
		return "ignored", nil
	}
	ref := intent.ID
	if intent.PaymentMethod != nil && intent.PaymentMethod.ID != "" {
		ref = intent.PaymentMethod.ID
	}

	_, err := h.attacher.AttachPaymentMethod(ctx, businessID, bookingID, ref)
	switch {
	case err == nil:
		return "ok", nil
	case errors.Is(err, model.ErrHoldExpired), errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNotFound):
		h.logger.Warn("payment method not applied", "booking_id", bookingID, "business_id", businessID, "err", err)
		return "not_applied", nil
	default:
		h.logger.Error("attach payment method failed", "booking_id", bookingID, "business_id", businessID, "err", err)
		return "", err
	}
}
