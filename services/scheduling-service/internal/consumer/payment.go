package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// PaymentMethodTopic carries payment-method-attached notifications from the payment collaborator.
const PaymentMethodTopic = "payments.payment_method.attached.v1"

type PaymentAttacher interface {
	AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string) (model.Booking, error)
}

type paymentMethodAttached struct {
	BookingID        string `json:"booking_id"`
	BusinessID       string `json:"business_id"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

// PaymentMethodHandler sets the payment-method marker on the referenced booking. Malformed
// payloads and bookings that can no longer take a payment method are logged and dropped;
// storage errors are returned so the event is retried.
func PaymentMethodHandler(attacher PaymentAttacher, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload paymentMethodAttached
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.BookingID == "" || payload.BusinessID == "" {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}

		_, err := attacher.AttachPaymentMethod(ctx, payload.BusinessID, payload.BookingID, payload.PaymentMethodRef)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, model.ErrHoldExpired), errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNotFound):
			logger.Warn("payment method not applied", "booking_id", payload.BookingID, "business_id", payload.BusinessID, "err", err)
			return nil
		default:
			return err
		}
	}
}
