package outbox

import (
	"encoding/json"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox table in the same transaction
// as the ledger change. The topic (or queue) name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventHoldCreated           = "booking.hold.created.v1"
	EventHoldReleased          = "booking.hold.released.v1"
	EventStatusChanged         = "booking.status.changed.v1"
	EventPaymentMethodAttached = "booking.payment_method.attached.v1"
)

// Record is a stored outbox row awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// BookingEvent builds an event carrying the booking snapshot plus extra fields.
func BookingEvent(eventType string, b model.Booking, extra map[string]any) (Event, error) {
	body := map[string]any{
		"booking_id":              b.ID,
		"business_id":             b.BusinessID,
		"staff_id":                b.StaffID,
		"service_id":              b.ServiceID,
		"customer_name":           b.Customer.Name,
		"customer_email":          b.Customer.Email,
		"customer_phone":          b.Customer.Phone,
		"start_time":              b.Start.UTC().Format(time.RFC3339),
		"end_time":                b.End.UTC().Format(time.RFC3339),
		"status":                  string(b.Status),
		"payment_method_attached": b.PaymentMethodAttached,
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
