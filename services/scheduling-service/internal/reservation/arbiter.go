// Package reservation turns a chosen slot into a held booking and owns the booking status
// setters. Mutual exclusion comes from the ledger's uniqueness constraint, never from a
// read-then-write check in this package.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Ledger is the write side of the booking store.
type Ledger interface {
	// InsertHeld returns model.ErrSlotConflict when an active booking of the same staff
	// member overlaps b, and model.ErrDuplicateRequest when the idempotency key was used.
	InsertHeld(ctx context.Context, b model.Booking, evt outbox.Event) error
	GetBooking(ctx context.Context, businessID, bookingID string) (model.Booking, error)
	FindByIdempotencyKey(ctx context.Context, businessID, key string) (model.Booking, error)
	CompareAndSetStatus(ctx context.Context, businessID, bookingID string, from, to model.Status, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error)
	AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error)
}

type Catalog interface {
	Service(ctx context.Context, businessID, serviceID string) (model.Service, error)
	StaffOffersService(ctx context.Context, businessID, staffID, serviceID string) (bool, error)
}

// SlotChecker re-runs slot generation for a single start.
type SlotChecker interface {
	Offers(ctx context.Context, businessID, serviceID, staffID string, start time.Time) (bool, error)
}

// Observer receives reservation outcomes; metrics implement it.
type Observer interface {
	ReservationAttempted(outcome string)
	StatusChanged(to model.Status)
}

const (
	OutcomeReserved    = "reserved"
	OutcomeReplayed    = "replayed"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

// casAttempts bounds retries when a status setter races another writer.
const casAttempts = 3

type ReserveRequest struct {
	BusinessID     string
	StaffID        string
	ServiceID      string
	Start          time.Time
	Customer       model.Customer
	IdempotencyKey string
}

func (r ReserveRequest) validate() error {
	if strings.TrimSpace(r.BusinessID) == "" || strings.TrimSpace(r.StaffID) == "" || strings.TrimSpace(r.ServiceID) == "" {
		return fmt.Errorf("%w: business_id, staff_id and service_id are required", model.ErrInvalidInput)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: start time is required", model.ErrInvalidInput)
	}
	return nil
}

type Arbiter struct {
	ledger   Ledger
	catalog  Catalog
	slots    SlotChecker
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

type Option func(*Arbiter)

func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

func WithObserver(o Observer) Option {
	return func(a *Arbiter) { a.observer = o }
}

// WithRevalidation makes Reserve reject starts the slot generator no longer offers
// (rules, blackouts, lead time). The uniqueness guarantee does not depend on it.
func WithRevalidation(slots SlotChecker) Option {
	return func(a *Arbiter) { a.slots = slots }
}

func NewArbiter(ledger Ledger, catalog Catalog, logger *slog.Logger, opts ...Option) *Arbiter {
	a := &Arbiter{
		ledger:  ledger,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reserve creates a held booking for the exact (staff, start) pair. Losing a race to another
// writer returns model.ErrSlotConflict; callers should re-fetch slots.
func (a *Arbiter) Reserve(ctx context.Context, req ReserveRequest) (model.Booking, error) {
	ctx, span := otel.Tracer("reservation").Start(ctx, "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", req.BusinessID),
		attribute.String("staff_id", req.StaffID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("start", req.Start.UTC().Format(time.RFC3339)),
	)

	b, outcome, err := a.reserve(ctx, req)
	span.SetAttributes(attribute.String("outcome", outcome))
	if a.observer != nil {
		a.observer.ReservationAttempted(outcome)
	}
	switch outcome {
	case OutcomeReserved, OutcomeReplayed:
		a.logger.Info("booking held", "booking_id", b.ID, "business_id", b.BusinessID, "staff_id", b.StaffID, "start", b.Start, "replayed", outcome == OutcomeReplayed)
	case OutcomeConflict:
		a.logger.Info("slot taken", "business_id", req.BusinessID, "staff_id", req.StaffID, "start", req.Start)
	case OutcomeError:
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		a.logger.Error("reserve failed", "business_id", req.BusinessID, "staff_id", req.StaffID, "err", err)
	}
	return b, err
}

func (a *Arbiter) reserve(ctx context.Context, req ReserveRequest) (model.Booking, string, error) {
	if err := req.validate(); err != nil {
		return model.Booking{}, OutcomeRejected, err
	}
	start := req.Start.UTC()

	if req.IdempotencyKey != "" {
		prior, err := a.ledger.FindByIdempotencyKey(ctx, req.BusinessID, req.IdempotencyKey)
		if err == nil {
			return replay(prior, req)
		}
		if !errors.Is(err, model.ErrNotFound) {
			return model.Booking{}, OutcomeError, err
		}
	}

	svc, err := a.catalog.Service(ctx, req.BusinessID, req.ServiceID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Booking{}, OutcomeRejected, fmt.Errorf("service %q: %w", req.ServiceID, err)
	}
	if err != nil {
		return model.Booking{}, OutcomeError, fmt.Errorf("load service: %w", err)
	}
	if svc.Duration() <= 0 || !svc.Active {
		return model.Booking{}, OutcomeUnavailable, model.ErrSlotUnavailable
	}

	ok, err := a.catalog.StaffOffersService(ctx, req.BusinessID, req.StaffID, req.ServiceID)
	if err != nil {
		return model.Booking{}, OutcomeError, fmt.Errorf("check eligibility: %w", err)
	}
	if !ok {
		return model.Booking{}, OutcomeRejected, model.ErrStaffNotEligible
	}

	if a.slots != nil {
		offered, err := a.slots.Offers(ctx, req.BusinessID, req.ServiceID, req.StaffID, start)
		if err != nil {
			return model.Booking{}, OutcomeError, fmt.Errorf("revalidate slot: %w", err)
		}
		if !offered {
			return model.Booking{}, OutcomeUnavailable, model.ErrSlotUnavailable
		}
	}

	now := a.now().UTC()
	b := model.Booking{
		ID:             uuid.NewString(),
		BusinessID:     req.BusinessID,
		StaffID:        req.StaffID,
		ServiceID:      req.ServiceID,
		Customer:       req.Customer,
		Start:          start,
		End:            start.Add(svc.Duration()),
		Status:         model.StatusHeld,
		IdempotencyKey: req.IdempotencyKey,
		HoldCreatedAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	evt, err := outbox.BookingEvent(outbox.EventHoldCreated, b, nil)
	if err != nil {
		return model.Booking{}, OutcomeError, err
	}

	err = a.ledger.InsertHeld(ctx, b, evt)
	switch {
	case err == nil:
		return b, OutcomeReserved, nil
	case errors.Is(err, model.ErrSlotConflict):
		return model.Booking{}, OutcomeConflict, model.ErrSlotConflict
	case errors.Is(err, model.ErrDuplicateRequest):
		// Same key raced in from a concurrent retry.
		prior, ferr := a.ledger.FindByIdempotencyKey(ctx, req.BusinessID, req.IdempotencyKey)
		if ferr != nil {
			return model.Booking{}, OutcomeError, ferr
		}
		return replay(prior, req)
	default:
		return model.Booking{}, OutcomeError, fmt.Errorf("insert hold: %w", err)
	}
}

// replay returns the booking created under the same idempotency key, provided the request
// asks for the same thing and the hold has not been released since.
func replay(prior model.Booking, req ReserveRequest) (model.Booking, string, error) {
	if prior.StaffID != req.StaffID || prior.ServiceID != req.ServiceID || !prior.Start.Equal(req.Start) {
		return model.Booking{}, OutcomeRejected, fmt.Errorf("%w: idempotency key reused for a different booking", model.ErrDuplicateRequest)
	}
	if prior.Status == model.StatusExpired {
		return model.Booking{}, OutcomeRejected, model.ErrHoldExpired
	}
	return prior, OutcomeReplayed, nil
}

// SetStatus moves a booking along the lifecycle. Setting the current status again is a no-op.
func (a *Arbiter) SetStatus(ctx context.Context, businessID, bookingID string, to model.Status) (model.Booking, error) {
	ctx, span := otel.Tracer("reservation").Start(ctx, "reservation.set_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", businessID),
		attribute.String("booking_id", bookingID),
		attribute.String("status", string(to)),
	)

	b, err := a.setStatus(ctx, businessID, bookingID, to)
	if err != nil {
		span.RecordError(err)
		if !isClientError(err) {
			span.SetStatus(codes.Error, "set status failed")
			a.logger.Error("set status failed", "booking_id", bookingID, "business_id", businessID, "status", to, "err", err)
		}
	}
	return b, err
}

func (a *Arbiter) setStatus(ctx context.Context, businessID, bookingID string, to model.Status) (model.Booking, error) {
	if !to.Valid() || to == model.StatusHeld || to == model.StatusExpired {
		return model.Booking{}, fmt.Errorf("%w: cannot set status %q", model.ErrInvalidInput, to)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := a.ledger.GetBooking(ctx, businessID, bookingID)
		if err != nil {
			return model.Booking{}, err
		}
		if cur.Status == to {
			return cur, nil
		}
		if cur.Status == model.StatusExpired {
			return model.Booking{}, model.ErrHoldExpired
		}
		if !CanTransition(cur.Status, to) {
			return model.Booking{}, fmt.Errorf("%w: %s to %s", model.ErrInvalidTransition, cur.Status, to)
		}
		if cur.Status == model.StatusHeld && to == model.StatusPending && !cur.PaymentMethodAttached {
			return model.Booking{}, model.ErrPaymentMethodRequired
		}

		from := cur.Status
		out, err := a.ledger.CompareAndSetStatus(ctx, businessID, bookingID, from, to, a.now().UTC(), func(b model.Booking) (outbox.Event, error) {
			return outbox.BookingEvent(outbox.EventStatusChanged, b, map[string]any{"previous_status": string(from)})
		})
		if errors.Is(err, model.ErrStatusChanged) {
			a.logger.Debug("status changed concurrently; retrying", "booking_id", bookingID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.Booking{}, err
		}
		if a.observer != nil {
			a.observer.StatusChanged(to)
		}
		a.logger.Info("booking status changed", "booking_id", bookingID, "business_id", businessID, "from", from, "to", to)
		return out, nil
	}
	return model.Booking{}, model.ErrStatusChanged
}

// AttachPaymentMethod records the payment-method marker and promotes a held booking to
// pending. A hold the sweeper already released returns model.ErrHoldExpired.
func (a *Arbiter) AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string) (model.Booking, error) {
	ctx, span := otel.Tracer("reservation").Start(ctx, "reservation.attach_payment_method")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", businessID), attribute.String("booking_id", bookingID))

	if strings.TrimSpace(businessID) == "" || strings.TrimSpace(bookingID) == "" {
		return model.Booking{}, fmt.Errorf("%w: business_id and booking_id are required", model.ErrInvalidInput)
	}
	b, err := a.ledger.AttachPaymentMethod(ctx, businessID, bookingID, ref, a.now().UTC(), func(b model.Booking) (outbox.Event, error) {
		return outbox.BookingEvent(outbox.EventPaymentMethodAttached, b, map[string]any{"payment_method_ref": ref})
	})
	if err != nil {
		span.RecordError(err)
		if !isClientError(err) {
			span.SetStatus(codes.Error, "attach payment method failed")
		}
		return model.Booking{}, err
	}
	if a.observer != nil && b.Status == model.StatusPending {
		a.observer.StatusChanged(model.StatusPending)
	}
	a.logger.Info("payment method attached", "booking_id", bookingID, "business_id", businessID, "status", b.Status)
	return b, nil
}

func isClientError(err error) bool {
	for _, target := range []error{
		model.ErrNotFound, model.ErrInvalidInput, model.ErrInvalidTransition,
		model.ErrPaymentMethodRequired, model.ErrHoldExpired, model.ErrStatusChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
