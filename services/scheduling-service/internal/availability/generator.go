package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Catalog resolves business configuration and who can perform a service.
type Catalog interface {
	// SchedulingConfig returns model.ErrUnknownBusiness when the business does not exist.
	SchedulingConfig(ctx context.Context, businessID string) (model.SchedulingConfig, error)
	// Service returns model.ErrNotFound when the service does not exist in the business.
	Service(ctx context.Context, businessID, serviceID string) (model.Service, error)
	EligibleStaff(ctx context.Context, businessID, serviceID string) ([]model.Staff, error)
}

// Calendar is the read side of the rule store.
type Calendar interface {
	// Rules returns the non-deleted rules of the given staff members for one weekday.
	Rules(ctx context.Context, businessID string, staffIDs []string, weekday time.Weekday) ([]model.AvailabilityRule, error)
	// Blackouts returns windows overlapping [from, to), both global and staff specific.
	Blackouts(ctx context.Context, businessID string, from, to time.Time) ([]model.BlackoutWindow, error)
}

// BookingReader reads the ledger.
type BookingReader interface {
	// ActiveBookings returns bookings in an active status overlapping [from, to).
	ActiveBookings(ctx context.Context, businessID string, staffIDs []string, from, to time.Time) ([]model.Booking, error)
}

type Store interface {
	Catalog
	Calendar
	BookingReader
}

// Observer receives generation outcomes; metrics implement it.
type Observer interface {
	SlotsGenerated(businessID string, count int, err error)
}

type Generator struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

type Option func(*Generator)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observer = o }
}

func NewGenerator(store Store, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateSlots lists bookable starts for serviceID on date, interpreted in the business timezone.
// Configuration gaps (unknown service, no staff, no rules) yield an empty list; unknown business
// and storage failures are errors, so callers never see a partial list.
func (g *Generator) GenerateSlots(ctx context.Context, businessID, serviceID string, date model.Date) ([]model.Slot, error) {
	ctx, span := otel.Tracer("availability").Start(ctx, "availability.generate_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", businessID),
		attribute.String("service_id", serviceID),
		attribute.String("date", date.String()),
	)

	slots, err := g.generate(ctx, businessID, serviceID, date, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate slots failed")
		g.logger.Error("slot generation failed", "business_id", businessID, "service_id", serviceID, "date", date.String(), "err", err)
	}
	if g.observer != nil {
		g.observer.SlotsGenerated(businessID, len(slots), err)
	}
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, err
}

// generate builds the candidate list. withBusy drops starts overlapping active bookings; the
// reservation path leaves that to the ledger's uniqueness constraint.
func (g *Generator) generate(ctx context.Context, businessID, serviceID string, date model.Date, withBusy bool) ([]model.Slot, error) {
	cfg, err := g.store.SchedulingConfig(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load scheduling config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	now := g.now()
	today := model.DateOf(now.In(loc))
	if date.Before(today) || date.After(today.AddDays(cfg.MaxAdvanceDays)) {
		return []model.Slot{}, nil
	}

	svc, err := g.store.Service(ctx, businessID, serviceID)
	if errors.Is(err, model.ErrNotFound) {
		return []model.Slot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active || svc.DurationMinutes <= 0 {
		return []model.Slot{}, nil
	}

	staff, err := g.store.EligibleStaff(ctx, businessID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load eligible staff: %w", err)
	}
	staffIDs := make([]string, 0, len(staff))
	names := make(map[string]string, len(staff))
	for _, s := range staff {
		if s.Active {
			staffIDs = append(staffIDs, s.ID)
			names[s.ID] = s.Name
		}
	}
	if len(staffIDs) == 0 {
		return []model.Slot{}, nil
	}

	rules, err := g.store.Rules(ctx, businessID, staffIDs, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}

	eligible := make(map[string]bool, len(staffIDs))
	for _, id := range staffIDs {
		eligible[id] = true
	}

	duration := svc.Duration()
	var (
		slots                []model.Slot
		rangeStart, rangeEnd time.Time
	)
	for _, rule := range rules {
		if !eligible[rule.StaffID] || rule.DeletedAt != nil || rule.Weekday != date.Weekday() {
			continue
		}
		start := ResolveWallClock(date, alignUp(rule.StartMinute), loc)
		end := ResolveWallClock(date, rule.EndMinute, loc)
		if !end.After(start) {
			continue
		}
		candidates := Candidates(rule.StaffID, start, end, duration, model.SlotGranularity)
		if len(candidates) == 0 {
			continue
		}
		slots = append(slots, candidates...)
		if rangeStart.IsZero() || start.Before(rangeStart) {
			rangeStart = start
		}
		if end.After(rangeEnd) {
			rangeEnd = end
		}
	}
	if len(slots) == 0 {
		return []model.Slot{}, nil
	}

	slots = NotBefore(slots, now.Add(cfg.MinLead()))
	if len(slots) == 0 {
		return slots, nil
	}

	blackouts, err := g.store.Blackouts(ctx, businessID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load blackouts: %w", err)
	}
	slots = WithoutBlackouts(slots, blackouts)

	if withBusy {
		bookings, err := g.store.ActiveBookings(ctx, businessID, staffIDs, rangeStart, rangeEnd)
		if err != nil {
			return nil, fmt.Errorf("load bookings: %w", err)
		}
		slots = WithoutBusy(slots, bookings)
	}

	for i := range slots {
		slots[i].StaffName = names[slots[i].StaffID]
	}
	SortSlots(slots)
	return slots, nil
}

// Offers reports whether rules, blackouts, lead time and horizon allow a reservation of
// staffID at start. Existing bookings are not consulted: a taken start is reported by the
// ledger as a slot conflict, not here as unavailable.
func (g *Generator) Offers(ctx context.Context, businessID, serviceID, staffID string, start time.Time) (bool, error) {
	ctx, span := otel.Tracer("availability").Start(ctx, "availability.offers")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", businessID),
		attribute.String("staff_id", staffID),
		attribute.String("start", start.UTC().Format(time.RFC3339)),
	)

	cfg, err := g.store.SchedulingConfig(ctx, businessID)
	if err != nil {
		return false, fmt.Errorf("load scheduling config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return false, err
	}
	slots, err := g.generate(ctx, businessID, serviceID, model.DateOf(start.In(loc)), false)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	for _, s := range slots {
		if s.StaffID == staffID && s.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}
