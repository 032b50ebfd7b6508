package reservation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/availability"
	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/bookline/bookline/services/scheduling-service/internal/reservation"
	"github.com/bookline/bookline/services/scheduling-service/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2026-03-02, 07:00 in UTC-5.
var (
	est    = time.FixedZone("UTC-5", -5*3600)
	now    = time.Date(2026, 3, 2, 7, 0, 0, 0, est)
	nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, est)
)

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	statuses map[model.Status]int
}

func (o *countingObserver) ReservationAttempted(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) StatusChanged(to model.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[to]++
}

func setup(t *testing.T, opts ...reservation.Option) (*reservation.Arbiter, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertBusiness(ctx, "Salon", model.SchedulingConfig{BusinessID: "biz", Timezone: "", MinLeadMinutes: 120, MaxAdvanceDays: 60}))
	require.NoError(t, store.UpsertStaff(ctx, model.Staff{ID: "A", BusinessID: "biz", Name: "A", Active: true}))
	require.NoError(t, store.UpsertStaff(ctx, model.Staff{ID: "B", BusinessID: "biz", Name: "B", Active: true}))
	require.NoError(t, store.UpsertService(ctx, model.Service{ID: "X", BusinessID: "biz", Name: "Cut", DurationMinutes: 30, Active: true}))
	require.NoError(t, store.AssignService(ctx, "biz", "A", "X"))

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]reservation.Option{reservation.WithClock(func() time.Time { return now })}, opts...)
	return reservation.NewArbiter(store, store, logger, opts...), store
}

func reserveReq(start time.Time) reservation.ReserveRequest {
	return reservation.ReserveRequest{
		BusinessID: "biz",
		StaffID:    "A",
		ServiceID:  "X",
		Start:      start,
		Customer:   model.Customer{Name: "Pat", Email: "pat@example.com"},
	}
}

func TestReserveCreatesHold(t *testing.T) {
	arb, store := setup(t)
	ctx := context.Background()

	b, err := arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)
	assert.Equal(t, model.StatusHeld, b.Status)
	assert.True(t, b.Start.Equal(nineAM))
	assert.True(t, b.End.Equal(nineAM.Add(30*time.Minute)))
	assert.True(t, b.HoldCreatedAt.Equal(now))

	got, err := store.GetBooking(ctx, "biz", b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pat", got.Customer.Name)

	pending, err := store.UnpublishedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSimultaneousReservesOneWinner(t *testing.T) {
	obs := &countingObserver{outcomes: map[string]int{}, statuses: map[model.Status]int{}}
	arb, _ := setup(t, reservation.WithObserver(obs))
	ctx := context.Background()

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []model.Booking
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := arb.Reserve(ctx, reserveReq(nineAM))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, b)
				return
			}
			if errors.Is(err, model.ErrSlotConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, obs.outcomes[reservation.OutcomeReserved])
	assert.Equal(t, n-1, obs.outcomes[reservation.OutcomeConflict])
}

func TestReserveRejections(t *testing.T) {
	arb, _ := setup(t)
	ctx := context.Background()

	_, err := arb.Reserve(ctx, reservation.ReserveRequest{BusinessID: "biz", StaffID: "A"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	req := reserveReq(nineAM)
	req.ServiceID = "missing"
	_, err = arb.Reserve(ctx, req)
	assert.ErrorIs(t, err, model.ErrNotFound)

	req = reserveReq(nineAM)
	req.StaffID = "B"
	_, err = arb.Reserve(ctx, req)
	assert.ErrorIs(t, err, model.ErrStaffNotEligible)

	req = reserveReq(nineAM)
	req.BusinessID = "someone-else"
	_, err = arb.Reserve(ctx, req)
	assert.Error(t, err, "tenants cannot reserve with another business's service")
}

func TestReserveOverlappingStartConflicts(t *testing.T) {
	arb, _ := setup(t)
	ctx := context.Background()

	_, err := arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)
	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(15*time.Minute)))
	assert.ErrorIs(t, err, model.ErrSlotConflict)
	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(30*time.Minute)))
	assert.NoError(t, err)
}

func TestReserveIdempotencyKey(t *testing.T) {
	arb, store := setup(t)
	ctx := context.Background()

	req := reserveReq(nineAM)
	req.IdempotencyKey = "k1"
	first, err := arb.Reserve(ctx, req)
	require.NoError(t, err)

	again, err := arb.Reserve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other := reserveReq(nineAM.Add(time.Hour))
	other.IdempotencyKey = "k1"
	_, err = arb.Reserve(ctx, other)
	assert.ErrorIs(t, err, model.ErrDuplicateRequest)

	all, err := store.ListBookings(ctx, "biz", model.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReserveRevalidation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var gen *availability.Generator
	arb, store := setup(t, reservation.WithRevalidation(slotCheckerFunc(func(ctx context.Context, biz, svc, staff string, start time.Time) (bool, error) {
		return gen.Offers(ctx, biz, svc, staff, start)
	})))
	gen = availability.NewGenerator(store, logger, availability.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := store.AddRule(ctx, model.AvailabilityRule{BusinessID: "biz", StaffID: "A", Weekday: time.Monday, StartMinute: 14 * 60, EndMinute: 17 * 60})
	require.NoError(t, err)
	// Business timezone is UTC; 14:00 UTC is 09:00 in UTC-5.
	_, err = arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)

	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(-time.Hour)))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable, "outside the rule window")

	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(5*time.Minute)))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable, "not on the slot grid")
}

func TestRevalidatedReserveReportsTakenSlotAsConflict(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var gen *availability.Generator
	arb, store := setup(t, reservation.WithRevalidation(slotCheckerFunc(func(ctx context.Context, biz, svc, staff string, start time.Time) (bool, error) {
		return gen.Offers(ctx, biz, svc, staff, start)
	})))
	gen = availability.NewGenerator(store, logger, availability.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.UpsertBusiness(ctx, "Salon", model.SchedulingConfig{BusinessID: "biz", Timezone: "America/New_York", MinLeadMinutes: 120, MaxAdvanceDays: 60}))
	_, err := store.AddRule(ctx, model.AvailabilityRule{BusinessID: "biz", StaffID: "A", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60})
	require.NoError(t, err)

	_, err = arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)
	_, err = arb.Reserve(ctx, reserveReq(nineAM))
	assert.ErrorIs(t, err, model.ErrSlotConflict)
	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(15*time.Minute)))
	assert.ErrorIs(t, err, model.ErrSlotConflict, "overlapping start")

	_, err = arb.Reserve(ctx, reserveReq(nineAM.Add(-time.Hour)))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable, "before the rule window")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	tenThirty := nineAM.Add(90 * time.Minute)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := arb.Reserve(ctx, reserveReq(tenThirty))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, model.ErrSlotConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, conflicts)
}

func TestReplayOfReleasedHoldIsExpired(t *testing.T) {
	arb, store := setup(t)
	ctx := context.Background()

	req := reserveReq(nineAM)
	req.IdempotencyKey = "k-expired"
	b, err := arb.Reserve(ctx, req)
	require.NoError(t, err)

	evt, err := outbox.BookingEvent(outbox.EventHoldReleased, b, nil)
	require.NoError(t, err)
	released, err := store.ReleaseHold(ctx, b, now.Add(time.Hour), now.Add(time.Hour), evt)
	require.NoError(t, err)
	require.True(t, released)

	_, err = arb.Reserve(ctx, req)
	assert.ErrorIs(t, err, model.ErrHoldExpired)
}

type slotCheckerFunc func(ctx context.Context, biz, svc, staff string, start time.Time) (bool, error)

func (f slotCheckerFunc) Offers(ctx context.Context, biz, svc, staff string, start time.Time) (bool, error) {
	return f(ctx, biz, svc, staff, start)
}

func TestSetStatusLifecycle(t *testing.T) {
	obs := &countingObserver{outcomes: map[string]int{}, statuses: map[model.Status]int{}}
	arb, _ := setup(t, reservation.WithObserver(obs))
	ctx := context.Background()

	b, err := arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)

	_, err = arb.SetStatus(ctx, "biz", b.ID, model.StatusPending)
	assert.ErrorIs(t, err, model.ErrPaymentMethodRequired)

	_, err = arb.SetStatus(ctx, "biz", b.ID, model.StatusCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = arb.SetStatus(ctx, "biz", b.ID, model.StatusExpired)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	b, err = arb.AttachPaymentMethod(ctx, "biz", b.ID, "pm_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, b.Status)

	for _, to := range []model.Status{model.StatusScheduled, model.StatusCompleted, model.StatusRefunded} {
		b, err = arb.SetStatus(ctx, "biz", b.ID, to)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, b.Status)
	}

	same, err := arb.SetStatus(ctx, "biz", b.ID, model.StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, same.Status)

	_, err = arb.SetStatus(ctx, "other", b.ID, model.StatusCancelled)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Equal(t, 1, obs.statuses[model.StatusPending])
	assert.Equal(t, 1, obs.statuses[model.StatusRefunded])
}

func TestCancelledBookingFreesSlot(t *testing.T) {
	arb, _ := setup(t)
	ctx := context.Background()

	b, err := arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)
	_, err = arb.SetStatus(ctx, "biz", b.ID, model.StatusCancelled)
	require.NoError(t, err)

	again, err := arb.Reserve(ctx, reserveReq(nineAM))
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, again.ID)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusHeld, model.StatusPending, true},
		{model.StatusHeld, model.StatusScheduled, false},
		{model.StatusPending, model.StatusScheduled, true},
		{model.StatusScheduled, model.StatusNoShow, true},
		{model.StatusNoShow, model.StatusRefunded, true},
		{model.StatusRefunded, model.StatusCancelled, false},
		{model.StatusExpired, model.StatusPending, false},
		{model.StatusCancelled, model.StatusHeld, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reservation.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
