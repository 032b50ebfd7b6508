// Package sweeper releases held bookings whose hold window elapsed without a payment method.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Ledger interface {
	// ExpiredHolds lists held bookings without a payment method created before cutoff.
	ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
	// ReleaseHold is a conditional update; false means another writer got there first.
	ReleaseHold(ctx context.Context, b model.Booking, cutoff, at time.Time, evt outbox.Event) (bool, error)
}

type Observer interface {
	HoldsReleased(n int)
	ReleaseRaceLost()
	SweepFailed()
}

type Config struct {
	HoldWindow time.Duration
	Interval   time.Duration
	BatchSize  int
}

type Sweeper struct {
	ledger    Ledger
	logger    *slog.Logger
	window    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
	observer  Observer
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Sweeper) { s.observer = o }
}

func New(ledger Ledger, logger *slog.Logger, cfg Config, opts ...Option) *Sweeper {
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = 5 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &Sweeper{
		ledger:    ledger,
		logger:    logger,
		window:    cfg.HoldWindow,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReleaseExpiredHolds(ctx, s.now()); err != nil {
				s.logger.Error("hold sweep failed", "err", err)
			}
		}
	}
}

// ReleaseExpiredHolds expires every hold with now > holdCreatedAt + window and no payment
// method, returning how many this call released. Rows another sweeper released first are
// skipped without error.
func (s *Sweeper) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	ctx, span := otel.Tracer("sweeper").Start(ctx, "sweeper.release_expired_holds")
	defer span.End()

	released, err := s.sweep(ctx, now.UTC())
	span.SetAttributes(attribute.Int("released", released))
	if s.observer != nil {
		if released > 0 {
			s.observer.HoldsReleased(released)
		}
		if err != nil {
			s.observer.SweepFailed()
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return released, err
	}
	if released > 0 {
		s.logger.Info("expired holds released", "count", released)
	}
	return released, nil
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.window)
	released := 0
	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		holds, err := s.ledger.ExpiredHolds(ctx, cutoff, s.batchSize)
		if err != nil {
			return released, err
		}

		progress := 0
		for _, b := range holds {
			expired := b
			expired.Status = model.StatusExpired
			expired.ReleasedAt = &now
			evt, err := outbox.BookingEvent(outbox.EventHoldReleased, expired, map[string]any{
				"released_at":     now.Format(time.RFC3339),
				"hold_created_at": b.HoldCreatedAt.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return released, err
			}
			ok, err := s.ledger.ReleaseHold(ctx, b, cutoff, now, evt)
			if err != nil {
				return released, err
			}
			if !ok {
				s.logger.Debug("hold already handled", "booking_id", b.ID)
				if s.observer != nil {
					s.observer.ReleaseRaceLost()
				}
				continue
			}
			progress++
		}
		released += progress

		// A short page means the backlog is drained; a page of lost races would repeat forever.
		if len(holds) < s.batchSize || progress == 0 {
			return released, nil
		}
	}
}
