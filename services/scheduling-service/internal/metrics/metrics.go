// Package metrics exposes Prometheus instruments for slot generation, reservations, the hold
// sweeper and the outbox. Metrics satisfies the observer interfaces of those packages.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// SlotRequests counts generateSlots calls by result (ok, empty, error).
	SlotRequests *prometheus.CounterVec

	// SlotsReturned is the distribution of list sizes returned to callers.
	SlotsReturned prometheus.Histogram

	// Reservations counts reserve attempts by outcome.
	Reservations *prometheus.CounterVec

	// StatusChanges counts status setter transitions by target status.
	StatusChanges *prometheus.CounterVec

	HoldReleases   prometheus.Counter
	SweepRacesLost prometheus.Counter
	SweepFailures  prometheus.Counter

	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter
	OutboxBacklog   prometheus.Gauge
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer in main and a fresh
// registry in tests.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SlotRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_requests_total",
			Help:      "Slot generation requests by result",
		}, []string{"result"}),

		SlotsReturned: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slots_returned",
			Help:      "Number of slots returned per request",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),

		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome",
		}, []string{"outcome"}),

		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_status_changes_total",
			Help:      "Booking status transitions by target status",
		}, []string{"status"}),

		HoldReleases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_released_total",
			Help:      "Expired holds released by the sweeper",
		}),

		SweepRacesLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_races_lost_total",
			Help:      "Holds another writer changed before this sweeper could release them",
		}),

		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweeps aborted by a storage error",
		}),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events delivered to the broker",
		}),

		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox batches that failed to publish",
		}),

		OutboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_backlog",
			Help:      "Unpublished outbox events",
		}),
	}
}

func (m *Metrics) SlotsGenerated(_ string, count int, err error) {
	switch {
	case err != nil:
		m.SlotRequests.WithLabelValues("error").Inc()
		return
	case count == 0:
		m.SlotRequests.WithLabelValues("empty").Inc()
	default:
		m.SlotRequests.WithLabelValues("ok").Inc()
	}
	m.SlotsReturned.Observe(float64(count))
}

func (m *Metrics) ReservationAttempted(outcome string) {
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StatusChanged(to model.Status) {
	m.StatusChanges.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) HoldsReleased(n int) {
	m.HoldReleases.Add(float64(n))
}

func (m *Metrics) ReleaseRaceLost() { m.SweepRacesLost.Inc() }
func (m *Metrics) SweepFailed()     { m.SweepFailures.Inc() }

// OutboxResult matches outbox.PublisherConfig.OnResult.
func (m *Metrics) OutboxResult(published int, err error) {
	if err != nil {
		m.OutboxFailures.Inc()
		return
	}
	m.OutboxPublished.Add(float64(published))
}

// BacklogFunc reports the number of unpublished outbox rows.
type BacklogFunc func(ctx context.Context) (int, error)

// WatchBacklog samples the outbox backlog every interval until ctx ends.
func (m *Metrics) WatchBacklog(ctx context.Context, interval time.Duration, backlog BacklogFunc, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backlog(ctx)
			if err != nil {
				logger.Warn("outbox backlog sample failed", "err", err)
				continue
			}
			m.OutboxBacklog.Set(float64(n))
		}
	}
}
