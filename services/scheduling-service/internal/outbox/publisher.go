package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Source hands out unpublished records. PublishBatch claims up to limit rows, calls publish,
// and marks them published only when publish succeeds.
type Source interface {
	PublishBatch(ctx context.Context, limit int, publish func(context.Context, []Record) error) (int, error)
}

// Sink delivers records to a broker.
type Sink interface {
	Publish(ctx context.Context, records []Record) error
	Close() error
}

type Publisher struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
	onResult  func(published int, err error)
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	// OnResult, when set, observes every batch.
	OnResult func(published int, err error)
}

func NewPublisher(source Source, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		onResult:  cfg.OnResult,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.sink == nil {
		p.logger.Warn("outbox publisher disabled (no event sink configured)")
		return
	}
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("outbox sink close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishOnce drains one batch.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.source.PublishBatch(ctx, p.batchSize, p.sink.Publish)
	if p.onResult != nil {
		p.onResult(n, err)
	}
	if err == nil && n > 0 {
		p.logger.Debug("outbox batch published", "count", n)
	}
	return n, err
}
