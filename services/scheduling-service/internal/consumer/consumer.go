package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookline/bookline/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox deduplicates inbound events by id.
type Inbox interface {
	RecordEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBase = time.Second
	maxRetryDelay    = 30 * time.Second
)

type Consumer struct {
	reader    reader
	logger    *slog.Logger
	inbox     Inbox
	handler   Handler
	retryBase time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:    r,
		logger:    logger,
		inbox:     inbox,
		handler:   handler,
		retryBase: defaultRetryBase,
	}
}

// Run fetches messages and commits each offset only once the message has been handled or
// deliberately dropped. A failing message is retried with backoff and is left uncommitted
// if the context ends first, so the group redelivers it after a restart.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !c.processWithRetry(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// processWithRetry reports false when ctx ended before msg was processed.
func (c *Consumer) processWithRetry(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryBase
	if delay <= 0 {
		delay = defaultRetryBase
	}
	for attempt := 1; ; attempt++ {
		err := c.process(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Warn("event processing failed, retrying", "err", err, "attempt", attempt, "topic", msg.Topic, "offset", msg.Offset, "backoff", delay.String())
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

// process records the event in the inbox before handling it. A failed handler removes the
// inbox entry so the next attempt is processed again. A nil return means the offset may be
// committed: the event was handled, was a duplicate or carried no id.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	ctxSpan, span := kafkax.StartConsumeSpan(ctx, msg, meta)
	defer span.End()

	if meta.EventID == "" {
		c.logger.Warn("event without id dropped", "topic", msg.Topic, "offset", msg.Offset)
		return nil
	}

	ok, err := c.inbox.RecordEvent(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return err
	}
	if !ok {
		c.logger.Info("duplicate event ignored", meta.LogAttrs()...)
		return nil
	}

	if err := c.handler(ctxSpan, msg); err != nil {
		c.logger.Error("handler error", append([]any{"err", err}, meta.LogAttrs()...)...)
		span.RecordError(err)
		if ferr := c.inbox.ForgetEvent(ctxSpan, meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}
