package outbox

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bookline/bookline/libs/kafkax"
	otelx "github.com/bookline/bookline/libs/otel"
	"github.com/segmentio/kafka-go"
)

// KafkaSink writes each record to the topic named by its event type, keyed by aggregate id
// so events of one booking stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers string) (*KafkaSink, error) {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	return &KafkaSink{writer: kafkax.NewWriter(list)}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, kafkaMessage(ctx, r))
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func kafkaMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.TraceContext{Traceparent: r.Traceparent, Tracestate: r.Tracestate}.Into(ctx)
	meta := kafkax.EventMeta{
		EventID:    r.EventID,
		EventType:  r.EventType,
		BusinessID: businessIDOf(r.Payload),
		BookingID:  r.AggregateID,
	}
	return kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
	}
}

// businessIDOf reads business_id from a booking event payload.
func businessIDOf(payload []byte) string {
	var body struct {
		BusinessID string `json:"business_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.BusinessID
}
