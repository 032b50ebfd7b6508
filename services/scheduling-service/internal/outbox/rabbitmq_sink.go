package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQSink publishes to durable queues named after the event type through the default
// exchange. The connection is opened lazily and reopened after failures.
type RabbitMQSink struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQSink(url string) (*RabbitMQSink, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url not configured")
	}
	return &RabbitMQSink{url: url, declared: map[string]bool{}}, nil
}

func (s *RabbitMQSink) Publish(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}
	for _, r := range records {
		if !s.declared[r.EventType] {
			if _, err := ch.QueueDeclare(r.EventType, true, false, false, false, nil); err != nil {
				s.reset()
				return err
			}
			s.declared[r.EventType] = true
		}
		if err := ch.PublishWithContext(ctx, "", r.EventType, false, false, amqpPublishing(r)); err != nil {
			s.reset()
			return err
		}
	}
	return nil
}

func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.ch = nil, nil
	return err
}

func (s *RabbitMQSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	if s.conn == nil || s.conn.IsClosed() {
		conn, err := amqp.Dial(s.url)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	ch, err := s.conn.Channel()
	if err != nil {
		s.reset()
		return nil, err
	}
	s.ch = ch
	s.declared = map[string]bool{}
	return ch, nil
}

func (s *RabbitMQSink) reset() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

func amqpPublishing(r Record) amqp.Publishing {
	headers := amqp.Table{
		"event_id":   r.EventID,
		"event_type": r.EventType,
	}
	if r.Traceparent != "" {
		headers["traceparent"] = r.Traceparent
	}
	if r.Tracestate != "" {
		headers["tracestate"] = r.Tracestate
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.EventID,
		Type:         r.EventType,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         r.Payload,
	}
}
