package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck reports ready when any broker in the list accepts a connection and, through
// it, every named topic has partition metadata.
func ReadyCheck(brokers string, topics ...string) func(context.Context) error {
	list := SplitBrokers(brokers)
	return func(ctx context.Context) error {
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, addr := range list {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				continue
			}
			err = topicsPresent(conn, topics)
			_ = conn.Close()
			return err
		}
		return errors.Join(errs...)
	}
}

func topicsPresent(conn *kafka.Conn, topics []string) error {
	for _, topic := range topics {
		parts, err := conn.ReadPartitions(topic)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		if len(parts) == 0 {
			return fmt.Errorf("topic %s has no partitions", topic)
		}
	}
	return nil
}
