package postgres

import (
	"context"

	otelx "github.com/bookline/bookline/libs/otel"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func insertEvent(ctx context.Context, tx pgx.Tx, evt outbox.Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate)
	return err
}

// PublishBatch locks up to limit unpublished events, hands them to publish and marks them
// published on success. SKIP LOCKED lets several replicas drain the outbox concurrently.
func (s *Store) PublishBatch(ctx context.Context, limit int, publish func(context.Context, []outbox.Record) error) (int, error) {
	var n int
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var records []outbox.Record
		for rows.Next() {
			var r outbox.Record
			if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.Traceparent, &r.Tracestate, &r.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			records = append(records, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		if err := publish(ctx, records); err != nil {
			return err
		}

		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)
		`, ids); err != nil {
			return err
		}
		n = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) UnpublishedCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM outbox_events WHERE published_at IS NULL`).Scan(&n)
	return n, err
}

// RecordEvent stores an inbound event id; false means it was already processed.
func (s *Store) RecordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type) VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if pgErr, ok := pgError(err); ok && pgErr.Code == codeUniqueViolation {
		return false, nil
	}
	return false, err
}

func (s *Store) ForgetEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}
