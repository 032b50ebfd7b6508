package sqlite

import (
	"context"
	"database/sql"
	"time"

	otelx "github.com/bookline/bookline/libs/otel"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

func insertEvent(ctx context.Context, tx *sql.Tx, evt outbox.Event, at time.Time) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate, millis(at))
	return err
}

// PublishBatch hands the oldest unpublished events to publish and marks them published
// when it succeeds. The write lock taken by the transaction keeps two publishers apart.
func (s *Store) PublishBatch(ctx context.Context, limit int, publish func(context.Context, []outbox.Record) error) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		var records []outbox.Record
		for rows.Next() {
			var r outbox.Record
			var created int64
			if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.Traceparent, &r.Tracestate, &created); err != nil {
				rows.Close()
				return err
			}
			r.CreatedAt = fromMillis(created)
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

		args := []any{millis(s.now())}
		for _, r := range records {
			args = append(args, r.ID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox_events SET published_at = ? WHERE id IN (`+placeholders(len(records))+`)
		`, args...); err != nil {
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

// UnpublishedCount reports the outbox backlog.
func (s *Store) UnpublishedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM outbox_events WHERE published_at IS NULL`).Scan(&n)
	return n, err
}

// RecordEvent stores an inbound event id and reports false when it was already seen.
func (s *Store) RecordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_events (event_id, event_type, received_at) VALUES (?, ?, ?)
	`, eventID, eventType, millis(s.now()))
	if err == nil {
		return true, nil
	}
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintUnique) {
		return false, nil
	}
	return false, err
}

// ForgetEvent removes an inbox entry so a failed delivery can be retried.
func (s *Store) ForgetEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM inbox_events WHERE event_id = ?`, eventID)
	return err
}
