package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, business_id, staff_id, service_id, customer_name, customer_email, customer_phone,
	start_at, end_at, status, payment_method_attached, payment_method_ref, COALESCE(idempotency_key, ''),
	hold_created_at, released_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b                                  model.Booking
		start, end, held, created, updated int64
		released                           sql.NullInt64
		status                             string
	)
	err := row.Scan(&b.ID, &b.BusinessID, &b.StaffID, &b.ServiceID,
		&b.Customer.Name, &b.Customer.Email, &b.Customer.Phone,
		&start, &end, &status, &b.PaymentMethodAttached, &b.PaymentMethodRef, &b.IdempotencyKey,
		&held, &released, &created, &updated)
	if err != nil {
		return model.Booking{}, err
	}
	b.Start, b.End = fromMillis(start), fromMillis(end)
	b.Status = model.Status(status)
	b.HoldCreatedAt = fromMillis(held)
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
	if released.Valid {
		t := fromMillis(released.Int64)
		b.ReleasedAt = &t
	}
	return b, nil
}

func (s *Store) ActiveBookings(ctx context.Context, businessID string, staffIDs []string, from, to time.Time) ([]model.Booking, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}
	args := []any{businessID, millis(to), millis(from)}
	for _, id := range staffIDs {
		args = append(args, id)
	}
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE business_id = ? AND start_at < ? AND end_at > ?
			AND status IN ('held','pending','scheduled')
			AND staff_id IN (`+placeholders(len(staffIDs))+`)
		ORDER BY start_at
	`, args...)
}

func (s *Store) ListBookings(ctx context.Context, businessID string, f model.BookingFilter) ([]model.Booking, error) {
	var (
		where = []string{"business_id = ?"}
		args  = []any{businessID}
	)
	if f.StaffID != "" {
		where = append(where, "staff_id = ?")
		args = append(args, f.StaffID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, millis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, millis(f.To))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY start_at
		LIMIT ?
	`, args...)
}

func (s *Store) GetBooking(ctx context.Context, businessID, bookingID string) (model.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND business_id = ?
	`, bookingID, businessID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, model.ErrNotFound
	}
	return b, err
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, businessID, key string) (model.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE business_id = ? AND idempotency_key = ?
	`, businessID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, model.ErrNotFound
	}
	return b, err
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertHeld inserts b and evt atomically. A clash with another active booking of the same
// staff member surfaces as model.ErrSlotConflict.
func (s *Store) InsertHeld(ctx context.Context, b model.Booking, evt outbox.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (id, business_id, staff_id, service_id, customer_name, customer_email, customer_phone,
				start_at, end_at, status, payment_method_attached, payment_method_ref, idempotency_key,
				hold_created_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.BusinessID, b.StaffID, b.ServiceID, b.Customer.Name, b.Customer.Email, b.Customer.Phone,
			millis(b.Start), millis(b.End), string(b.Status), b.PaymentMethodAttached, b.PaymentMethodRef,
			nullString(b.IdempotencyKey), millis(b.HoldCreatedAt), millis(b.CreatedAt), millis(b.CreatedAt))
		if err != nil {
			return translateInsertError(err)
		}
		return insertEvent(ctx, tx, evt, s.now())
	})
}

func translateInsertError(err error) error {
	if isConstraint(err, sqlite3.ErrConstraintTrigger) {
		return model.ErrSlotConflict
	}
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		if strings.Contains(err.Error(), "idempotency_key") {
			return model.ErrDuplicateRequest
		}
		return model.ErrSlotConflict
	}
	return err
}

// CompareAndSetStatus moves the booking from one status to another only if it is still in
// from. The event is built from the updated row and written in the same transaction.
func (s *Store) CompareAndSetStatus(ctx context.Context, businessID, bookingID string, from, to model.Status, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error) {
	var out model.Booking
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bookings SET status = ?, updated_at = ?
			WHERE id = ? AND business_id = ? AND status = ?
		`, string(to), millis(at), bookingID, businessID, string(from))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.missOrChanged(ctx, tx, businessID, bookingID)
		}
		out, err = s.emit(ctx, tx, businessID, bookingID, build)
		return err
	})
	return out, err
}

// AttachPaymentMethod sets the payment-method marker on an active booking and promotes a
// held booking to pending in the same statement, so it cannot interleave with the sweeper.
func (s *Store) AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error) {
	var out model.Booking
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bookings
			SET payment_method_attached = 1,
				payment_method_ref = ?,
				status = CASE WHEN status = 'held' THEN 'pending' ELSE status END,
				updated_at = ?
			WHERE id = ? AND business_id = ? AND status IN ('held','pending','scheduled')
		`, ref, millis(at), bookingID, businessID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, err := scanBooking(tx.QueryRowContext(ctx, `
				SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND business_id = ?
			`, bookingID, businessID))
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			if err != nil {
				return err
			}
			if cur.Status == model.StatusExpired {
				return model.ErrHoldExpired
			}
			return model.ErrInvalidTransition
		}
		out, err = s.emit(ctx, tx, businessID, bookingID, build)
		return err
	})
	return out, err
}

// ExpiredHolds lists held bookings without a payment method created before cutoff.
func (s *Store) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'held' AND payment_method_attached = 0 AND hold_created_at < ?
		ORDER BY hold_created_at
		LIMIT ?
	`, millis(cutoff), limit)
}

// ReleaseHold expires b if it is still an unpaid hold older than cutoff. It reports false
// when another writer changed the row first.
func (s *Store) ReleaseHold(ctx context.Context, b model.Booking, cutoff, at time.Time, evt outbox.Event) (bool, error) {
	released := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bookings
			SET status = 'expired', released_at = ?, updated_at = ?
			WHERE id = ? AND business_id = ? AND status = 'held'
				AND payment_method_attached = 0 AND hold_created_at < ?
		`, millis(at), millis(at), b.ID, b.BusinessID, millis(cutoff))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		released = true
		return insertEvent(ctx, tx, evt, at)
	})
	return released, err
}

func (s *Store) missOrChanged(ctx context.Context, tx *sql.Tx, businessID, bookingID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ? AND business_id = ?`, bookingID, businessID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return model.ErrStatusChanged
}

func (s *Store) emit(ctx context.Context, tx *sql.Tx, businessID, bookingID string, build func(model.Booking) (outbox.Event, error)) (model.Booking, error) {
	b, err := scanBooking(tx.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND business_id = ?
	`, bookingID, businessID))
	if err != nil {
		return model.Booking{}, err
	}
	if build == nil {
		return b, nil
	}
	evt, err := build(b)
	if err != nil {
		return model.Booking{}, err
	}
	return b, insertEvent(ctx, tx, evt, s.now())
}
