package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, business_id, staff_id, service_id, customer_name, customer_email, customer_phone,
	start_at, end_at, status, payment_method_attached, payment_method_ref, COALESCE(idempotency_key, ''),
	hold_created_at, released_at, created_at, updated_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b        model.Booking
		status   string
		released *time.Time
	)
	err := row.Scan(&b.ID, &b.BusinessID, &b.StaffID, &b.ServiceID,
		&b.Customer.Name, &b.Customer.Email, &b.Customer.Phone,
		&b.Start, &b.End, &status, &b.PaymentMethodAttached, &b.PaymentMethodRef, &b.IdempotencyKey,
		&b.HoldCreatedAt, &released, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.Status(status)
	b.Start, b.End = b.Start.UTC(), b.End.UTC()
	b.HoldCreatedAt = b.HoldCreatedAt.UTC()
	if released != nil {
		t := released.UTC()
		b.ReleasedAt = &t
	}
	return b, nil
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *Store) ActiveBookings(ctx context.Context, businessID string, staffIDs []string, from, to time.Time) ([]model.Booking, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE business_id = $1 AND start_at < $3 AND end_at > $2
			AND status IN ('held','pending','scheduled')
			AND staff_id = ANY($4)
		ORDER BY start_at
	`, businessID, from, to, staffIDs)
}

func (s *Store) ListBookings(ctx context.Context, businessID string, f model.BookingFilter) ([]model.Booking, error) {
	var (
		where = []string{"business_id = $1"}
		args  = []any{businessID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.StaffID != "" {
		add("staff_id = ?", f.StaffID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		add("end_at > ?", f.From)
	}
	if !f.To.IsZero() {
		add("start_at < ?", f.To)
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
		LIMIT $`+strconv.Itoa(len(args)), args...)
}

func (s *Store) GetBooking(ctx context.Context, businessID, bookingID string) (model.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND business_id = $2
	`, bookingID, businessID))
	if isNoRows(err) {
		return model.Booking{}, model.ErrNotFound
	}
	return b, err
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, businessID, key string) (model.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key))
	if isNoRows(err) {
		return model.Booking{}, model.ErrNotFound
	}
	return b, err
}

// InsertHeld inserts b together with its outbox event. Losing a race to another active
// booking of the same staff member returns model.ErrSlotConflict.
func (s *Store) InsertHeld(ctx context.Context, b model.Booking, evt outbox.Event) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, business_id, staff_id, service_id, customer_name, customer_email, customer_phone,
				start_at, end_at, status, payment_method_attached, payment_method_ref, idempotency_key,
				hold_created_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		`, b.ID, b.BusinessID, b.StaffID, b.ServiceID, b.Customer.Name, b.Customer.Email, b.Customer.Phone,
			b.Start, b.End, string(b.Status), b.PaymentMethodAttached, b.PaymentMethodRef,
			nullString(b.IdempotencyKey), b.HoldCreatedAt, b.CreatedAt)
		if err != nil {
			return translateInsertError(err)
		}
		return insertEvent(ctx, tx, evt)
	})
}

func (s *Store) CompareAndSetStatus(ctx context.Context, businessID, bookingID string, from, to model.Status, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error) {
	var out model.Booking
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `
			UPDATE bookings SET status = $4, updated_at = $5
			WHERE id = $1 AND business_id = $2 AND status = $3
			RETURNING `+bookingColumns, bookingID, businessID, string(from), string(to), at))
		if isNoRows(err) {
			return missOrChanged(ctx, tx, businessID, bookingID)
		}
		if err != nil {
			return err
		}
		out = b
		return emit(ctx, tx, b, build)
	})
	return out, err
}

// AttachPaymentMethod marks the booking as carrying a payment method and promotes a hold
// to pending. The status guard in the UPDATE orders it against the sweeper.
func (s *Store) AttachPaymentMethod(ctx context.Context, businessID, bookingID, ref string, at time.Time, build func(model.Booking) (outbox.Event, error)) (model.Booking, error) {
	var out model.Booking
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `
			UPDATE bookings
			SET payment_method_attached = TRUE,
				payment_method_ref = $3,
				status = CASE WHEN status = 'held' THEN 'pending' ELSE status END,
				updated_at = $4
			WHERE id = $1 AND business_id = $2 AND status IN ('held','pending','scheduled')
			RETURNING `+bookingColumns, bookingID, businessID, ref, at))
		if isNoRows(err) {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 AND business_id = $2`, bookingID, businessID).Scan(&status)
			if isNoRows(err) {
				return model.ErrNotFound
			}
			if err != nil {
				return err
			}
			if model.Status(status) == model.StatusExpired {
				return model.ErrHoldExpired
			}
			return model.ErrInvalidTransition
		}
		if err != nil {
			return err
		}
		out = b
		return emit(ctx, tx, b, build)
	})
	return out, err
}

// ExpiredHolds lists unpaid holds created before cutoff, oldest first.
func (s *Store) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'held' AND NOT payment_method_attached AND hold_created_at < $1
		ORDER BY hold_created_at
		LIMIT $2
	`, cutoff, limit)
}

// ReleaseHold expires b if it is still an unpaid hold older than cutoff.
func (s *Store) ReleaseHold(ctx context.Context, b model.Booking, cutoff, at time.Time, evt outbox.Event) (bool, error) {
	released := false
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = 'expired', released_at = $3, updated_at = $3
			WHERE id = $1 AND business_id = $2 AND status = 'held'
				AND NOT payment_method_attached AND hold_created_at < $4
		`, b.ID, b.BusinessID, at, cutoff)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		released = true
		return insertEvent(ctx, tx, evt)
	})
	return released, err
}

func missOrChanged(ctx context.Context, tx pgx.Tx, businessID, bookingID string) error {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1 AND business_id = $2)
	`, bookingID, businessID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrNotFound
	}
	return model.ErrStatusChanged
}

func emit(ctx context.Context, tx pgx.Tx, b model.Booking, build func(model.Booking) (outbox.Event, error)) error {
	if build == nil {
		return nil
	}
	evt, err := build(b)
	if err != nil {
		return err
	}
	return insertEvent(ctx, tx, evt)
}
