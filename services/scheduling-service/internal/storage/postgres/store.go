// Package postgres is the production ledger. Double-booking is prevented by an exclusion
// constraint over each staff member's active booking ranges, backed by a partial unique
// index on (staff_id, start_at).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/bookline/bookline/libs/db"
	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"

	idempotencyIndex = "bookings_idempotency_uidx"
)

type Store struct {
	pool *db.Pool
	now  func() time.Time
}

func New(pool *db.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// translateInsertError maps constraint violations on bookings to domain errors.
func translateInsertError(err error) error {
	pgErr, ok := pgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case codeExclusionViolation:
		return model.ErrSlotConflict
	case codeUniqueViolation:
		if pgErr.ConstraintName == idempotencyIndex {
			return model.ErrDuplicateRequest
		}
		return model.ErrSlotConflict
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
