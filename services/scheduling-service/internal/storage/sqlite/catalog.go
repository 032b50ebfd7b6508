package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/google/uuid"
)

// UpsertBusiness creates the business or replaces its scheduling config.
func (s *Store) UpsertBusiness(ctx context.Context, name string, cfg model.SchedulingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, timezone, min_lead_minutes, max_advance_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			min_lead_minutes = excluded.min_lead_minutes,
			max_advance_days = excluded.max_advance_days
	`, cfg.BusinessID, name, cfg.Timezone, cfg.MinLeadMinutes, cfg.MaxAdvanceDays, millis(s.now()))
	return err
}

func (s *Store) UpsertStaff(ctx context.Context, st model.Staff) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, business_id, name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, st.ID, st.BusinessID, st.Name, st.Active)
	return err
}

func (s *Store) UpsertService(ctx context.Context, svc model.Service) error {
	if svc.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration", model.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			duration_minutes = excluded.duration_minutes,
			active = excluded.active
	`, svc.ID, svc.BusinessID, svc.Name, svc.DurationMinutes, svc.Active)
	return err
}

// AssignService records that staffID performs serviceID. Both must belong to businessID.
func (s *Store) AssignService(ctx context.Context, businessID, staffID, serviceID string) error {
	var owned int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(1) FROM staff WHERE id = ? AND business_id = ?)
			+ (SELECT COUNT(1) FROM services WHERE id = ? AND business_id = ?)
	`, staffID, businessID, serviceID, businessID).Scan(&owned)
	if err != nil {
		return err
	}
	if owned < 2 {
		return fmt.Errorf("staff %q or service %q in business %q: %w", staffID, serviceID, businessID, model.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO staff_services (business_id, staff_id, service_id)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, businessID, staffID, serviceID)
	return err
}

func (s *Store) SchedulingConfig(ctx context.Context, businessID string) (model.SchedulingConfig, error) {
	cfg := model.SchedulingConfig{BusinessID: businessID}
	err := s.db.QueryRowContext(ctx, `
		SELECT timezone, min_lead_minutes, max_advance_days
		FROM businesses
		WHERE id = ?
	`, businessID).Scan(&cfg.Timezone, &cfg.MinLeadMinutes, &cfg.MaxAdvanceDays)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SchedulingConfig{}, model.ErrUnknownBusiness
	}
	return cfg, err
}

func (s *Store) Service(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	svc := model.Service{ID: serviceID, BusinessID: businessID}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, duration_minutes, active
		FROM services
		WHERE id = ? AND business_id = ?
	`, serviceID, businessID).Scan(&svc.Name, &svc.DurationMinutes, &svc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Service{}, model.ErrNotFound
	}
	return svc, err
}

func (s *Store) EligibleStaff(ctx context.Context, businessID, serviceID string) ([]model.Staff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.name, st.active
		FROM staff st
		JOIN staff_services ss ON ss.staff_id = st.id AND ss.business_id = st.business_id
		WHERE st.business_id = ? AND ss.service_id = ?
		ORDER BY st.id
	`, businessID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		st := model.Staff{BusinessID: businessID}
		if err := rows.Scan(&st.ID, &st.Name, &st.Active); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) StaffOffersService(ctx context.Context, businessID, staffID, serviceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM staff_services ss
		JOIN staff st ON st.id = ss.staff_id AND st.business_id = ss.business_id
		WHERE ss.business_id = ? AND ss.staff_id = ? AND ss.service_id = ? AND st.active = 1
	`, businessID, staffID, serviceID).Scan(&n)
	return n > 0, err
}

func (s *Store) AddRule(ctx context.Context, r model.AvailabilityRule) (model.AvailabilityRule, error) {
	if err := r.Validate(); err != nil {
		return model.AvailabilityRule{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO availability_rules (id, business_id, staff_id, weekday, start_minute, end_minute)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.BusinessID, r.StaffID, int(r.Weekday), r.StartMinute, r.EndMinute)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	return r, nil
}

// DeleteRule soft-deletes a rule; deleted rules never produce slots.
func (s *Store) DeleteRule(ctx context.Context, businessID, ruleID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE availability_rules SET deleted_at = ?
		WHERE id = ? AND business_id = ? AND deleted_at IS NULL
	`, millis(at), ruleID, businessID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) AddBlackout(ctx context.Context, w model.BlackoutWindow) (model.BlackoutWindow, error) {
	if err := w.Validate(); err != nil {
		return model.BlackoutWindow{}, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blackout_windows (id, business_id, staff_id, start_at, end_at, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.BusinessID, nullString(w.StaffID), millis(w.Start), millis(w.End), w.Reason)
	if err != nil {
		return model.BlackoutWindow{}, err
	}
	return w, nil
}

func (s *Store) Rules(ctx context.Context, businessID string, staffIDs []string, weekday time.Weekday) ([]model.AvailabilityRule, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}
	args := []any{businessID, int(weekday)}
	for _, id := range staffIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, staff_id, weekday, start_minute, end_minute
		FROM availability_rules
		WHERE business_id = ? AND weekday = ? AND deleted_at IS NULL
			AND staff_id IN (`+placeholders(len(staffIDs))+`)
		ORDER BY staff_id, start_minute
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		r := model.AvailabilityRule{BusinessID: businessID}
		var wd int
		if err := rows.Scan(&r.ID, &r.StaffID, &wd, &r.StartMinute, &r.EndMinute); err != nil {
			return nil, err
		}
		r.Weekday = time.Weekday(wd)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Blackouts(ctx context.Context, businessID string, from, to time.Time) ([]model.BlackoutWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(staff_id, ''), start_at, end_at, reason
		FROM blackout_windows
		WHERE business_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at
	`, businessID, millis(to), millis(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlackoutWindow
	for rows.Next() {
		w := model.BlackoutWindow{BusinessID: businessID}
		var start, end int64
		if err := rows.Scan(&w.ID, &w.StaffID, &start, &end, &w.Reason); err != nil {
			return nil, err
		}
		w.Start, w.End = fromMillis(start), fromMillis(end)
		out = append(out, w)
	}
	return out, rows.Err()
}
