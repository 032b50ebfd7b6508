package postgres

import (
	"context"
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO businesses (id, name, timezone, min_lead_minutes, max_advance_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			min_lead_minutes = EXCLUDED.min_lead_minutes,
			max_advance_days = EXCLUDED.max_advance_days
	`, cfg.BusinessID, name, cfg.Timezone, cfg.MinLeadMinutes, cfg.MaxAdvanceDays)
	return err
}

func (s *Store) UpsertStaff(ctx context.Context, st model.Staff) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff (id, business_id, name, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, st.ID, st.BusinessID, st.Name, st.Active)
	return err
}

func (s *Store) UpsertService(ctx context.Context, svc model.Service) error {
	if svc.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration", model.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			active = EXCLUDED.active
	`, svc.ID, svc.BusinessID, svc.Name, svc.DurationMinutes, svc.Active)
	return err
}

// AssignService records that staffID performs serviceID. Both must belong to businessID.
func (s *Store) AssignService(ctx context.Context, businessID, staffID, serviceID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO staff_services (business_id, staff_id, service_id)
		SELECT st.business_id, st.id, sv.id
		FROM staff st
		JOIN services sv ON sv.business_id = st.business_id
		WHERE st.business_id = $1 AND st.id = $2 AND sv.id = $3
		ON CONFLICT DO NOTHING
	`, businessID, staffID, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Nothing inserted: either already assigned or staff/service belong elsewhere.
	var assigned bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM staff_services WHERE business_id = $1 AND staff_id = $2 AND service_id = $3)
	`, businessID, staffID, serviceID).Scan(&assigned); err != nil {
		return err
	}
	if !assigned {
		return fmt.Errorf("staff %q or service %q in business %q: %w", staffID, serviceID, businessID, model.ErrNotFound)
	}
	return nil
}

func (s *Store) SchedulingConfig(ctx context.Context, businessID string) (model.SchedulingConfig, error) {
	cfg := model.SchedulingConfig{BusinessID: businessID}
	err := s.pool.QueryRow(ctx, `
		SELECT timezone, min_lead_minutes, max_advance_days FROM businesses WHERE id = $1
	`, businessID).Scan(&cfg.Timezone, &cfg.MinLeadMinutes, &cfg.MaxAdvanceDays)
	if isNoRows(err) {
		return model.SchedulingConfig{}, model.ErrUnknownBusiness
	}
	return cfg, err
}

func (s *Store) Service(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	svc := model.Service{ID: serviceID, BusinessID: businessID}
	err := s.pool.QueryRow(ctx, `
		SELECT name, duration_minutes, active FROM services WHERE id = $1 AND business_id = $2
	`, serviceID, businessID).Scan(&svc.Name, &svc.DurationMinutes, &svc.Active)
	if isNoRows(err) {
		return model.Service{}, model.ErrNotFound
	}
	return svc, err
}

func (s *Store) EligibleStaff(ctx context.Context, businessID, serviceID string) ([]model.Staff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT st.id, st.name
		FROM staff st
		JOIN staff_services ss ON ss.staff_id = st.id AND ss.business_id = st.business_id
		WHERE ss.business_id = $1 AND ss.service_id = $2 AND st.active
		ORDER BY st.id
	`, businessID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		st := model.Staff{BusinessID: businessID, Active: true}
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) StaffOffersService(ctx context.Context, businessID, staffID, serviceID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff_services ss
			JOIN staff st ON st.id = ss.staff_id AND st.business_id = ss.business_id
			WHERE ss.business_id = $1 AND ss.staff_id = $2 AND ss.service_id = $3 AND st.active
		)
	`, businessID, staffID, serviceID).Scan(&ok)
	return ok, err
}

func (s *Store) AddRule(ctx context.Context, r model.AvailabilityRule) (model.AvailabilityRule, error) {
	if err := r.Validate(); err != nil {
		return model.AvailabilityRule{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO availability_rules (id, business_id, staff_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.BusinessID, r.StaffID, int(r.Weekday), r.StartMinute, r.EndMinute)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	return r, nil
}

// DeleteRule soft-deletes a rule.
func (s *Store) DeleteRule(ctx context.Context, businessID, ruleID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE availability_rules SET deleted_at = $3
		WHERE id = $1 AND business_id = $2 AND deleted_at IS NULL
	`, ruleID, businessID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blackout_windows (id, business_id, staff_id, start_at, end_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.BusinessID, nullString(w.StaffID), w.Start, w.End, w.Reason)
	if err != nil {
		return model.BlackoutWindow{}, err
	}
	return w, nil
}

func (s *Store) Rules(ctx context.Context, businessID string, staffIDs []string, weekday time.Weekday) ([]model.AvailabilityRule, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, staff_id, weekday, start_minute, end_minute
		FROM availability_rules
		WHERE business_id = $1 AND weekday = $2 AND deleted_at IS NULL AND staff_id = ANY($3)
		ORDER BY staff_id, start_minute
	`, businessID, int(weekday), staffIDs)
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(staff_id, ''), start_at, end_at, reason
		FROM blackout_windows
		WHERE business_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlackoutWindow
	for rows.Next() {
		w := model.BlackoutWindow{BusinessID: businessID}
		if err := rows.Scan(&w.ID, &w.StaffID, &w.Start, &w.End, &w.Reason); err != nil {
			return nil, err
		}
		w.Start, w.End = w.Start.UTC(), w.End.UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}
