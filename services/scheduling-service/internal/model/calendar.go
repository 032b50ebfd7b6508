package model

import (
	"fmt"
	"time"
)

// MinutesPerDay bounds rule minutes; an end of MinutesPerDay means midnight of the next day.
const MinutesPerDay = 24 * 60

// SlotGranularity is the fixed step between candidate starts.
const SlotGranularity = 15 * time.Minute

const (
	DefaultMinLeadMinutes = 120
	DefaultMaxAdvanceDays = 60
)

type SchedulingConfig struct {
	BusinessID     string
	Timezone       string
	MinLeadMinutes int
	MaxAdvanceDays int
}

func (c SchedulingConfig) Validate() error {
	if c.MinLeadMinutes < 0 || c.MaxAdvanceDays < 0 {
		return fmt.Errorf("%w: lead and advance limits must be non-negative", ErrInvalidInput)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the IANA timezone; an empty name means UTC.
func (c SchedulingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

func (c SchedulingConfig) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	Active     bool
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// AvailabilityRule is a weekly wall-clock window in the business timezone.
type AvailabilityRule struct {
	ID          string
	BusinessID  string
	StaffID     string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	DeletedAt   *time.Time
}

func (r AvailabilityRule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidInput, r.Weekday)
	}
	if r.StartMinute < 0 || r.EndMinute > MinutesPerDay || r.StartMinute >= r.EndMinute {
		return fmt.Errorf("%w: rule window %d-%d", ErrInvalidInput, r.StartMinute, r.EndMinute)
	}
	return nil
}

// BlackoutWindow blocks a range of instants. An empty StaffID applies to every staff member.
type BlackoutWindow struct {
	ID         string
	BusinessID string
	StaffID    string
	Start      time.Time
	End        time.Time
	Reason     string
}

func (w BlackoutWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: blackout must end after it starts", ErrInvalidInput)
	}
	return nil
}

func (w BlackoutWindow) AppliesTo(staffID string) bool {
	return w.StaffID == "" || w.StaffID == staffID
}
