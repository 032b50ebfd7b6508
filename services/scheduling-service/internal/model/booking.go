package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusHeld      Status = "held"
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
	StatusRefunded  Status = "refunded"
	// StatusExpired marks a hold released by the sweeper.
	StatusExpired Status = "expired"
)

// ActiveStatuses occupy their time range; no two active bookings of one staff member overlap.
var ActiveStatuses = []Status{StatusHeld, StatusPending, StatusScheduled}

func (s Status) Active() bool {
	switch s {
	case StatusHeld, StatusPending, StatusScheduled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusHeld, StatusPending, StatusScheduled, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Booking struct {
	ID         string
	BusinessID string
	StaffID    string
	ServiceID  string
	Customer   Customer
	Start      time.Time
	End        time.Time
	Status     Status

	PaymentMethodAttached bool
	PaymentMethodRef      string

	IdempotencyKey string
	HoldCreatedAt  time.Time
	ReleasedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Overlaps uses half-open ranges: a booking ending at 10:00 does not overlap one starting at 10:00.
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}

// HoldExpired reports whether an unpaid hold has outlived window at now.
func (b Booking) HoldExpired(now time.Time, window time.Duration) bool {
	if b.Status != StatusHeld || b.PaymentMethodAttached {
		return false
	}
	return now.After(b.HoldCreatedAt.Add(window))
}

// Slot is a bookable start for one staff member.
type Slot struct {
	StaffID   string
	StaffName string
	Start     time.Time
	End       time.Time
}

// BookingFilter narrows ledger listings. Zero values mean no constraint.
type BookingFilter struct {
	StaffID string
	Status  Status
	From    time.Time
	To      time.Time
	Limit   int
}
