package model

import "errors"

var (
	// ErrSlotConflict means another active booking already holds the time; shown as "that time was just taken".
	ErrSlotConflict = errors.New("slot conflict")
	// ErrSlotUnavailable means the requested start is not among the generated slots.
	ErrSlotUnavailable = errors.New("slot unavailable")

	ErrUnknownBusiness       = errors.New("unknown business")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidConfig         = errors.New("invalid scheduling config")
	ErrStaffNotEligible      = errors.New("staff does not offer service")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrPaymentMethodRequired = errors.New("payment method required")
	ErrHoldExpired           = errors.New("hold expired")
	// ErrStatusChanged is returned when a conditional update found the row in another state.
	ErrStatusChanged    = errors.New("status changed concurrently")
	ErrDuplicateRequest = errors.New("duplicate request")
)
