package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to responses. Anything unrecognised is a generic 500 the
// client may retry.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrSlotConflict):
		http.Error(w, "that time was just taken", http.StatusConflict)
	case errors.Is(err, model.ErrSlotUnavailable):
		http.Error(w, "that time is no longer available", http.StatusConflict)
	case errors.Is(err, model.ErrDuplicateRequest):
		http.Error(w, "idempotency key already used for a different booking", http.StatusConflict)
	case errors.Is(err, model.ErrStatusChanged):
		http.Error(w, "booking changed concurrently; reload and retry", http.StatusConflict)
	case errors.Is(err, model.ErrHoldExpired):
		http.Error(w, "hold expired", http.StatusGone)
	case errors.Is(err, model.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrPaymentMethodRequired):
		http.Error(w, "payment method required", http.StatusPaymentRequired)
	case errors.Is(err, model.ErrUnknownBusiness):
		http.Error(w, "business not found", http.StatusNotFound)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrStaffNotEligible):
		http.Error(w, "staff member does not offer this service", http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "something went wrong, please try again", http.StatusInternalServerError)
	}
}
