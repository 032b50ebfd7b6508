package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookline/bookline/libs/auth"
	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/reservation"
	"github.com/go-playground/validator/v10"
)

type SlotGenerator interface {
	GenerateSlots(ctx context.Context, businessID, serviceID string, date model.Date) ([]model.Slot, error)
}

type Reserver interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (model.Booking, error)
	SetStatus(ctx context.Context, businessID, bookingID string, to model.Status) (model.Booking, error)
}

type BookingLister interface {
	ListBookings(ctx context.Context, businessID string, f model.BookingFilter) ([]model.Booking, error)
}

type BookingHandler struct {
	slots    SlotGenerator
	arbiter  Reserver
	bookings BookingLister
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(slots SlotGenerator, arbiter Reserver, bookings BookingLister, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		slots:    slots,
		arbiter:  arbiter,
		bookings: bookings,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type createBookingRequest struct {
	BusinessID    string `json:"business_id" validate:"required"`
	ServiceID     string `json:"service_id" validate:"required"`
	StaffID       string `json:"staff_id" validate:"required"`
	StartTime     string `json:"start_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	CustomerName  string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,max=32"`
}

type setStatusRequest struct {
	BookingID string `json:"booking_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=pending scheduled completed cancelled no_show refunded"`
}

type slotItem struct {
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookingItem struct {
	BookingID             string `json:"booking_id"`
	BusinessID            string `json:"business_id"`
	StaffID               string `json:"staff_id"`
	ServiceID             string `json:"service_id"`
	StartTime             string `json:"start_time"`
	EndTime               string `json:"end_time"`
	Status                string `json:"status"`
	PaymentMethodAttached bool   `json:"payment_method_attached"`
	HoldCreatedAt         string `json:"hold_created_at"`
	ReleasedAt            string `json:"released_at,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
}

func toBookingItem(b model.Booking) bookingItem {
	item := bookingItem{
		BookingID:             b.ID,
		BusinessID:            b.BusinessID,
		StaffID:               b.StaffID,
		ServiceID:             b.ServiceID,
		StartTime:             b.Start.UTC().Format(time.RFC3339),
		EndTime:               b.End.UTC().Format(time.RFC3339),
		Status:                string(b.Status),
		PaymentMethodAttached: b.PaymentMethodAttached,
		HoldCreatedAt:         b.HoldCreatedAt.UTC().Format(time.RFC3339),
	}
	if b.ReleasedAt != nil {
		item.ReleasedAt = b.ReleasedAt.UTC().Format(time.RFC3339)
	}
	if !b.CreatedAt.IsZero() {
		item.CreatedAt = b.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// Slots lists bookable starts for a service on a business-local date.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if businessID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	date, err := model.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	slots, err := h.slots.GenerateSlots(r.Context(), businessID, serviceID, date)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StaffID:   s.StaffID,
			StaffName: s.StaffName,
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create reserves a slot as a held booking.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	b, err := h.arbiter.Reserve(r.Context(), reservation.ReserveRequest{
		BusinessID: req.BusinessID,
		StaffID:    req.StaffID,
		ServiceID:  req.ServiceID,
		Start:      start,
		Customer: model.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingItem(b))
}

// List returns the caller's bookings; the business comes from the token, never the query.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := model.BookingFilter{StaffID: strings.TrimSpace(q.Get("staff_id")), Limit: 50}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid "+key+" (want RFC3339)", http.StatusBadRequest)
			return
		}
		*dst = t
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	bookings, err := h.bookings.ListBookings(r.Context(), claims.BusinessID, filter)
	if err != nil {
		h.logger.Error("list bookings failed", "business_id", claims.BusinessID, "err", err)
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}
	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toBookingItem(b))
	}
	writeJSON(w, http.StatusOK, items)
}

// SetStatus applies an admin or payment-flow status transition.
func (h *BookingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Status = strings.TrimSpace(req.Status)
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	b, err := h.arbiter.SetStatus(r.Context(), claims.BusinessID, req.BookingID, model.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
