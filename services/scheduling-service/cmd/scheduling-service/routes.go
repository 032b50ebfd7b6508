package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bookline/bookline/libs/auth"
	"github.com/bookline/bookline/libs/httpx"
	"github.com/bookline/bookline/libs/runtime"
	"github.com/bookline/bookline/services/scheduling-service/internal/handlers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type routerDeps struct {
	logger      *slog.Logger
	bookings    *handlers.BookingHandler
	stripe      *handlers.StripeHandler
	verifier    *auth.Verifier
	rateLimit   httpx.Middleware
	readyChecks []runtime.ReadyCheck
	corsOrigins []string
	metrics     http.Handler
}

// adminRoles may read and change bookings of their own business.
var adminRoles = []string{"owner", "admin", "staff"}

func newRouter(d routerDeps) http.Handler {
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(auth.RequireRole(h, adminRoles...), d.verifier)
	}
	limit := d.rateLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	mux := runtime.NewBaseMuxWithReady(d.readyChecks...)
	if d.metrics != nil {
		mux.Handle("/metrics", d.metrics)
	}
	mux.Handle("/api/v1/public/slots", limit(http.HandlerFunc(d.bookings.Slots)))
	mux.Handle("/api/v1/public/book", limit(http.HandlerFunc(d.bookings.Create)))
	mux.HandleFunc("/api/v1/webhooks/stripe", d.stripe.Webhook)
	mux.Handle("/api/v1/bookings", admin(d.bookings.List))
	mux.Handle("/api/v1/bookings/status", admin(d.bookings.SetStatus))

	h := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(d.logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: d.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			ExposedHeaders: []string{httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second, "/metrics"),
	)
	return otelhttp.NewHandler(h, "scheduling")
}
