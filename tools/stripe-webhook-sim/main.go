package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bookline/bookline/libs/runtime"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	_ = runtime.LoadDotEnv()

	var (
		baseURL  = flag.String("base-url", runtime.Getenv("BASE_URL", "http://localhost:8083"), "scheduling service base url")
		evtType  = flag.String("type", runtime.Getenv("STRIPE_EVENT_TYPE", "setup_intent.succeeded"), "stripe event type")
		business = flag.String("business-id", runtime.Getenv("BUSINESS_ID", ""), "business_id metadata")
		booking  = flag.String("booking-id", runtime.Getenv("BOOKING_ID", ""), "booking_id metadata")
		method   = flag.String("payment-method", runtime.Getenv("PAYMENT_METHOD", "pm_card_visa"), "payment method id on the setup intent")
		secret   = flag.String("secret", runtime.Getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*business) == "" || strings.TrimSpace(*booking) == "" {
		fatal("BUSINESS_ID and BOOKING_ID are required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())

	payload, err := buildEventJSON(eventID, *evtType, now, *business, *booking, *method)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, businessID, bookingID, paymentMethod string) ([]byte, error) {
	switch eventType {
	case "setup_intent.succeeded", "setup_intent.setup_failed":
		status := "succeeded"
		if eventType == "setup_intent.setup_failed" {
			status = "requires_payment_method"
		}
		return json.Marshal(map[string]any{
			"id":      eventID,
			"object":  "event",
			"created": t.Unix(),
			"type":    eventType,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "seti_test_123",
					"object":         "setup_intent",
					"status":         status,
					"payment_method": paymentMethod,
					"metadata": map[string]any{
						"business_id": businessID,
						"booking_id":  bookingID,
					},
				},
			},
		})
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
