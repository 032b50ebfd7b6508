package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	msg := kafka.Message{Topic: "payments.payment_method.attached.v1", Key: []byte("bk-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "" {
		t.Fatalf("event id must not fall back to the key, got %q", meta.EventID)
	}
	if meta.EventType != msg.Topic || meta.BookingID != "bk-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	msg.Headers = EventMeta{EventID: "evt-9", EventType: "custom", BusinessID: "biz", BookingID: "bk-2"}.Headers()
	meta = ExtractEventMeta(msg)
	want := EventMeta{EventID: "evt-9", EventType: "custom", BusinessID: "biz", BookingID: "bk-2"}
	if meta != want {
		t.Fatalf("expected %+v, got %+v", want, meta)
	}
}

func TestEventMetaHeadersSkipEmpty(t *testing.T) {
	headers := EventMeta{EventID: "e1", EventType: "booking.hold.created.v1"}.Headers()
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if HeaderValue(headers, HeaderBusinessID) != "" {
		t.Fatal("empty business id should not be written")
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatal("traceparent header not injected")
	}

	out := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	if got := trace.SpanContextFromContext(out).TraceID(); got != traceID {
		t.Fatalf("expected trace id %s, got %s", traceID, got)
	}
}

func TestStartConsumeSpanContinuesProducerTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	meta := EventMeta{EventID: "e1", EventType: "payments.payment_method.attached.v1", BookingID: "bk-1"}
	msg := kafka.Message{
		Topic:   meta.EventType,
		Headers: InjectTraceHeaders(trace.ContextWithSpanContext(context.Background(), sc), meta.Headers()),
	}
	ctx, span := StartConsumeSpan(context.Background(), msg, ExtractEventMeta(msg))
	defer span.End()
	if got := trace.SpanContextFromContext(ctx).TraceID(); got != traceID {
		t.Fatalf("expected trace %s, got %s", traceID, got)
	}
}
