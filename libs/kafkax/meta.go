package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys carried by booking events.
const (
	HeaderEventID    = "event_id"
	HeaderEventType  = "event_type"
	HeaderBusinessID = "business_id"
	HeaderBookingID  = "booking_id"
)

// EventMeta identifies an event and the booking it concerns.
type EventMeta struct {
	EventID    string
	EventType  string
	BusinessID string
	BookingID  string
}

// Headers renders the non-empty fields as message headers.
func (m EventMeta) Headers() []kafka.Header {
	pairs := [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderBusinessID, m.BusinessID},
		{HeaderBookingID, m.BookingID},
	}
	out := make([]kafka.Header, 0, len(pairs))
	for _, p := range pairs {
		if p[1] != "" {
			out = append(out, kafka.Header{Key: p[0], Value: []byte(p[1])})
		}
	}
	return out
}

// LogAttrs returns the fields as slog key/value pairs.
func (m EventMeta) LogAttrs() []any {
	return []any{"event_id", m.EventID, "event_type", m.EventType, "business_id", m.BusinessID, "booking_id", m.BookingID}
}

// ExtractEventMeta reads EventMeta from msg. The event type falls back to the topic and
// the booking id to the message key. The event id has no fallback: the key is shared by
// every event of one booking and would collapse them in an inbox.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:    HeaderValue(msg.Headers, HeaderEventID),
		EventType:  HeaderValue(msg.Headers, HeaderEventType),
		BusinessID: HeaderValue(msg.Headers, HeaderBusinessID),
		BookingID:  HeaderValue(msg.Headers, HeaderBookingID),
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	if meta.BookingID == "" {
		meta.BookingID = string(msg.Key)
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
