package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memInbox struct {
	seen map[string]bool
}

func (m *memInbox) RecordEvent(_ context.Context, id, _ string) (bool, error) {
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memInbox) ForgetEvent(_ context.Context, id string) error {
	delete(m.seen, id)
	return nil
}

type scriptedReader struct {
	msgs      []kafka.Message
	cancel    context.CancelFunc
	closed    bool
	committed []string
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, string(headerValue(m, "event_id")))
	}
	return nil
}

func headerValue(m kafka.Message, key string) []byte {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type attachCall struct{ biz, booking, ref string }

type fakeAttacher struct {
	calls []attachCall
	err   error
	// failures makes the first n calls return err; zero means every call does.
	failures int
}

func (f *fakeAttacher) AttachPaymentMethod(_ context.Context, biz, booking, ref string) (model.Booking, error) {
	f.calls = append(f.calls, attachCall{biz, booking, ref})
	if f.failures > 0 && len(f.calls) > f.failures {
		return model.Booking{ID: booking, Status: model.StatusPending}, nil
	}
	return model.Booking{ID: booking, Status: model.StatusPending}, f.err
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func eventMsg(t *testing.T, id string, payload any) kafka.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{
		Topic:   PaymentMethodTopic,
		Value:   body,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(id)}},
	}
}

func TestRunDeduplicatesByEventID(t *testing.T) {
	attacher := &fakeAttacher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := map[string]string{"booking_id": "b1", "business_id": "biz", "payment_method_ref": "pm_1"}
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		eventMsg(t, "e1", payload),
		eventMsg(t, "e1", payload),
		eventMsg(t, "e2", map[string]string{"booking_id": "b2", "business_id": "biz"}),
	}}
	c := &Consumer{reader: r, logger: discard(), inbox: &memInbox{seen: map[string]bool{}}, handler: PaymentMethodHandler(attacher, discard())}
	c.Run(ctx)

	assert.True(t, r.closed)
	assert.Equal(t, []string{"e1", "e1", "e2"}, r.committed, "handled and duplicate events are committed")
	require.Len(t, attacher.calls, 2)
	assert.Equal(t, attachCall{"biz", "b1", "pm_1"}, attacher.calls[0])
	assert.Equal(t, "b2", attacher.calls[1].booking)
}

func TestFailedHandlerCanBeRetried(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	attacher := &fakeAttacher{err: errors.New("db down")}
	c := &Consumer{logger: discard(), inbox: inbox, handler: PaymentMethodHandler(attacher, discard())}

	msg := eventMsg(t, "e1", map[string]string{"booking_id": "b1", "business_id": "biz"})
	assert.Error(t, c.process(context.Background(), msg))
	assert.False(t, inbox.seen["e1"], "failed events are forgotten")

	attacher.err = nil
	assert.NoError(t, c.process(context.Background(), msg))
	assert.True(t, inbox.seen["e1"])
	assert.Len(t, attacher.calls, 2)
}

func TestRunCommitsOnlyAfterHandlerSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attacher := &fakeAttacher{err: errors.New("db down"), failures: 2}
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		eventMsg(t, "e1", map[string]string{"booking_id": "b1", "business_id": "biz"}),
	}}
	c := &Consumer{reader: r, logger: discard(), inbox: &memInbox{seen: map[string]bool{}}, handler: PaymentMethodHandler(attacher, discard()), retryBase: time.Millisecond}
	c.Run(ctx)

	assert.Len(t, attacher.calls, 3, "retried until the handler succeeded")
	assert.Equal(t, []string{"e1"}, r.committed)
}

func TestRunLeavesFailingEventUncommitted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attacher := &fakeAttacher{err: errors.New("db down")}
	inbox := &memInbox{seen: map[string]bool{}}
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		eventMsg(t, "e1", map[string]string{"booking_id": "b1", "business_id": "biz"}),
	}}
	c := &Consumer{reader: r, logger: discard(), inbox: inbox, handler: PaymentMethodHandler(attacher, discard()), retryBase: time.Millisecond}
	c.Run(ctx)

	assert.GreaterOrEqual(t, len(attacher.calls), 2)
	assert.Empty(t, r.committed, "a failing event must stay uncommitted for redelivery")
	assert.False(t, inbox.seen["e1"])
	assert.True(t, r.closed)
}

func TestPaymentMethodHandlerDropsUnusableEvents(t *testing.T) {
	attacher := &fakeAttacher{}
	h := PaymentMethodHandler(attacher, discard())
	ctx := context.Background()

	assert.NoError(t, h(ctx, kafka.Message{Value: []byte("{not json")}))
	assert.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"booking_id":"b1"}`)}))
	assert.Empty(t, attacher.calls)

	attacher.err = model.ErrHoldExpired
	assert.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"booking_id":"b1","business_id":"biz"}`)}))
	assert.Len(t, attacher.calls, 1)
}
