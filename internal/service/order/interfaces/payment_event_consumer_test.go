// internal/service/order/interfaces/payment_event_consumer_test.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"meridian/internal/fsm"
	"meridian/internal/outbox"
	"meridian/internal/service/order/application"
)

type stubPaymentHandler struct {
	succeeded []string // eventID
	closed    []string
	err       error
}

func (s *stubPaymentHandler) HandlePaymentSucceeded(_ context.Context, eventID string, _ *application.PaymentResult) error {
	s.succeeded = append(s.succeeded, eventID)
	return s.err
}

func (s *stubPaymentHandler) HandlePaymentClosed(_ context.Context, eventID string, _ *application.PaymentResult) error {
	s.closed = append(s.closed, eventID)
	return s.err
}

func paymentMessage(t *testing.T, eventID, eventType string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(application.PaymentResult{OrderNo: "SO1", PaymentNo: "PY-SO1", Amount: 19900})
	require.NoError(t, err)
	value, err := json.Marshal(outbox.Envelope{
		EventID: eventID, EventType: eventType, AggregateID: "SO1", Payload: payload,
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestProcessMessageRoutesByEventType(t *testing.T) {
	t.Parallel()

	stub := &stubPaymentHandler{}
	c := &PaymentEventConsumer{appSvc: stub}
	ctx := context.Background()

	require.NoError(t, c.processMessage(ctx, paymentMessage(t, "evt-1", "PaymentSucceeded")))
	require.NoError(t, c.processMessage(ctx, paymentMessage(t, "evt-2", "PaymentTimedOut")))
	require.NoError(t, c.processMessage(ctx, paymentMessage(t, "evt-3", "PaymentCancelled")))

	require.Equal(t, []string{"evt-1"}, stub.succeeded)
	require.Equal(t, []string{"evt-2", "evt-3"}, stub.closed)
}

// 与订单当前状态冲突的事件重投多少次结果都一样：
// 必须确认掉，否则这条消息会永远卡住分区。
func TestProcessMessageAcksConflictingEvent(t *testing.T) {
	t.Parallel()

	stub := &stubPaymentHandler{err: &fsm.IllegalTransitionError{From: "CANCELLED", Event: "PAY"}}
	c := &PaymentEventConsumer{appSvc: stub}

	err := c.processMessage(context.Background(), paymentMessage(t, "evt-1", "PaymentSucceeded"))
	require.NoError(t, err)
	require.Len(t, stub.succeeded, 1)
}

// 瞬时故障照常上抛，不提交 offset，等待重投。
func TestProcessMessageReturnsTransientError(t *testing.T) {
	t.Parallel()

	stub := &stubPaymentHandler{err: errors.New("db connection lost")}
	c := &PaymentEventConsumer{appSvc: stub}

	err := c.processMessage(context.Background(), paymentMessage(t, "evt-1", "PaymentSucceeded"))
	require.Error(t, err)
}

func TestProcessMessageSkipsMalformedAndUnknown(t *testing.T) {
	t.Parallel()

	stub := &stubPaymentHandler{}
	c := &PaymentEventConsumer{appSvc: stub}
	ctx := context.Background()

	require.NoError(t, c.processMessage(ctx, kafka.Message{Value: []byte("not json")}))
	require.NoError(t, c.processMessage(ctx, paymentMessage(t, "evt-1", "PaymentArchived")))
	require.Empty(t, stub.succeeded)
	require.Empty(t, stub.closed)
}
