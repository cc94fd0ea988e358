// internal/service/payment/domain/state_test.go
package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian/internal/fsm"
)

func TestApplyTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  Status
		event Event
		to    Status
	}{
		{StatusPending, EventPayProcess, StatusProcessing},
		{StatusPending, EventPaySuccess, StatusSuccess},
		{StatusPending, EventPayFail, StatusFailed},
		{StatusPending, EventPayTimeout, StatusTimeout},
		{StatusPending, EventPayCancel, StatusCancelled},
		{StatusProcessing, EventPaySuccess, StatusSuccess},
		{StatusProcessing, EventPayFail, StatusFailed},
		{StatusProcessing, EventPayTimeout, StatusTimeout},
		{StatusProcessing, EventPayCancel, StatusCancelled},
		{StatusSuccess, EventPayRefund, StatusRefunding},
		{StatusRefunding, EventPayRefundConfirm, StatusRefunded},
		{StatusRefunding, EventPayPartialRefund, StatusPartialRefunded},
	}
	for _, tc := range cases {
		next, err := Apply(tc.from, tc.event)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.event)
		require.Equal(t, tc.to, next)
	}
}

func TestApplyIllegalTransition(t *testing.T) {
	t.Parallel()

	// 超时关闭的支付单不会再成功
	_, err := Apply(StatusTimeout, EventPaySuccess)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)

	// 取消的支付单同理
	_, err = Apply(StatusCancelled, EventPaySuccess)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)

	// 未成功的支付单不能退款
	_, err = Apply(StatusPending, EventPayRefund)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)

	// 已全额退款后不能再部分退款
	_, err = Apply(StatusRefunded, EventPayPartialRefund)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)
}

func TestApplyDuplicateEvent(t *testing.T) {
	t.Parallel()

	// 网关重复推送成功回调
	_, err := Apply(StatusSuccess, EventPaySuccess)
	require.ErrorIs(t, err, fsm.ErrAlreadyInState)

	// 收银台重复上报拉起支付
	_, err = Apply(StatusProcessing, EventPayProcess)
	require.ErrorIs(t, err, fsm.ErrAlreadyInState)

	// 超时检查重放
	_, err = Apply(StatusTimeout, EventPayTimeout)
	require.ErrorIs(t, err, fsm.ErrAlreadyInState)
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusFailed, StatusCancelled, StatusTimeout, StatusRefunded, StatusPartialRefunded} {
		require.True(t, IsTerminal(s), "%s", s)
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusSuccess, StatusRefunding} {
		require.False(t, IsTerminal(s), "%s", s)
	}
}

func TestParseStatusAndEvent(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus("PARTIAL_REFUNDED")
	require.NoError(t, err)
	require.Equal(t, StatusPartialRefunded, s)

	_, err = ParseStatus("CLOSED")
	var unknown *UnknownCodeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "CLOSED", unknown.Code)

	e, err := ParseEvent("PAY_TIMEOUT")
	require.NoError(t, err)
	require.Equal(t, EventPayTimeout, e)

	_, err = ParseEvent("SUCCEED")
	require.ErrorAs(t, err, &unknown)

	// 审计专用事件不允许从边界流入
	_, err = ParseEvent(string(EventPayCreate))
	require.Error(t, err)
}

func TestPaymentTransitionStampsTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p, err := NewPayment("PY1001", "SO1001", 42, 19900, "WECHAT", now, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, now.Add(30*time.Minute), p.ExpireTime)

	cashierAt := now.Add(30 * time.Second)
	from, err := p.Transition(EventPayProcess, cashierAt)
	require.NoError(t, err)
	require.Equal(t, StatusPending, from)
	require.NotNil(t, p.ProcessTime)
	require.Equal(t, cashierAt, *p.ProcessTime)

	okAt := now.Add(time.Minute)
	from, err = p.Transition(EventPaySuccess, okAt)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, from)
	require.NotNil(t, p.SuccessTime)
	require.Equal(t, okAt, *p.SuccessTime)

	_, err = p.Transition(EventPayRefund, okAt)
	require.NoError(t, err)
	require.Equal(t, StatusRefunding, p.Status)

	_, err = p.Transition(EventPayRefundConfirm, okAt)
	require.NoError(t, err)
	require.NotNil(t, p.RefundTime)
}

func TestPaymentTimeoutStampsClosedTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p, err := NewPayment("PY1", "SO1", 1, 100, "WECHAT", now, 30*time.Minute)
	require.NoError(t, err)

	at := now.Add(31 * time.Minute)
	_, err = p.Transition(EventPayTimeout, at)
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, p.Status)
	require.NotNil(t, p.ClosedTime)
	require.Equal(t, at, *p.ClosedTime)
}

func TestPaymentExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p, err := NewPayment("PY1", "SO1", 1, 100, "WECHAT", now, 30*time.Minute)
	require.NoError(t, err)

	require.False(t, p.Expired(now.Add(29*time.Minute)))
	require.True(t, p.Expired(now.Add(31*time.Minute)))

	// 拉起收银台后依然会超时
	_, err = p.Transition(EventPayProcess, now)
	require.NoError(t, err)
	require.True(t, p.Expired(now.Add(31*time.Minute)))

	// 已成功的支付单不算超时
	_, err = p.Transition(EventPaySuccess, now)
	require.NoError(t, err)
	require.False(t, p.Expired(now.Add(time.Hour)))
}

func TestNewPaymentValidation(t *testing.T) {
	t.Parallel()

	now := time.Now()

	_, err := NewPayment("", "SO1", 1, 100, "WECHAT", now, time.Minute)
	require.Error(t, err)

	_, err = NewPayment("PY1", "", 1, 100, "WECHAT", now, time.Minute)
	require.Error(t, err)

	_, err = NewPayment("PY1", "SO1", 1, 0, "WECHAT", now, time.Minute)
	require.Error(t, err)
}
