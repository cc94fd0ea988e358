// internal/service/order/domain/state_test.go
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
		{StatusPendingPayment, EventPay, StatusPaid},
		{StatusPendingPayment, EventCancel, StatusCancelled},
		{StatusPaid, EventShip, StatusShipped},
		{StatusPaid, EventRefund, StatusReturning},
		{StatusShipped, EventReceive, StatusCompleted},
		{StatusShipped, EventComplete, StatusCompleted},
		{StatusShipped, EventReturn, StatusReturning},
		{StatusReturning, EventConfirmRefund, StatusRefunded},
		{StatusReturning, EventConfirmReturn, StatusRefunded},
	}
	for _, tc := range cases {
		next, err := Apply(tc.from, tc.event)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.event)
		require.Equal(t, tc.to, next)
	}
}

func TestApplyIllegalTransition(t *testing.T) {
	t.Parallel()

	// 终态没有出边
	_, err := Apply(StatusCompleted, EventCancel)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)

	// 未支付不能发货
	_, err = Apply(StatusPendingPayment, EventShip)
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)
}

func TestApplyDuplicateEvent(t *testing.T) {
	t.Parallel()

	// 已 PAID 再次收到 PAY：是重复事件而非非法迁移
	_, err := Apply(StatusPaid, EventPay)
	require.ErrorIs(t, err, fsm.ErrAlreadyInState)
	require.NotErrorIs(t, err, fsm.ErrIllegalTransition)
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRefunded} {
		require.True(t, IsTerminal(s), "%s", s)
	}
	for _, s := range []Status{StatusPendingPayment, StatusPaid, StatusShipped, StatusReturning} {
		require.False(t, IsTerminal(s), "%s", s)
	}
}

func TestParseStatusRejectsUnknownCode(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus("PAID")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, s)

	_, err = ParseStatus("SHIPPING")
	require.Error(t, err)

	var unknown *UnknownCodeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "SHIPPING", unknown.Code)
}

func TestParseEventRejectsUnknownCode(t *testing.T) {
	t.Parallel()

	e, err := ParseEvent("RECEIVE")
	require.NoError(t, err)
	require.Equal(t, EventReceive, e)

	_, err = ParseEvent("DELIVER")
	require.Error(t, err)
}

func TestOrderTransitionStampsTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []Item{{SkuID: 9001, SkuName: "婴儿奶粉", Price: 19900, Quantity: 1}}
	order, err := NewOrder("SO1001", 42, 19900, 19900, "WECHAT", Receiver{Name: "张三"}, items, now)
	require.NoError(t, err)
	require.Equal(t, items, order.Items)
	require.Equal(t, StatusPendingPayment, order.Status)
	require.Nil(t, order.PayTime)

	payAt := now.Add(5 * time.Minute)
	from, err := order.Transition(EventPay, payAt)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPayment, from)
	require.Equal(t, StatusPaid, order.Status)
	require.NotNil(t, order.PayTime)
	require.Equal(t, payAt, *order.PayTime)

	shipAt := payAt.Add(time.Hour)
	from, err = order.Transition(EventShip, shipAt)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, from)
	require.NotNil(t, order.ShipTime)

	// 迁移失败时状态与时间戳都不动
	before := order.Status
	_, err = order.Transition(EventPay, shipAt)
	require.Error(t, err)
	require.Equal(t, before, order.Status)
	require.Nil(t, order.FinishTime)
}

func TestNewOrderValidation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	items := []Item{{SkuID: 1, Price: 100, Quantity: 1}}

	_, err := NewOrder("", 1, 100, 100, "WECHAT", Receiver{}, items, now)
	require.Error(t, err)

	_, err = NewOrder("SO1", 0, 100, 100, "WECHAT", Receiver{}, items, now)
	require.Error(t, err)

	_, err = NewOrder("SO1", 1, 0, 0, "WECHAT", Receiver{}, items, now)
	require.Error(t, err)

	// 实付不能超过总额
	_, err = NewOrder("SO1", 1, 100, 200, "WECHAT", Receiver{}, items, now)
	require.Error(t, err)

	// 订单必须带商品快照
	_, err = NewOrder("SO1", 1, 100, 100, "WECHAT", Receiver{}, nil, now)
	require.Error(t, err)
}
