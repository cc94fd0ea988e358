// internal/service/order/application/service_test.go
package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"meridian/internal/fsm"
	"meridian/internal/idempotency"
	"meridian/internal/outbox"
	"meridian/internal/saga"
	"meridian/internal/service/order/domain"
)

// ---- 内存仓储与出站端口假实现 ----

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	logs   map[string][]*domain.StateLog
	events []*outbox.Event
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: make(map[string]*domain.Order),
		logs:   make(map[string][]*domain.StateLog),
	}
}

func (r *fakeOrderRepo) Create(_ context.Context, order *domain.Order, log *domain.StateLog, events ...*outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	copied.Version = 1
	r.orders[order.OrderNo] = &copied
	r.logs[order.OrderNo] = append(r.logs[order.OrderNo], log)
	r.events = append(r.events, events...)
	return nil
}

func (r *fakeOrderRepo) Update(_ context.Context, order *domain.Order, log *domain.StateLog, events ...*outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.OrderNo]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrStaleOrder
	}
	copied := *order
	copied.Version++
	r.orders[order.OrderNo] = &copied
	r.logs[order.OrderNo] = append(r.logs[order.OrderNo], log)
	r.events = append(r.events, events...)
	return nil
}

func (r *fakeOrderRepo) FindByOrderNo(_ context.Context, orderNo string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[orderNo]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeOrderRepo) FindLogs(_ context.Context, orderNo string) ([]*domain.StateLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.StateLog(nil), r.logs[orderNo]...), nil
}

func (r *fakeOrderRepo) eventsOfType(eventType string) []*outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*outbox.Event
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeInventory struct {
	mu                           sync.Mutex
	reserves, releases, confirms []string
	reserveErr                   error
}

func (f *fakeInventory) Reserve(_ context.Context, orderNo string, _ map[int64]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserves = append(f.reserves, orderNo)
	return nil
}

func (f *fakeInventory) Release(_ context.Context, orderNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, orderNo)
	return nil
}

func (f *fakeInventory) Confirm(_ context.Context, orderNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, orderNo)
	return nil
}

type fakePayments struct {
	mu        sync.Mutex
	created   []string
	cancelled []string
	refunds   map[string]int64
	createErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{refunds: make(map[string]int64)}
}

func (f *fakePayments) CreatePayment(_ context.Context, orderNo string, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, orderNo)
	return "PY-" + orderNo, nil
}

func (f *fakePayments) CancelPayment(_ context.Context, orderNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderNo)
	return nil
}

func (f *fakePayments) Refund(_ context.Context, orderNo string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[orderNo] = amount
	return nil
}

type fakeLogistics struct{}

func (fakeLogistics) CreateShipment(_ context.Context, orderNo, _, _, _ string) (string, error) {
	return "TRK-" + orderNo, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) OrderStatusChanged(_ context.Context, _ int64, orderNo, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, orderNo+":"+status)
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeScheduler) SchedulePaymentTimeout(_ context.Context, orderNo, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, orderNo)
	return nil
}

type fixture struct {
	svc       *OrderApplicationService
	repo      *fakeOrderRepo
	inventory *fakeInventory
	payments  *fakePayments
	notifier  *fakeNotifier
	scheduler *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeOrderRepo()
	inventory := &fakeInventory{}
	payments := newFakePayments()
	notifier := &fakeNotifier{}
	scheduler := &fakeScheduler{}

	guard := idempotency.NewGuard(
		idempotency.NewMemoryLocker(),
		idempotency.NewMemoryTriggerStore(),
		idempotency.Policy{LockTTL: time.Second, LockWait: time.Second, LockRetry: time.Millisecond, TriggerTTL: time.Hour},
	)
	coordinator := saga.NewCoordinator(saga.NewMemoryStore(), saga.Policy{
		CompensateAttempts: 2, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
	}, otel.Tracer("order-test"))

	svc := NewOrderApplicationService(
		repo, guard, coordinator,
		inventory, payments, fakeLogistics{}, notifier, scheduler,
		otel.Tracer("order-test"), 30*time.Minute,
	).WithClock(func() time.Time {
		return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	})

	return &fixture{svc: svc, repo: repo, inventory: inventory, payments: payments, notifier: notifier, scheduler: scheduler}
}

func createReq(requestID string) *CreateOrderRequest {
	return &CreateOrderRequest{
		RequestID:     requestID,
		UserID:        42,
		PaymentMethod: "WECHAT",
		Items: []ItemInput{
			{SkuID: 101, Price: 9900, Quantity: 2},
			{SkuID: 102, Price: 100, Quantity: 1},
		},
		ReceiverName:    "张三",
		ReceiverPhone:   "13800000000",
		ReceiverAddress: "杭州市西湖区",
	}
}

// ---- 下单 ----

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.CreateOrder(ctx, createReq("req-1"))
	require.NoError(t, err)
	require.NotEmpty(t, resp.OrderNo)
	require.Equal(t, "PY-"+resp.OrderNo, resp.PaymentNo)
	require.Equal(t, domain.StatusPendingPayment, resp.Status)

	order, err := f.repo.FindByOrderNo(ctx, resp.OrderNo)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingPayment, order.Status)
	require.Equal(t, int64(19900), order.TotalAmount)
	require.Equal(t, int64(19900), order.PayableAmount)

	// 商品快照随订单落库
	require.Equal(t, []domain.Item{
		{SkuID: 101, Price: 9900, Quantity: 2},
		{SkuID: 102, Price: 100, Quantity: 1},
	}, order.Items)

	// 库存预占、支付单创建、超时检查调度都发生了
	require.Equal(t, []string{resp.OrderNo}, f.inventory.reserves)
	require.Equal(t, []string{resp.OrderNo}, f.payments.created)
	require.Equal(t, []string{resp.OrderNo}, f.scheduler.scheduled)

	// OrderCreated 事件随事务写入发件箱
	created := f.repo.eventsOfType(domain.EventTypeOrderCreated)
	require.Len(t, created, 1)
	require.Equal(t, resp.OrderNo, created[0].AggregateID)

	// 首条审计日志是 CREATE
	logs, err := f.repo.FindLogs(ctx, resp.OrderNo)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, domain.EventCreate, logs[0].Event)
}

func TestCreateOrderPointsDiscount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := createReq("req-1")
	req.PointsDiscount = 900

	resp, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	order, _ := f.repo.FindByOrderNo(context.Background(), resp.OrderNo)
	require.Equal(t, int64(19900), order.TotalAmount)
	require.Equal(t, int64(19000), order.PayableAmount)
}

func TestCreateOrderIdempotentByRequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, createReq("req-1"))
	require.NoError(t, err)

	// 客户端重试：同一 RequestID 返回首次的下单结果，不建第二个订单
	retry, err := f.svc.CreateOrder(ctx, createReq("req-1"))
	require.NoError(t, err)
	require.Equal(t, first.OrderNo, retry.OrderNo)
	require.Equal(t, first.PaymentNo, retry.PaymentNo)

	require.Len(t, f.repo.orders, 1)
	require.Len(t, f.inventory.reserves, 1)
	require.Len(t, f.payments.created, 1)

	// 不同 RequestID 是新订单
	second, err := f.svc.CreateOrder(ctx, createReq("req-2"))
	require.NoError(t, err)
	require.NotEqual(t, first.OrderNo, second.OrderNo)
	require.Len(t, f.repo.orders, 2)
}

func TestCreateOrderCompensatesOnPaymentFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payments.createErr = errors.New("payment service down")

	_, err := f.svc.CreateOrder(context.Background(), createReq("req-1"))
	require.Error(t, err)

	// 预占的库存被补偿释放，订单没有落库
	require.Len(t, f.inventory.reserves, 1)
	require.Equal(t, f.inventory.reserves, f.inventory.releases)
	require.Empty(t, f.repo.orders)
	require.Empty(t, f.scheduler.scheduled)
}

// 失败的下单尝试不会进触发记录，重试会重新执行。
// 订单号由 RequestID 派生：重试拿到同一个订单号，编排从同一条
// saga 继续，而不是留下一个没人认领的旧预占再开一条新的。
func TestCreateOrderRetryReusesOrderNo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.payments.createErr = errors.New("payment service down")
	_, err := f.svc.CreateOrder(ctx, createReq("req-1"))
	require.Error(t, err)
	require.Len(t, f.inventory.reserves, 1)
	firstOrderNo := f.inventory.reserves[0]

	f.payments.mu.Lock()
	f.payments.createErr = nil
	f.payments.mu.Unlock()

	resp, err := f.svc.CreateOrder(ctx, createReq("req-1"))
	require.NoError(t, err)
	require.Equal(t, firstOrderNo, resp.OrderNo)

	// 重试预占的是同一个订单号，第一次的预占已被补偿释放
	require.Equal(t, []string{firstOrderNo, firstOrderNo}, f.inventory.reserves)
	require.Len(t, f.repo.orders, 1)
}

func TestOrderNoDerivedFromRequestID(t *testing.T) {
	t.Parallel()

	// 不同进程、不同时刻，同一 RequestID 产出同一订单号
	require.Equal(t, newOrderNo("req-1"), newOrderNo("req-1"))
	require.NotEqual(t, newOrderNo("req-1"), newOrderNo("req-2"))

	a := newFixture(t)
	b := newFixture(t)
	respA, err := a.svc.CreateOrder(context.Background(), createReq("req-1"))
	require.NoError(t, err)
	respB, err := b.svc.CreateOrder(context.Background(), createReq("req-1"))
	require.NoError(t, err)
	require.Equal(t, respA.OrderNo, respB.OrderNo)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	req := createReq("")
	_, err := f.svc.CreateOrder(ctx, req)
	require.Error(t, err)

	req = createReq("req-1")
	req.Items = nil
	_, err = f.svc.CreateOrder(ctx, req)
	require.Error(t, err)

	req = createReq("req-2")
	req.PointsDiscount = 99999999
	_, err = f.svc.CreateOrder(ctx, req)
	require.Error(t, err)

	require.Empty(t, f.repo.orders)
}

// ---- 支付结果回流 ----

func mustCreate(t *testing.T, f *fixture) string {
	t.Helper()
	resp, err := f.svc.CreateOrder(context.Background(), createReq("req-"+t.Name()))
	require.NoError(t, err)
	return resp.OrderNo
}

func TestHandlePaymentSucceeded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	err := f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo, PaymentNo: "PY-" + orderNo})
	require.NoError(t, err)

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusPaid, order.Status)
	require.NotNil(t, order.PayTime)

	// 预占转实扣
	require.Equal(t, []string{orderNo}, f.inventory.confirms)
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderPaid), 1)
}

func TestHandlePaymentSucceededReplayedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)
	result := &PaymentResult{OrderNo: orderNo, PaymentNo: "PY-" + orderNo}

	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", result))

	// 消息重投：同一 eventID 重放，折叠为成功，不产生第二条 OrderPaid
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", result))
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderPaid), 1)
	require.Len(t, f.inventory.confirms, 1)

	// 换了 eventID 但订单已 PAID：状态机识别为重复事件，同样折叠
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-2", result))
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderPaid), 1)

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusPaid, order.Status)
}

func TestHandlePaymentClosedCancelsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	err := f.svc.HandlePaymentClosed(ctx, "evt-1", &PaymentResult{OrderNo: orderNo, Reason: "payment timed out"})
	require.NoError(t, err)

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusCancelled, order.Status)
	require.Contains(t, f.inventory.releases, orderNo)
	require.Contains(t, f.payments.cancelled, orderNo)

	cancelled := f.repo.eventsOfType(domain.EventTypeOrderCancelled)
	require.Len(t, cancelled, 1)
}

// ---- 取消 ----

func TestCancelPendingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	err := f.svc.Cancel(ctx, orderNo, "cancel:user:"+orderNo, "user:42", domain.OperatorUser, "changed my mind")
	require.NoError(t, err)

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusCancelled, order.Status)
	require.NotNil(t, order.CancelTime)
}

func TestCancelCompletedOrderRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo}))
	require.NoError(t, f.svc.Ship(ctx, orderNo, "admin:1"))
	require.NoError(t, f.svc.Receive(ctx, orderNo, "user:42"))

	// 终态订单不可取消，非法迁移如实上抛
	err := f.svc.Cancel(ctx, orderNo, "cancel:late:"+orderNo, "user:42", domain.OperatorUser, "too late")
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusCompleted, order.Status)
}

func TestCancelMissingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.svc.Cancel(context.Background(), "SO-missing", "t1", "user:1", domain.OperatorUser, "x")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// ---- 发货 / 收货 ----

func TestShipAndReceive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo}))

	require.NoError(t, f.svc.Ship(ctx, orderNo, "admin:1"))
	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusShipped, order.Status)
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderShipped), 1)

	require.NoError(t, f.svc.Receive(ctx, orderNo, "user:42"))
	order, _ = f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusCompleted, order.Status)
	require.NotNil(t, order.FinishTime)
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderCompleted), 1)
}

func TestShipPendingOrderRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	err := f.svc.Ship(ctx, orderNo, "admin:1")
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)
}

// ---- 退款 / 退货 ----

func TestRefundFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo}))

	// 发货前退款：PAID -> RETURNING -> REFUNDED
	require.NoError(t, f.svc.RequestRefund(ctx, orderNo, "user:42", "wrong size"))
	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusReturning, order.Status)

	require.NoError(t, f.svc.ConfirmRefund(ctx, orderNo, "admin:1"))
	order, _ = f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusRefunded, order.Status)

	// 支付侧按实付金额发起退款
	require.Equal(t, int64(19900), f.payments.refunds[orderNo])
	require.Len(t, f.repo.eventsOfType(domain.EventTypeOrderRefunded), 1)
}

func TestReturnFlowAfterShipment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo}))
	require.NoError(t, f.svc.Ship(ctx, orderNo, "admin:1"))

	require.NoError(t, f.svc.RequestReturn(ctx, orderNo, "user:42", "defective"))
	require.NoError(t, f.svc.ConfirmReturn(ctx, orderNo, "admin:1"))

	order, _ := f.repo.FindByOrderNo(ctx, orderNo)
	require.Equal(t, domain.StatusRefunded, order.Status)
}

func TestRefundBeforePaymentRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)

	err := f.svc.RequestRefund(ctx, orderNo, "user:42", "x")
	require.ErrorIs(t, err, fsm.ErrIllegalTransition)
}

// ---- 审计日志 ----

func TestStateLogsRecordFullLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderNo := mustCreate(t, f)
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, "evt-1", &PaymentResult{OrderNo: orderNo}))
	require.NoError(t, f.svc.Ship(ctx, orderNo, "admin:1"))
	require.NoError(t, f.svc.Receive(ctx, orderNo, "user:42"))

	logs, err := f.svc.GetOrderLogs(ctx, orderNo)
	require.NoError(t, err)
	require.Len(t, logs, 4)

	var events []domain.Event
	for _, l := range logs {
		events = append(events, l.Event)
	}
	require.Equal(t, []domain.Event{domain.EventCreate, domain.EventPay, domain.EventShip, domain.EventReceive}, events)

	// 日志链条首尾相接
	require.Equal(t, logs[1].FromState, logs[0].ToState)
	require.Equal(t, logs[2].FromState, logs[1].ToState)
}
