// internal/service/order/application/service.go
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meridian/internal/fsm"
	"meridian/internal/idempotency"
	"meridian/internal/outbox"
	"meridian/internal/pkg/logger"
	"meridian/internal/saga"
	"meridian/internal/service/order/domain"
	"meridian/internal/service/order/port"
)

// OrderApplicationService 编排订单生命周期：
// 守卫去重/串行化 -> 状态迁移引擎校验 -> saga 执行依赖副作用 ->
// 订单行 + 流转日志 + 发件箱事件原子落库。
//
// 所有依赖通过构造函数显式注入，不使用进程级单例。
type OrderApplicationService struct {
	repo        domain.OrderRepository
	guard       *idempotency.Guard
	coordinator *saga.Coordinator
	inventory   port.InventoryService
	payments    port.PaymentClient
	logistics   port.LogisticsService
	notifier    port.NotificationProducer
	scheduler   port.DelayScheduler
	tracer      trace.Tracer

	paymentExpiry time.Duration
	now           func() time.Time
}

// NewOrderApplicationService 创建订单应用服务。
func NewOrderApplicationService(
	repo domain.OrderRepository,
	guard *idempotency.Guard,
	coordinator *saga.Coordinator,
	inventory port.InventoryService,
	payments port.PaymentClient,
	logistics port.LogisticsService,
	notifier port.NotificationProducer,
	scheduler port.DelayScheduler,
	tracer trace.Tracer,
	paymentExpiry time.Duration,
) *OrderApplicationService {
	return &OrderApplicationService{
		repo: repo, guard: guard, coordinator: coordinator,
		inventory: inventory, payments: payments, logistics: logistics,
		notifier: notifier, scheduler: scheduler, tracer: tracer,
		paymentExpiry: paymentExpiry,
		now:           time.Now,
	}
}

// WithClock 注入自定义时钟，测试用。
func (s *OrderApplicationService) WithClock(now func() time.Time) *OrderApplicationService {
	s.now = now
	return s
}

// CreateOrder 处理结算下单。
//
// saga 步骤：预占库存 -> 创建支付单 -> 订单落库（PENDING_PAYMENT）。
// 任一步失败，已完成步骤按逆序补偿（释放库存、取消支付单）。
// RequestID 是整个操作的幂等键，重试返回首次的下单结果。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()

	total, payable, err := req.Validate()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	recorded, err := s.guard.Do(ctx, "order:create:"+req.RequestID, "order:create:"+req.RequestID, func(ctx context.Context) (interface{}, error) {
		// 单号由 RequestID 确定性推导：结果未入账的重试会带着同一个
		// 单号重入同一个 saga，续跑而不是另起炉灶留下孤儿预占。
		orderNo := newOrderNo(req.RequestID)
		span.SetAttributes(attribute.String("order.no", orderNo))

		order, err := domain.NewOrder(orderNo, req.UserID, total, payable, req.PaymentMethod, domain.Receiver{
			Name:    req.ReceiverName,
			Phone:   req.ReceiverPhone,
			Address: req.ReceiverAddress,
		}, req.OrderItems(), s.now())
		if err != nil {
			return nil, err
		}

		var paymentNo string
		steps := []saga.Step{
			{
				Name:    "reserve-stock",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo, "quantities": req.ItemQuantities()}),
				Action: func(ctx context.Context) error {
					return s.inventory.Reserve(ctx, orderNo, req.ItemQuantities())
				},
				Compensate: func(ctx context.Context) error {
					return s.inventory.Release(ctx, orderNo)
				},
			},
			{
				Name:    "create-payment",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo, "amount": payable, "method": req.PaymentMethod}),
				Action: func(ctx context.Context) error {
					no, err := s.payments.CreatePayment(ctx, orderNo, payable, req.PaymentMethod)
					if err != nil {
						return err
					}
					paymentNo = no
					return nil
				},
				Compensate: func(ctx context.Context) error {
					return s.payments.CancelPayment(ctx, orderNo)
				},
			},
			{
				Name:    "persist-order",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo}),
				Action: func(ctx context.Context) error {
					now := s.now()
					created, err := outbox.NewEvent(domain.EventTypeOrderCreated, orderNo, domain.OrderCreated{
						OrderNo:       orderNo,
						UserID:        order.UserID,
						TotalAmount:   order.TotalAmount,
						PayableAmount: order.PayableAmount,
						PaymentDueBy:  now.Add(s.paymentExpiry),
						CreatedAt:     now,
					})
					if err != nil {
						return err
					}
					log := domain.NewStateLog(orderNo, "", domain.StatusPendingPayment, domain.EventCreate,
						fmt.Sprintf("user:%d", req.UserID), domain.OperatorUser, "checkout", now)
					return s.repo.Create(ctx, order, log, created)
				},
				// 订单落库是最后一步，失败时只需补偿前序步骤
			},
		}

		if err := s.coordinator.Run(ctx, "place-order:"+orderNo, steps); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "place-order saga failed")
			return nil, err
		}

		// 调度支付超时检查。失败不回滚主流程：兜底的定时扫描
		// 会捞起漏掉的超时单。
		if err := s.scheduler.SchedulePaymentTimeout(ctx, orderNo, paymentNo, s.now().Add(s.paymentExpiry)); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_no", orderNo).Msg("failed to schedule payment timeout check")
			span.RecordError(err)
		}

		s.notifyBestEffort(ctx, order.UserID, orderNo, domain.StatusPendingPayment, "order created, waiting for payment")
		return &CreateOrderResponse{OrderNo: orderNo, PaymentNo: paymentNo, Status: domain.StatusPendingPayment}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		return nil, err
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal(recorded, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HandlePaymentSucceeded 消费支付成功事件，驱动订单 PAY 迁移。
// eventID 是支付事件的唯一标识，也是本次触发的幂等键：
// 重放的事件拿到首次处理的结果，不会产生第二条 OrderPaid。
func (s *OrderApplicationService) HandlePaymentSucceeded(ctx context.Context, eventID string, result *PaymentResult) error {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentSucceeded", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("order.no", result.OrderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+result.OrderNo, "order-pay:"+eventID, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, result.OrderNo)
		if err != nil {
			return nil, err
		}

		now := s.now()
		from, err := order.Transition(domain.EventPay, now)
		if err != nil {
			return nil, err
		}

		steps := []saga.Step{
			{
				Name:    "confirm-stock",
				Payload: stepPayload(map[string]interface{}{"orderNo": order.OrderNo}),
				Action: func(ctx context.Context) error {
					return s.inventory.Confirm(ctx, order.OrderNo)
				},
				Compensate: func(ctx context.Context) error {
					return s.inventory.Release(ctx, order.OrderNo)
				},
			},
			{
				Name: "persist-paid",
				Action: func(ctx context.Context) error {
					paid, err := outbox.NewEvent(domain.EventTypeOrderPaid, order.OrderNo, domain.OrderPaid{
						OrderNo:       order.OrderNo,
						UserID:        order.UserID,
						PayableAmount: order.PayableAmount,
						PaymentNo:     result.PaymentNo,
						PaidAt:        now,
					})
					if err != nil {
						return err
					}
					log := domain.NewStateLog(order.OrderNo, from, order.Status, domain.EventPay,
						"payment-service", domain.OperatorSystem, "payment "+result.PaymentNo+" succeeded", now)
					return s.repo.Update(ctx, order, log, paid)
				},
			},
		}
		if err := s.coordinator.Run(ctx, "confirm-order:"+order.OrderNo, steps); err != nil {
			return nil, err
		}

		s.notifyBestEffort(ctx, order.UserID, order.OrderNo, order.Status, "payment received")
		return &TransitionResult{OrderNo: order.OrderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, result.OrderNo, domain.EventPay)
}

// HandlePaymentClosed 消费支付失败/超时/取消事件，以系统身份取消订单。
func (s *OrderApplicationService) HandlePaymentClosed(ctx context.Context, eventID string, result *PaymentResult) error {
	reason := result.Reason
	if reason == "" {
		reason = "payment closed"
	}
	return s.Cancel(ctx, result.OrderNo, "order-close:"+eventID, "payment-service", domain.OperatorSystem, reason)
}

// Cancel 取消订单（用户、后台或系统超时）。
// saga 步骤：释放库存 -> 取消支付单 -> 落库 CANCELLED。
// 前两步都按 orderNo 幂等，落库失败后的重试会安全收敛。
func (s *OrderApplicationService) Cancel(ctx context.Context, orderNo, triggerKey, operator string, operatorType domain.OperatorType, reason string) error {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder", trace.WithAttributes(
		attribute.String("order.no", orderNo),
		attribute.String("operator.type", string(operatorType)),
	))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+orderNo, triggerKey, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}

		now := s.now()
		from, err := order.Transition(domain.EventCancel, now)
		if err != nil {
			return nil, err
		}

		steps := []saga.Step{
			{
				Name:    "release-stock",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo}),
				Action: func(ctx context.Context) error {
					return s.inventory.Release(ctx, orderNo)
				},
			},
			{
				Name:    "cancel-payment",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo}),
				Action: func(ctx context.Context) error {
					return s.payments.CancelPayment(ctx, orderNo)
				},
			},
			{
				Name: "persist-cancelled",
				Action: func(ctx context.Context) error {
					cancelled, err := outbox.NewEvent(domain.EventTypeOrderCancelled, orderNo, domain.OrderCancelled{
						OrderNo: orderNo, UserID: order.UserID, Reason: reason, CancelledAt: now,
					})
					if err != nil {
						return err
					}
					log := domain.NewStateLog(orderNo, from, order.Status, domain.EventCancel, operator, operatorType, reason, now)
					return s.repo.Update(ctx, order, log, cancelled)
				},
			},
		}
		if err := s.coordinator.Run(ctx, "cancel-order:"+orderNo, steps); err != nil {
			return nil, err
		}

		s.notifyBestEffort(ctx, order.UserID, orderNo, order.Status, "order cancelled: "+reason)
		return &TransitionResult{OrderNo: orderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, orderNo, domain.EventCancel)
}

// Ship 发货（后台操作）。创建运单后落库 SHIPPED。
func (s *OrderApplicationService) Ship(ctx context.Context, orderNo, operator string) error {
	ctx, span := s.tracer.Start(ctx, "app.ShipOrder", trace.WithAttributes(attribute.String("order.no", orderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+orderNo, "ship:"+orderNo, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}

		now := s.now()
		from, err := order.Transition(domain.EventShip, now)
		if err != nil {
			return nil, err
		}

		var trackingNo string
		steps := []saga.Step{
			{
				Name: "create-shipment",
				Action: func(ctx context.Context) error {
					no, err := s.logistics.CreateShipment(ctx, orderNo, order.Receiver.Name, order.Receiver.Phone, order.Receiver.Address)
					if err != nil {
						return err
					}
					trackingNo = no
					return nil
				},
			},
			{
				Name: "persist-shipped",
				Action: func(ctx context.Context) error {
					shipped, err := outbox.NewEvent(domain.EventTypeOrderShipped, orderNo, domain.OrderShipped{
						OrderNo: orderNo, UserID: order.UserID, TrackingNo: trackingNo, ShippedAt: now,
					})
					if err != nil {
						return err
					}
					log := domain.NewStateLog(orderNo, from, order.Status, domain.EventShip, operator, domain.OperatorAdmin, "shipment "+trackingNo, now)
					return s.repo.Update(ctx, order, log, shipped)
				},
			},
		}
		if err := s.coordinator.Run(ctx, "ship-order:"+orderNo, steps); err != nil {
			return nil, err
		}

		s.notifyBestEffort(ctx, order.UserID, orderNo, order.Status, "order shipped, tracking no "+trackingNo)
		return &TransitionResult{OrderNo: orderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, orderNo, domain.EventShip)
}

// Receive 用户确认收货，订单完成。
func (s *OrderApplicationService) Receive(ctx context.Context, orderNo, operator string) error {
	return s.complete(ctx, orderNo, domain.EventReceive, operator, domain.OperatorUser, "buyer confirmed receipt")
}

// AutoComplete 超期未确认收货时由系统完成订单。
func (s *OrderApplicationService) AutoComplete(ctx context.Context, orderNo string) error {
	return s.complete(ctx, orderNo, domain.EventComplete, "auto-complete", domain.OperatorSystem, "auto completed after receive window")
}

func (s *OrderApplicationService) complete(ctx context.Context, orderNo string, event domain.Event, operator string, operatorType domain.OperatorType, reason string) error {
	ctx, span := s.tracer.Start(ctx, "app.CompleteOrder", trace.WithAttributes(attribute.String("order.no", orderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+orderNo, "complete:"+orderNo, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		now := s.now()
		from, err := order.Transition(event, now)
		if err != nil {
			return nil, err
		}
		completed, err := outbox.NewEvent(domain.EventTypeOrderCompleted, orderNo, domain.OrderCompleted{
			OrderNo: orderNo, UserID: order.UserID, CompletedAt: now,
		})
		if err != nil {
			return nil, err
		}
		log := domain.NewStateLog(orderNo, from, order.Status, event, operator, operatorType, reason, now)
		if err := s.repo.Update(ctx, order, log, completed); err != nil {
			return nil, err
		}
		return &TransitionResult{OrderNo: orderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, orderNo, event)
}

// RequestRefund 发货前的退款申请（PAID -> RETURNING）。
func (s *OrderApplicationService) RequestRefund(ctx context.Context, orderNo, operator, reason string) error {
	return s.requestReturn(ctx, orderNo, domain.EventRefund, operator, reason)
}

// RequestReturn 发货后的退货申请（SHIPPED -> RETURNING）。
func (s *OrderApplicationService) RequestReturn(ctx context.Context, orderNo, operator, reason string) error {
	return s.requestReturn(ctx, orderNo, domain.EventReturn, operator, reason)
}

func (s *OrderApplicationService) requestReturn(ctx context.Context, orderNo string, event domain.Event, operator, reason string) error {
	ctx, span := s.tracer.Start(ctx, "app.RequestReturn", trace.WithAttributes(attribute.String("order.no", orderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+orderNo, "return-request:"+orderNo, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		now := s.now()
		from, err := order.Transition(event, now)
		if err != nil {
			return nil, err
		}
		log := domain.NewStateLog(orderNo, from, order.Status, event, operator, domain.OperatorUser, reason, now)
		if err := s.repo.Update(ctx, order, log); err != nil {
			return nil, err
		}
		return &TransitionResult{OrderNo: orderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, orderNo, event)
}

// ConfirmRefund 后台确认退款：发起支付退款并落库 REFUNDED。
func (s *OrderApplicationService) ConfirmRefund(ctx context.Context, orderNo, operator string) error {
	return s.confirmReturn(ctx, orderNo, domain.EventConfirmRefund, operator)
}

// ConfirmReturn 后台确认退货：收货验货后退款并落库 REFUNDED。
func (s *OrderApplicationService) ConfirmReturn(ctx context.Context, orderNo, operator string) error {
	return s.confirmReturn(ctx, orderNo, domain.EventConfirmReturn, operator)
}

func (s *OrderApplicationService) confirmReturn(ctx context.Context, orderNo string, event domain.Event, operator string) error {
	ctx, span := s.tracer.Start(ctx, "app.ConfirmReturn", trace.WithAttributes(attribute.String("order.no", orderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "order:"+orderNo, "return-confirm:"+orderNo, func(ctx context.Context) (interface{}, error) {
		order, err := s.repo.FindByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		now := s.now()
		from, err := order.Transition(event, now)
		if err != nil {
			return nil, err
		}

		steps := []saga.Step{
			{
				Name:    "refund-payment",
				Payload: stepPayload(map[string]interface{}{"orderNo": orderNo, "amount": order.PayableAmount}),
				Action: func(ctx context.Context) error {
					return s.payments.Refund(ctx, orderNo, order.PayableAmount)
				},
			},
			{
				Name: "persist-refunded",
				Action: func(ctx context.Context) error {
					refunded, err := outbox.NewEvent(domain.EventTypeOrderRefunded, orderNo, domain.OrderRefunded{
						OrderNo: orderNo, UserID: order.UserID, RefundAmount: order.PayableAmount, RefundedAt: now,
					})
					if err != nil {
						return err
					}
					log := domain.NewStateLog(orderNo, from, order.Status, event, operator, domain.OperatorAdmin, "refund confirmed", now)
					return s.repo.Update(ctx, order, log, refunded)
				},
			},
		}
		if err := s.coordinator.Run(ctx, "refund-order:"+orderNo, steps); err != nil {
			return nil, err
		}

		s.notifyBestEffort(ctx, order.UserID, orderNo, order.Status, "refund completed")
		return &TransitionResult{OrderNo: orderNo, From: from, To: order.Status}, nil
	})
	return s.collapseIdempotent(ctx, span, err, orderNo, event)
}

// GetOrder 查询订单（只读）。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderNo string) (*domain.Order, error) {
	return s.repo.FindByOrderNo(ctx, orderNo)
}

// GetOrderLogs 查询订单流转日志（只读）。
func (s *OrderApplicationService) GetOrderLogs(ctx context.Context, orderNo string) ([]*domain.StateLog, error) {
	return s.repo.FindLogs(ctx, orderNo)
}

// collapseIdempotent 统一折叠幂等路径：
// 重复触发与"已在目标状态"都视为成功；非法迁移如实上抛。
func (s *OrderApplicationService) collapseIdempotent(ctx context.Context, span trace.Span, err error, orderNo string, event domain.Event) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, idempotency.ErrDuplicateTrigger):
		logger.Ctx(ctx).Info().Str("order_no", orderNo).Str("event", string(event)).Msg("duplicate trigger short-circuited")
		span.AddEvent("duplicate trigger short-circuited")
		return nil
	case isAlreadyInState(err):
		logger.Ctx(ctx).Info().Str("order_no", orderNo).Str("event", string(event)).Msg("order already in target state")
		span.AddEvent("already in target state")
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "order transition failed")
		return err
	}
}

// notifyBestEffort 向用户推送状态变化。通知丢失不影响订单状态，
// 只记日志。
func (s *OrderApplicationService) notifyBestEffort(ctx context.Context, userID int64, orderNo string, status domain.Status, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderStatusChanged(ctx, userID, orderNo, string(status), message); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_no", orderNo).Msg("failed to publish user notification")
	}
}

func isAlreadyInState(err error) bool {
	return errors.Is(err, fsm.ErrAlreadyInState)
}

// stepPayload 把步骤入参序列化成随步骤记录落库的快照。
func stepPayload(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// newOrderNo 把下单幂等键映射成稳定的订单号。
func newOrderNo(requestID string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("order/"+requestID))
	return fmt.Sprintf("SO%X", id[:10])
}
