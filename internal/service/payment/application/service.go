// internal/service/payment/application/service.go
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
	"meridian/internal/service/payment/domain"
	"meridian/internal/service/payment/port"
)

// PaymentApplicationService 编排支付单生命周期。
// 网关回调、超时检查、订单侧关单都走同一条守卫路径：
// 按订单号串行化，按触发键去重，先到者生效，后到者拿到一致结果。
type PaymentApplicationService struct {
	repo    domain.PaymentRepository
	guard   *idempotency.Guard
	gateway port.GatewayClient
	tracer  trace.Tracer

	now func() time.Time
}

func NewPaymentApplicationService(
	repo domain.PaymentRepository,
	guard *idempotency.Guard,
	gateway port.GatewayClient,
	tracer trace.Tracer,
) *PaymentApplicationService {
	return &PaymentApplicationService{
		repo: repo, guard: guard, gateway: gateway, tracer: tracer,
		now: time.Now,
	}
}

// WithClock 注入自定义时钟，测试用。
func (s *PaymentApplicationService) WithClock(now func() time.Time) *PaymentApplicationService {
	s.now = now
	return s
}

// CreatePayment 为订单创建支付单，按 orderNo 幂等：
// 已有未出结果的支付单时返回它；订单已支付成功返回 ErrOrderAlreadyPaid。
func (s *PaymentApplicationService) CreatePayment(ctx context.Context, req *CreatePaymentRequest, expiry time.Duration) (*CreatePaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreatePayment", trace.WithAttributes(attribute.String("order.no", req.OrderNo)))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	recorded, err := s.guard.Do(ctx, "payment:order:"+req.OrderNo, "payment:create:"+req.OrderNo, func(ctx context.Context) (interface{}, error) {
		if existing, err := s.repo.FindSettledByOrderNo(ctx, req.OrderNo); err == nil && existing != nil {
			return nil, domain.ErrOrderAlreadyPaid
		} else if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}

		if open, err := s.repo.FindOpenByOrderNo(ctx, req.OrderNo); err == nil {
			return &CreatePaymentResponse{PaymentNo: open.PaymentNo, Status: open.Status}, nil
		} else if !errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}

		now := s.now()
		payment, err := domain.NewPayment(newPaymentNo(now), req.OrderNo, req.UserID, req.Amount, req.Method, now, expiry)
		if err != nil {
			return nil, err
		}
		log := domain.NewStateLog(payment.PaymentNo, req.OrderNo, "", domain.StatusPending,
			domain.EventPayCreate, "order-service", "checkout", now)
		if err := s.repo.Create(ctx, payment, log); err != nil {
			return nil, err
		}
		return &CreatePaymentResponse{PaymentNo: payment.PaymentNo, Status: payment.Status}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		return nil, err
	}

	var resp CreatePaymentResponse
	if err := json.Unmarshal(recorded, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartProcessing 记录用户拉起收银台（PENDING -> PROCESSING）。
// 重复上报幂等收敛；支付单已出结果时返回非法迁移。
func (s *PaymentApplicationService) StartProcessing(ctx context.Context, paymentNo string) error {
	ctx, span := s.tracer.Start(ctx, "app.StartPaymentProcessing", trace.WithAttributes(attribute.String("payment.no", paymentNo)))
	defer span.End()

	payment, err := s.repo.FindByPaymentNo(ctx, paymentNo)
	if err != nil {
		return err
	}

	_, err = s.guard.Do(ctx, "payment:order:"+payment.OrderNo, "payment:process:"+paymentNo, func(ctx context.Context) (interface{}, error) {
		payment, err := s.repo.FindByPaymentNo(ctx, paymentNo)
		if err != nil {
			return nil, err
		}
		now := s.now()
		from, err := payment.Transition(domain.EventPayProcess, now)
		if err != nil {
			if errors.Is(err, fsm.ErrAlreadyInState) {
				return &CallbackResult{PaymentNo: paymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
			}
			return nil, err
		}
		log := domain.NewStateLog(paymentNo, payment.OrderNo, from, payment.Status,
			domain.EventPayProcess, "cashier", "user entered cashier", now)
		if err := s.repo.Update(ctx, payment, log); err != nil {
			return nil, err
		}
		return &CallbackResult{PaymentNo: paymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		return err
	}
	return nil
}

// HandleGatewayCallback 处理网关异步通知。
//
// 同一个订单至多只有一笔支付单能进入 SUCCESS：回调在按订单号
// 串行化的守卫内执行，先检查订单是否已有成功支付，有则拒绝。
// 重放的通知按 NotificationID 去重，直接返回首次结果。
func (s *PaymentApplicationService) HandleGatewayCallback(ctx context.Context, cb *GatewayCallback) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandleGatewayCallback", trace.WithAttributes(
		attribute.String("payment.no", cb.PaymentNo),
		attribute.Bool("payment.success", cb.Success),
	))
	defer span.End()

	if err := cb.Validate(); err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByPaymentNo(ctx, cb.PaymentNo)
	if err != nil {
		return nil, err
	}

	recorded, err := s.guard.Do(ctx, "payment:order:"+payment.OrderNo, "gw-notify:"+cb.NotificationID, func(ctx context.Context) (interface{}, error) {
		// 守卫内重新加载，拿锁前的读可能已经过期
		payment, err := s.repo.FindByPaymentNo(ctx, cb.PaymentNo)
		if err != nil {
			return nil, err
		}

		if cb.Success {
			return s.markSucceeded(ctx, payment, cb.GatewayTxnID)
		}
		return s.markFailed(ctx, payment, cb.FailReason)
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway callback failed")
		return nil, err
	}

	var result CallbackResult
	if err := json.Unmarshal(recorded, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *PaymentApplicationService) markSucceeded(ctx context.Context, payment *domain.Payment, gatewayTxnID string) (*CallbackResult, error) {
	// 单笔成功约束：同订单已有另一笔胜出支付单时拒绝本笔
	if winner, err := s.repo.FindSettledByOrderNo(ctx, payment.OrderNo); err == nil && winner.PaymentNo != payment.PaymentNo {
		return nil, domain.ErrOrderAlreadyPaid
	} else if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	now := s.now()
	from, err := payment.Transition(domain.EventPaySuccess, now)
	if err != nil {
		if errors.Is(err, fsm.ErrAlreadyInState) {
			return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
		}
		return nil, err
	}
	payment.GatewayTxnID = gatewayTxnID

	succeeded, err := outbox.NewEvent(domain.EventTypePaymentSucceeded, payment.OrderNo, domain.PaymentResult{
		OrderNo: payment.OrderNo, PaymentNo: payment.PaymentNo, Amount: payment.Amount, OccurredAt: now,
	})
	if err != nil {
		return nil, err
	}
	log := domain.NewStateLog(payment.PaymentNo, payment.OrderNo, from, payment.Status,
		domain.EventPaySuccess, "gateway", "txn "+gatewayTxnID, now)
	if err := s.repo.Update(ctx, payment, log, succeeded); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("payment_no", payment.PaymentNo).Str("order_no", payment.OrderNo).Msg("payment succeeded")
	return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
}

func (s *PaymentApplicationService) markFailed(ctx context.Context, payment *domain.Payment, reason string) (*CallbackResult, error) {
	now := s.now()
	from, err := payment.Transition(domain.EventPayFail, now)
	if err != nil {
		if errors.Is(err, fsm.ErrAlreadyInState) {
			return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
		}
		return nil, err
	}
	payment.FailReason = reason

	failed, err := outbox.NewEvent(domain.EventTypePaymentFailed, payment.OrderNo, domain.PaymentResult{
		OrderNo: payment.OrderNo, PaymentNo: payment.PaymentNo, Amount: payment.Amount, Reason: reason, OccurredAt: now,
	})
	if err != nil {
		return nil, err
	}
	log := domain.NewStateLog(payment.PaymentNo, payment.OrderNo, from, payment.Status,
		domain.EventPayFail, "gateway", reason, now)
	if err := s.repo.Update(ctx, payment, log, failed); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("payment_no", payment.PaymentNo).Str("reason", reason).Msg("payment failed")
	return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: payment.OrderNo, Status: payment.Status}, nil
}

// HandleTimeoutCheck 处理一次支付超时检查，延迟队列与兜底扫描
// 都进到这里。支付单若已出结果则什么都不做；仍未出结果且已过期
// 则迁移到 TIMEOUT 并发布 PaymentTimedOut。
//
// 检查与真实回调竞争同一把订单锁，两边只有一个能生效。
func (s *PaymentApplicationService) HandleTimeoutCheck(ctx context.Context, orderNo, paymentNo string) error {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentTimeoutCheck", trace.WithAttributes(
		attribute.String("order.no", orderNo),
		attribute.String("payment.no", paymentNo),
	))
	defer span.End()

	_, err := s.guard.Do(ctx, "payment:order:"+orderNo, "timeout:"+paymentNo, func(ctx context.Context) (interface{}, error) {
		payment, err := s.repo.FindByPaymentNo(ctx, paymentNo)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if !payment.Open() {
			// 回调先到了，超时检查作废
			return &CallbackResult{PaymentNo: paymentNo, OrderNo: orderNo, Status: payment.Status}, nil
		}
		if !payment.Expired(now) {
			// 延迟消息早到，留给兜底扫描
			return &CallbackResult{PaymentNo: paymentNo, OrderNo: orderNo, Status: payment.Status}, nil
		}

		from, err := payment.Transition(domain.EventPayTimeout, now)
		if err != nil {
			return nil, err
		}
		timedOut, err := outbox.NewEvent(domain.EventTypePaymentTimedOut, orderNo, domain.PaymentResult{
			OrderNo: orderNo, PaymentNo: paymentNo, Amount: payment.Amount,
			Reason: "payment window expired", OccurredAt: now,
		})
		if err != nil {
			return nil, err
		}
		log := domain.NewStateLog(paymentNo, orderNo, from, payment.Status,
			domain.EventPayTimeout, "timeout-checker", "payment window expired", now)
		if err := s.repo.Update(ctx, payment, log, timedOut); err != nil {
			return nil, err
		}

		// 通知网关关闭交易。失败只记日志：网关侧的单据会自然过期
		if err := s.gateway.CloseTransaction(ctx, paymentNo); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("payment_no", paymentNo).Msg("failed to close gateway transaction")
		}
		logger.Ctx(ctx).Info().Str("payment_no", paymentNo).Str("order_no", orderNo).Msg("payment timed out")
		return &CallbackResult{PaymentNo: paymentNo, OrderNo: orderNo, Status: payment.Status}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		return err
	}
	return nil
}

// SweepExpired 兜底扫描：捞出延迟消息漏掉的过期未出结果支付单，
// 逐笔走与延迟检查相同的守卫路径。由 cron 周期触发。
func (s *PaymentApplicationService) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepExpiredPayments")
	defer span.End()

	expired, err := s.repo.FindExpiredOpen(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, p := range expired {
		if err := s.HandleTimeoutCheck(ctx, p.OrderNo, p.PaymentNo); err != nil {
			// 单笔失败不中断整轮扫描，下一轮会重试
			logger.Ctx(ctx).Error().Err(err).Str("payment_no", p.PaymentNo).Msg("sweep: failed to close expired payment")
			continue
		}
		closed++
	}
	span.SetAttributes(attribute.Int("sweep.scanned", len(expired)), attribute.Int("sweep.closed", closed))
	return closed, nil
}

// Cancel 关闭订单当前未出结果的支付单，订单取消时由订单服务调用。
// 没有这样的支付单时是 no-op。
func (s *PaymentApplicationService) Cancel(ctx context.Context, orderNo string) error {
	ctx, span := s.tracer.Start(ctx, "app.CancelPayment", trace.WithAttributes(attribute.String("order.no", orderNo)))
	defer span.End()

	_, err := s.guard.Do(ctx, "payment:order:"+orderNo, "payment:cancel:"+orderNo, func(ctx context.Context) (interface{}, error) {
		payment, err := s.repo.FindOpenByOrderNo(ctx, orderNo)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return &CallbackResult{OrderNo: orderNo}, nil
		}
		if err != nil {
			return nil, err
		}

		now := s.now()
		from, err := payment.Transition(domain.EventPayCancel, now)
		if err != nil {
			return nil, err
		}
		cancelled, err := outbox.NewEvent(domain.EventTypePaymentCancelled, orderNo, domain.PaymentResult{
			OrderNo: orderNo, PaymentNo: payment.PaymentNo, Amount: payment.Amount,
			Reason: "order cancelled", OccurredAt: now,
		})
		if err != nil {
			return nil, err
		}
		log := domain.NewStateLog(payment.PaymentNo, orderNo, from, payment.Status,
			domain.EventPayCancel, "order-service", "order cancelled", now)
		if err := s.repo.Update(ctx, payment, log, cancelled); err != nil {
			return nil, err
		}
		if err := s.gateway.CloseTransaction(ctx, payment.PaymentNo); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("payment_no", payment.PaymentNo).Msg("failed to close gateway transaction")
		}
		return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: orderNo, Status: payment.Status}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		return err
	}
	return nil
}

// Refund 对订单的成功支付发起退款，按 orderNo 幂等。
// 先落 REFUNDING 再调网关，网关成功后按金额落 REFUNDED 或
// PARTIAL_REFUNDED：中途宕机时重试会从 REFUNDING 继续，
// 网关侧按 paymentNo 幂等。
func (s *PaymentApplicationService) Refund(ctx context.Context, orderNo string, amount int64) error {
	ctx, span := s.tracer.Start(ctx, "app.RefundPayment", trace.WithAttributes(
		attribute.String("order.no", orderNo),
		attribute.Int64("refund.amount", amount),
	))
	defer span.End()

	_, err := s.guard.Do(ctx, "payment:order:"+orderNo, "payment:refund:"+orderNo, func(ctx context.Context) (interface{}, error) {
		payment, err := s.repo.FindSettledByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		if payment.Status == domain.StatusRefunded || payment.Status == domain.StatusPartialRefunded {
			// 之前的退款已经走完
			return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: orderNo, Status: payment.Status}, nil
		}
		if amount > payment.Amount {
			return nil, fmt.Errorf("refund amount %d exceeds payment amount %d", amount, payment.Amount)
		}

		now := s.now()
		if payment.Status == domain.StatusSuccess {
			from, err := payment.Transition(domain.EventPayRefund, now)
			if err != nil {
				return nil, err
			}
			log := domain.NewStateLog(payment.PaymentNo, orderNo, from, payment.Status,
				domain.EventPayRefund, "order-service", "refund requested", now)
			if err := s.repo.Update(ctx, payment, log); err != nil {
				return nil, err
			}
		}

		refundTxnID, err := s.gateway.Refund(ctx, payment.GatewayTxnID, payment.PaymentNo, amount)
		if err != nil {
			return nil, err
		}

		settleEvent := domain.EventPayRefundConfirm
		if amount < payment.Amount {
			settleEvent = domain.EventPayPartialRefund
		}
		from, err := payment.Transition(settleEvent, now)
		if err != nil {
			if errors.Is(err, fsm.ErrAlreadyInState) {
				return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: orderNo, Status: payment.Status}, nil
			}
			return nil, err
		}
		log := domain.NewStateLog(payment.PaymentNo, orderNo, from, payment.Status,
			settleEvent, "gateway", "refund txn "+refundTxnID, now)
		if err := s.repo.Update(ctx, payment, log); err != nil {
			return nil, err
		}
		logger.Ctx(ctx).Info().Str("payment_no", payment.PaymentNo).Str("refund_txn_id", refundTxnID).Int64("amount", amount).Msg("payment refunded")
		return &CallbackResult{PaymentNo: payment.PaymentNo, OrderNo: orderNo, Status: payment.Status}, nil
	})
	if err != nil && !errors.Is(err, idempotency.ErrDuplicateTrigger) {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetPaymentLogs 查询支付单流转日志（只读）。
func (s *PaymentApplicationService) GetPaymentLogs(ctx context.Context, paymentNo string) ([]*domain.StateLog, error) {
	return s.repo.FindLogs(ctx, paymentNo)
}

func newPaymentNo(now time.Time) string {
	return fmt.Sprintf("PY%s%s", now.Format("20060102150405"), uuid.New().String()[:8])
}
