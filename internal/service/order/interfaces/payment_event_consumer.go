// internal/service/order/interfaces/payment_event_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"meridian/internal/fsm"
	"meridian/internal/outbox"
	"meridian/internal/pkg/logger"
	"meridian/internal/pkg/mq"
	"meridian/internal/service/order/application"
)

// 支付服务发布的事件类型。
const (
	eventTypePaymentSucceeded = "PaymentSucceeded"
	eventTypePaymentFailed    = "PaymentFailed"
	eventTypePaymentTimedOut  = "PaymentTimedOut"
	eventTypePaymentCancelled = "PaymentCancelled"
)

// paymentEventHandler 是消费者依赖的应用层入口。
type paymentEventHandler interface {
	HandlePaymentSucceeded(ctx context.Context, eventID string, result *application.PaymentResult) error
	HandlePaymentClosed(ctx context.Context, eventID string, result *application.PaymentResult) error
}

// PaymentEventConsumer 监听支付结果事件并驱动订单状态迁移。
// 消费是 at-least-once 的，去重靠应用层的触发幂等（eventId）。
type PaymentEventConsumer struct {
	reader *kafka.Reader
	appSvc paymentEventHandler
	wg     sync.WaitGroup
}

// NewPaymentEventConsumer 创建一个支付事件消费者。
func NewPaymentEventConsumer(reader *kafka.Reader, appSvc paymentEventHandler) *PaymentEventConsumer {
	return &PaymentEventConsumer{reader: reader, appSvc: appSvc}
}

// Start 开始监听，长期运行直到 ctx 取消。
func (c *PaymentEventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("payment event consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("payment event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.processMessage(msgCtx, msg); err != nil {
				// 处理失败不提交 offset：消息会被重投，
				// 幂等守卫保证重放安全。
				logger.Ctx(msgCtx).Error().Err(err).Msg("failed to process payment event, will be redelivered")
				time.Sleep(time.Second)
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Msg("failed to commit offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *PaymentEventConsumer) Stop(ctx context.Context) {
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("payment event consumer stopped")
}

func (c *PaymentEventConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// 坏消息跳过并提交，避免卡住分区
		logger.Ctx(ctx).Error().Err(err).Msg("malformed payment event skipped")
		return nil
	}

	var result application.PaymentResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", env.EventID).Msg("malformed payment event payload skipped")
		return nil
	}

	var handleErr error
	switch env.EventType {
	case eventTypePaymentSucceeded:
		handleErr = c.appSvc.HandlePaymentSucceeded(ctx, env.EventID, &result)
	case eventTypePaymentFailed, eventTypePaymentTimedOut, eventTypePaymentCancelled:
		if result.Reason == "" {
			result.Reason = env.EventType
		}
		handleErr = c.appSvc.HandlePaymentClosed(ctx, env.EventID, &result)
	default:
		// 不认识的事件类型直接确认，新消费者版本再处理
		logger.Ctx(ctx).Debug().Str("event_type", env.EventType).Msg("ignoring unhandled payment event type")
		return nil
	}

	if handleErr != nil && errors.Is(handleErr, fsm.ErrIllegalTransition) {
		// 订单已经走到了与该事件冲突的状态（例如取消后才收到支付
		// 成功）。重投不会改变结果，确认掉，靠告警与对账兜底。
		logger.Ctx(ctx).Error().Err(handleErr).
			Str("event_id", env.EventID).
			Str("event_type", env.EventType).
			Str("order_no", result.OrderNo).
			Msg("payment event conflicts with current order state, dropping")
		return nil
	}
	return handleErr
}
