// internal/service/payment/interfaces/timeout_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"meridian/internal/pkg/logger"
	"meridian/internal/pkg/mq"
	"meridian/internal/service/payment/application"
)

// timeoutTask 是延迟队列到期后投进超时检查主题的任务载荷。
type timeoutTask struct {
	OrderNo   string    `json:"orderNo"`
	PaymentNo string    `json:"paymentNo"`
	DueAt     time.Time `json:"dueAt"`
}

// TimeoutConsumer 消费到期的支付超时检查任务。
// 任务与真实回调走同一条守卫路径，天然互斥。
type TimeoutConsumer struct {
	reader *kafka.Reader
	appSvc *application.PaymentApplicationService
	wg     sync.WaitGroup
}

func NewTimeoutConsumer(reader *kafka.Reader, appSvc *application.PaymentApplicationService) *TimeoutConsumer {
	return &TimeoutConsumer{reader: reader, appSvc: appSvc}
}

// Start 开始监听，长期运行直到 ctx 取消。
func (c *TimeoutConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("payment timeout consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("payment timeout consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

			var task timeoutTask
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Msg("malformed timeout task skipped")
			} else if err := c.appSvc.HandleTimeoutCheck(msgCtx, task.OrderNo, task.PaymentNo); err != nil {
				// 不提交 offset，等待重投；兜底扫描也会补上
				logger.Ctx(msgCtx).Error().Err(err).Str("payment_no", task.PaymentNo).Msg("timeout check failed, will be redelivered")
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
func (c *TimeoutConsumer) Stop(ctx context.Context) {
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("payment timeout consumer stopped")
}
