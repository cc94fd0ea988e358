// internal/service/push/consumer.go
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"meridian/internal/pkg/logger"
	"meridian/internal/pkg/mq"
)

var pushedNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "push_notifications_total",
	Help: "User notifications handled by the push gateway.",
}, []string{"outcome"})

// notification 与订单侧的通知适配器约定一致的载荷。
type notification struct {
	UserID  int64  `json:"userId"`
	OrderNo string `json:"orderNo"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NotificationConsumer 消费通知主题并经 Hub 推给在线用户。
// 用户不在线的消息直接丢弃：实时推送是尽力而为的通道，
// 事实状态永远以订单服务为准。
type NotificationConsumer struct {
	reader *kafka.Reader
	hub    *Hub
	wg     sync.WaitGroup
}

func NewNotificationConsumer(reader *kafka.Reader, hub *Hub) *NotificationConsumer {
	return &NotificationConsumer{reader: reader, hub: hub}
}

// Start 开始监听，长期运行直到 ctx 取消。
func (c *NotificationConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("notification consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("notification consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			c.processMessage(msgCtx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Msg("failed to commit offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *NotificationConsumer) Stop(ctx context.Context) {
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("notification consumer stopped")
}

func (c *NotificationConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	var n notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("malformed notification skipped")
		pushedNotifications.WithLabelValues("malformed").Inc()
		return
	}

	userID := string(msg.Key)
	if c.hub.Push(userID, msg.Value) {
		pushedNotifications.WithLabelValues("delivered").Inc()
		logger.Ctx(ctx).Debug().Str("user_id", userID).Str("order_no", n.OrderNo).Msg("notification delivered")
	} else {
		pushedNotifications.WithLabelValues("offline").Inc()
	}
}
