// internal/service/order/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/mq"
)

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口。
// 消息按 userID 作 Key，保证同一个用户的通知有序。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(brokers []string) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{
		writer: mq.NewKafkaWriter(brokers, constants.TopicNotifications),
	}
}

// UserNotification 是推送网关消费的通知载荷。
type UserNotification struct {
	UserID    int64     `json:"userId"`
	OrderNo   string    `json:"orderNo"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *NotificationKafkaAdapter) OrderStatusChanged(ctx context.Context, userID int64, orderNo, status, message string) error {
	payload, err := json.Marshal(&UserNotification{
		UserID:    userID,
		OrderNo:   orderNo,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(strconv.FormatInt(userID, 10)), payload)
}

// Close 关闭底层的 Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
