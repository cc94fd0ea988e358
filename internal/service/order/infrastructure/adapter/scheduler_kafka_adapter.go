// internal/service/order/infrastructure/adapter/scheduler_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/mq"
)

// SchedulerKafkaAdapter 实现了 port.DelayScheduler 接口。
// 消息先投进延迟主题，到期后由 delay-scheduler 按消息头里的
// real-topic 转发到真实主题。
type SchedulerKafkaAdapter struct {
	delayWriter *kafka.Writer
}

// NewSchedulerKafkaAdapter 创建一个新的延迟任务调度器适配器。
func NewSchedulerKafkaAdapter(brokers []string) *SchedulerKafkaAdapter {
	return &SchedulerKafkaAdapter{
		delayWriter: mq.NewKafkaWriter(brokers, constants.TopicDelay30m),
	}
}

// PaymentTimeoutTask 是超时检查任务的载荷，支付服务到期消费。
type PaymentTimeoutTask struct {
	OrderNo   string    `json:"orderNo"`
	PaymentNo string    `json:"paymentNo"`
	DueAt     time.Time `json:"dueAt"`
}

func (a *SchedulerKafkaAdapter) SchedulePaymentTimeout(ctx context.Context, orderNo, paymentNo string, dueAt time.Time) error {
	payload, err := json.Marshal(&PaymentTimeoutTask{OrderNo: orderNo, PaymentNo: paymentNo, DueAt: dueAt})
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(orderNo),
		Value: payload,
		Headers: []kafka.Header{
			{Key: constants.HeaderRealTopic, Value: []byte(constants.TopicPaymentTimeoutCheck)},
			{Key: constants.HeaderDelayTimestamp, Value: []byte(dueAt.Format(time.RFC3339))},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)
	return a.delayWriter.WriteMessages(ctx, msg)
}

// Close 关闭底层的 Kafka writer。
func (a *SchedulerKafkaAdapter) Close() error {
	return a.delayWriter.Close()
}
