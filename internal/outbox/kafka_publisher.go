// internal/outbox/kafka_publisher.go
package outbox

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"meridian/internal/pkg/mq"
)

// Envelope 是上 Kafka 的事件信封。消费方先看 EventID 去重，
// 再按 EventType 分发 Payload。
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
}

// KafkaPublisher 把发件箱事件发布到 Kafka。
// Key 取 aggregateId，配合 Hash balancer 保证单聚合的分区内顺序。
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建发布器。topic 按服务划分（订单事件一个主题，
// 支付事件一个主题），主题内再按 eventType 分发。
func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *Event) error {
	value, err := json.Marshal(Envelope{
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		AggregateID: ev.AggregateID,
		Payload:     json.RawMessage(ev.Payload),
	})
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(ev.AggregateID), value)
}

// Close 关闭底层 writer。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
