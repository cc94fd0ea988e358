// internal/outbox/event.go

// Package outbox 实现事务性发件箱：领域事件与状态变更在同一个
// 数据库事务里落库，再由后台 Dispatcher 至少一次地投递到消息代理。
// 事件一经写入不可变；消费方必须按 eventId 去重。
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event 是发件箱中的一条领域事件。
type Event struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	EventID          string         `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex"`
	EventType        string         `gorm:"column:event_type;type:varchar(64);not null;index"`
	AggregateID      string         `gorm:"column:aggregate_id;type:varchar(64);not null;index"`
	Payload          datatypes.JSON `gorm:"column:payload;not null"`
	CreatedTime      time.Time      `gorm:"column:created_time;not null"`
	DispatchedTime   *time.Time     `gorm:"column:dispatched_time;index"`
	DeliveryAttempts int            `gorm:"column:delivery_attempts;not null;default:0"`
	NextAttemptTime  time.Time      `gorm:"column:next_attempt_time;not null;index"`
}

func (Event) TableName() string {
	return "outbox_events"
}

// NewEvent 构造一条待落库的事件，payload 会被序列化为 JSON。
func NewEvent(eventType, aggregateID string, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Event{
		EventID:         uuid.New().String(),
		EventType:       eventType,
		AggregateID:     aggregateID,
		Payload:         datatypes.JSON(raw),
		CreatedTime:     now,
		NextAttemptTime: now,
	}, nil
}
