// internal/service/payment/domain/statelog.go
package domain

import "time"

// StateLog 是支付单状态流转的审计日志，只追加，每次被接受的
// 迁移写一行，永不修改或删除。超时与取消在这里可以区分开，
// 对账时不依赖事件流也能还原支付单的完整轨迹。
type StateLog struct {
	ID          int64
	PaymentNo   string
	OrderNo     string
	FromState   Status
	ToState     Status
	Event       Event
	Operator    string
	Reason      string
	CreatedTime time.Time
}

// NewStateLog 构造一条流转日志。
func NewStateLog(paymentNo, orderNo string, from, to Status, event Event, operator, reason string, now time.Time) *StateLog {
	return &StateLog{
		PaymentNo:   paymentNo,
		OrderNo:     orderNo,
		FromState:   from,
		ToState:     to,
		Event:       event,
		Operator:    operator,
		Reason:      reason,
		CreatedTime: now,
	}
}
