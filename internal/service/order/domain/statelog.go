// internal/service/order/domain/statelog.go
package domain

import "time"

// OperatorType 标记一次状态流转是谁触发的。
type OperatorType string

const (
	OperatorUser   OperatorType = "USER"
	OperatorAdmin  OperatorType = "ADMIN"
	OperatorSystem OperatorType = "SYSTEM"
)

// StateLog 是订单状态流转的审计日志，只追加，每次被接受的迁移
// 写一行，永不修改或删除。它同时是"该事件是否已生效"的事实来源，
// 供重放排查与幂等校验使用。
type StateLog struct {
	ID           int64
	OrderNo      string
	FromState    Status
	ToState      Status
	Event        Event
	Operator     string
	OperatorType OperatorType
	Reason       string
	CreatedTime  time.Time
}

// NewStateLog 构造一条流转日志。
func NewStateLog(orderNo string, from, to Status, event Event, operator string, operatorType OperatorType, reason string, now time.Time) *StateLog {
	return &StateLog{
		OrderNo:      orderNo,
		FromState:    from,
		ToState:      to,
		Event:        event,
		Operator:     operator,
		OperatorType: operatorType,
		Reason:       reason,
		CreatedTime:  now,
	}
}
