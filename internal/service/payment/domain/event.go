// internal/service/payment/domain/event.go
package domain

import "time"

// 支付侧领域事件类型，订单服务消费后驱动订单迁移。
const (
	EventTypePaymentSucceeded = "PaymentSucceeded"
	EventTypePaymentFailed    = "PaymentFailed"
	EventTypePaymentTimedOut  = "PaymentTimedOut"
	EventTypePaymentCancelled = "PaymentCancelled"
)

// PaymentResult 是支付结果事件的统一载荷。
// AggregateID 取 orderNo，保证单个订单的支付事件在分区内有序。
type PaymentResult struct {
	OrderNo    string    `json:"orderNo"`
	PaymentNo  string    `json:"paymentNo"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
