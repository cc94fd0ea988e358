// internal/service/order/domain/event.go
package domain

import "time"

// 订单侧领域事件类型，写入发件箱后由 Dispatcher 发布。
const (
	EventTypeOrderCreated   = "OrderCreated"
	EventTypeOrderPaid      = "OrderPaid"
	EventTypeOrderShipped   = "OrderShipped"
	EventTypeOrderCompleted = "OrderCompleted"
	EventTypeOrderCancelled = "OrderCancelled"
	EventTypeOrderRefunded  = "OrderRefunded"
)

// OrderCreated 在订单落库为 PENDING_PAYMENT 时发布。
type OrderCreated struct {
	OrderNo       string    `json:"orderNo"`
	UserID        int64     `json:"userId"`
	TotalAmount   int64     `json:"totalAmount"`
	PayableAmount int64     `json:"payableAmount"`
	PaymentDueBy  time.Time `json:"paymentDueBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OrderPaid 在订单进入 PAID 时发布，积分/物流等下游据此动作。
type OrderPaid struct {
	OrderNo       string    `json:"orderNo"`
	UserID        int64     `json:"userId"`
	PayableAmount int64     `json:"payableAmount"`
	PaymentNo     string    `json:"paymentNo"`
	PaidAt        time.Time `json:"paidAt"`
}

// OrderShipped 在订单发货时发布。
type OrderShipped struct {
	OrderNo    string    `json:"orderNo"`
	UserID     int64     `json:"userId"`
	TrackingNo string    `json:"trackingNo"`
	ShippedAt  time.Time `json:"shippedAt"`
}

// OrderCompleted 在订单完成时发布。
type OrderCompleted struct {
	OrderNo     string    `json:"orderNo"`
	UserID      int64     `json:"userId"`
	CompletedAt time.Time `json:"completedAt"`
}

// OrderCancelled 在订单取消时发布；Reason 区分用户取消与超时取消。
type OrderCancelled struct {
	OrderNo     string    `json:"orderNo"`
	UserID      int64     `json:"userId"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// OrderRefunded 在退款/退货确认后发布，积分服务据此回滚已发积分。
type OrderRefunded struct {
	OrderNo      string    `json:"orderNo"`
	UserID       int64     `json:"userId"`
	RefundAmount int64     `json:"refundAmount"`
	RefundedAt   time.Time `json:"refundedAt"`
}
