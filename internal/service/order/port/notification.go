// internal/service/order/port/notification.go
package port

import "context"

// NotificationProducer 是面向用户通知的出站端口，
// 推送网关消费这些消息并经 WebSocket 下发。
type NotificationProducer interface {
	// OrderStatusChanged 通知用户订单状态变化。
	OrderStatusChanged(ctx context.Context, userID int64, orderNo, status, message string) error
}
