// internal/pkg/constants/constants.go
package constants

// 服务名，用于 Nacos 注册与发现。
const (
	OrderService     = "order-service"
	PaymentService   = "payment-service"
	InventoryService = "inventory-service"
	LogisticsService = "logistics-service"
	PointsService    = "points-service"
	PushGateway      = "push-gateway"
	DelayScheduler   = "delay-scheduler"
)

// HTTP 路径。
const (
	InventoryReservePath = "/api/inventory/reserve"
	InventoryReleasePath = "/api/inventory/release"
	InventoryConfirmPath = "/api/inventory/confirm"

	PaymentCreatePath = "/api/payments/create"
	PaymentCancelPath = "/api/payments/cancel"
	PaymentRefundPath = "/api/payments/refund"

	LogisticsShipmentPath = "/api/shipments/create"
)

// Kafka 主题。
const (
	// TopicOrderEvents 承载订单侧领域事件，按 orderNo 分区保序。
	TopicOrderEvents = "order-events"
	// TopicPaymentEvents 承载支付结果事件，订单服务消费。
	TopicPaymentEvents = "payment-events"
	// TopicNotifications 面向用户的通知，推送网关消费。
	TopicNotifications = "notifications"
	// TopicPaymentTimeoutCheck 支付超时检查任务，到期后由延迟调度器转发至此。
	TopicPaymentTimeoutCheck = "payment-timeout-check"
	// TopicDelay30m 延迟队列主题，消息头 real-topic 指定到期后的目标主题。
	TopicDelay30m = "delay_topic_30m"
)

// Kafka 消息头。
const (
	HeaderRealTopic      = "real-topic"
	HeaderDelayTimestamp = "delay-timestamp"
)

// 消费组。
const (
	GroupOrderPaymentEvents = "order-service.payment-events"
	GroupPointsOrderEvents  = "points-service.order-events"
	GroupPushNotifications  = "push-gateway.notifications"
	GroupPaymentTimeout     = "payment-service.timeout-check"
	GroupDelayScheduler     = "delay-scheduler.delay-30m"
)
