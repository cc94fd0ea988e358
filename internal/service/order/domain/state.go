// internal/service/order/domain/state.go
package domain

import "meridian/internal/fsm"

// Status 定义了订单的生命周期状态。
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT" // 已创建，等待用户支付
	StatusPaid           Status = "PAID"            // 已支付
	StatusShipped        Status = "SHIPPED"         // 已发货
	StatusReturning      Status = "RETURNING"       // 退款/退货处理中
	StatusCompleted      Status = "COMPLETED"       // 已完成（终态）
	StatusCancelled      Status = "CANCELLED"       // 已取消（终态，用户主动或系统超时）
	StatusRefunded       Status = "REFUNDED"        // 已退款（终态）
)

// Event 定义了驱动订单状态迁移的事件。
type Event string

const (
	EventPay           Event = "PAY"
	EventShip          Event = "SHIP"
	EventReceive       Event = "RECEIVE"
	EventComplete      Event = "COMPLETE" // 超期未确认收货时系统自动完成
	EventCancel        Event = "CANCEL"
	EventRefund        Event = "REFUND" // 发货前的退款申请
	EventConfirmRefund Event = "CONFIRM_REFUND"
	EventReturn        Event = "RETURN" // 发货后的退货申请
	EventConfirmReturn Event = "CONFIRM_RETURN"

	// EventCreate 不参与状态迁移，仅用于订单创建时的首条审计日志。
	EventCreate Event = "CREATE"
)

// transitions 是订单的状态迁移表，进程启动时固定。
// COMPLETED / CANCELLED / REFUNDED 没有出边，是终态。
var transitions = fsm.NewTable(map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventPay:    StatusPaid,
		EventCancel: StatusCancelled,
	},
	StatusPaid: {
		EventShip:   StatusShipped,
		EventRefund: StatusReturning,
	},
	StatusShipped: {
		EventReceive:  StatusCompleted,
		EventComplete: StatusCompleted,
		EventReturn:   StatusReturning,
	},
	StatusReturning: {
		EventConfirmRefund: StatusRefunded,
		EventConfirmReturn: StatusRefunded,
	},
})

// Apply 是订单的状态迁移引擎入口，纯函数。
// 非法迁移返回 fsm.ErrIllegalTransition；重复事件（目标状态即当前
// 状态）返回 fsm.ErrAlreadyInState，供上层做幂等短路。
func Apply(cur Status, event Event) (Status, error) {
	return transitions.Apply(cur, event)
}

// IsTerminal 判断订单是否已进入终态。
// 终态订单除只读审计外不再允许任何修改。
func IsTerminal(s Status) bool {
	return transitions.IsTerminal(s)
}

var validStatuses = map[Status]bool{
	StatusPendingPayment: true, StatusPaid: true, StatusShipped: true,
	StatusReturning: true, StatusCompleted: true, StatusCancelled: true,
	StatusRefunded: true,
}

var validEvents = map[Event]bool{
	EventPay: true, EventShip: true, EventReceive: true, EventComplete: true,
	EventCancel: true, EventRefund: true, EventConfirmRefund: true,
	EventReturn: true, EventConfirmReturn: true,
}

// ParseStatus 在边界上校验状态码。未知的编码在反序列化时就被拒绝，
// 不允许流进业务逻辑深处。
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !validStatuses[status] {
		return "", &UnknownCodeError{Kind: "order status", Code: s}
	}
	return status, nil
}

// ParseEvent 在边界上校验事件码。
func ParseEvent(s string) (Event, error) {
	event := Event(s)
	if !validEvents[event] {
		return "", &UnknownCodeError{Kind: "order event", Code: s}
	}
	return event, nil
}
