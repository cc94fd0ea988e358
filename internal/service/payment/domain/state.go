// internal/service/payment/domain/state.go
package domain

import "meridian/internal/fsm"

// Status 定义了支付单的生命周期状态。
type Status string

const (
	StatusPending         Status = "PENDING"          // 已创建，等待用户发起支付
	StatusProcessing      Status = "PROCESSING"       // 用户已进入收银台，等待网关回调
	StatusSuccess         Status = "SUCCESS"          // 支付成功
	StatusFailed          Status = "FAILED"           // 网关明确失败（终态）
	StatusCancelled       Status = "CANCELLED"        // 订单侧取消关闭（终态）
	StatusTimeout         Status = "TIMEOUT"          // 超时关单（终态）
	StatusRefunding       Status = "REFUNDING"        // 退款处理中
	StatusRefunded        Status = "REFUNDED"         // 已全额退款（终态）
	StatusPartialRefunded Status = "PARTIAL_REFUNDED" // 已部分退款（终态）
)

// Event 定义了驱动支付单状态迁移的事件。
type Event string

const (
	EventPayProcess       Event = "PAY_PROCESS" // 用户拉起收银台
	EventPaySuccess       Event = "PAY_SUCCESS"
	EventPayFail          Event = "PAY_FAIL"
	EventPayTimeout       Event = "PAY_TIMEOUT"
	EventPayCancel        Event = "PAY_CANCEL" // 订单侧取消
	EventPayRefund        Event = "PAY_REFUND"
	EventPayRefundConfirm Event = "PAY_REFUND_CONFIRM"
	EventPayPartialRefund Event = "PAY_PARTIAL_REFUND"

	// EventPayCreate 不参与状态迁移，仅用于支付单创建时的审计。
	EventPayCreate Event = "PAY_CREATE"
)

// transitions 是支付单的状态迁移表。
// FAILED / CANCELLED / TIMEOUT / REFUNDED / PARTIAL_REFUNDED 没有出边，
// 是终态；SUCCESS 只能走退款出边。
var transitions = fsm.NewTable(map[Status]map[Event]Status{
	StatusPending: {
		EventPayProcess: StatusProcessing,
		EventPaySuccess: StatusSuccess, // 回调先于收银台上报到达
		EventPayFail:    StatusFailed,
		EventPayTimeout: StatusTimeout,
		EventPayCancel:  StatusCancelled,
	},
	StatusProcessing: {
		EventPaySuccess: StatusSuccess,
		EventPayFail:    StatusFailed,
		EventPayTimeout: StatusTimeout,
		EventPayCancel:  StatusCancelled,
	},
	StatusSuccess: {
		EventPayRefund: StatusRefunding,
	},
	StatusRefunding: {
		EventPayRefundConfirm: StatusRefunded,
		EventPayPartialRefund: StatusPartialRefunded,
	},
})

// Apply 是支付单的状态迁移引擎入口，纯函数。
func Apply(cur Status, event Event) (Status, error) {
	return transitions.Apply(cur, event)
}

// IsTerminal 判断支付单是否已进入终态。
func IsTerminal(s Status) bool {
	return transitions.IsTerminal(s)
}

var validStatuses = map[Status]bool{
	StatusPending: true, StatusProcessing: true, StatusSuccess: true,
	StatusFailed: true, StatusCancelled: true, StatusTimeout: true,
	StatusRefunding: true, StatusRefunded: true, StatusPartialRefunded: true,
}

var validEvents = map[Event]bool{
	EventPayProcess: true, EventPaySuccess: true, EventPayFail: true,
	EventPayTimeout: true, EventPayCancel: true, EventPayRefund: true,
	EventPayRefundConfirm: true, EventPayPartialRefund: true,
}

// ParseStatus 在边界上校验状态码，未知编码直接拒绝。
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !validStatuses[status] {
		return "", &UnknownCodeError{Kind: "payment status", Code: s}
	}
	return status, nil
}

// ParseEvent 在边界上校验事件码。
func ParseEvent(s string) (Event, error) {
	event := Event(s)
	if !validEvents[event] {
		return "", &UnknownCodeError{Kind: "payment event", Code: s}
	}
	return event, nil
}
