// internal/service/order/port/scheduler.go
package port

import (
	"context"
	"time"
)

// DelayScheduler 是延迟任务调度的出站端口。
// 实现方把任务投进延迟队列，到期后由调度器转发到真实主题。
type DelayScheduler interface {
	// SchedulePaymentTimeout 调度一次支付超时检查，dueAt 为检查时间。
	SchedulePaymentTimeout(ctx context.Context, orderNo, paymentNo string, dueAt time.Time) error
}
