// internal/service/payment/domain/repository.go
package domain

import (
	"context"
	"time"

	"meridian/internal/outbox"
)

// PaymentRepository 定义了支付单聚合的持久化接口。
// Create / Update 把支付单、流转日志与发件箱事件放进同一个数据库事务。
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment, log *StateLog, events ...*outbox.Event) error

	// Update 带乐观锁地保存支付单变更。版本冲突返回 ErrStalePayment。
	Update(ctx context.Context, payment *Payment, log *StateLog, events ...*outbox.Event) error

	FindByPaymentNo(ctx context.Context, paymentNo string) (*Payment, error)

	// FindOpenByOrderNo 返回订单当前未出结果的支付单（PENDING 或
	// PROCESSING），没有时返回 ErrPaymentNotFound。
	FindOpenByOrderNo(ctx context.Context, orderNo string) (*Payment, error)

	// FindSettledByOrderNo 返回订单的胜出支付单（SUCCESS / REFUNDING /
	// REFUNDED / PARTIAL_REFUNDED 之一），用于退款与单笔成功约束检查。
	FindSettledByOrderNo(ctx context.Context, orderNo string) (*Payment, error)

	// FindExpiredOpen 返回在 now 之前就该超时的未出结果支付单，
	// 兜底扫描用，按创建时间升序最多 limit 条。
	FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]*Payment, error)

	// FindLogs 返回支付单的全部流转日志，按写入顺序。
	FindLogs(ctx context.Context, paymentNo string) ([]*StateLog, error)
}
