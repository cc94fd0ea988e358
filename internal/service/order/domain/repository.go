// internal/service/order/domain/repository.go
package domain

import (
	"context"

	"meridian/internal/outbox"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 位于领域层，由基础设施层实现。
//
// Create / Update 必须把订单行、流转日志、发件箱事件放进同一个
// 数据库事务：要么全部提交，要么全部回滚。这是发件箱模式的前提。
type OrderRepository interface {
	// Create 持久化新订单及其首条日志与事件。
	Create(ctx context.Context, order *Order, log *StateLog, events ...*outbox.Event) error

	// Update 带乐观锁地保存订单变更，并追加日志与事件。
	// 版本冲突返回 ErrStaleOrder。
	Update(ctx context.Context, order *Order, log *StateLog, events ...*outbox.Event) error

	// FindByOrderNo 按业务键查找订单，软删的订单视为不存在。
	FindByOrderNo(ctx context.Context, orderNo string) (*Order, error)

	// FindLogs 返回一个订单的全部流转日志，按时间升序。
	FindLogs(ctx context.Context, orderNo string) ([]*StateLog, error)
}
