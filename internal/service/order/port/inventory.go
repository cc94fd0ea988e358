// internal/service/order/port/inventory.go
package port

import "context"

// InventoryService 是库存服务的出站端口。
// 所有操作以 orderNo 作为引用号，库存侧按引用号幂等：
// 同一个 orderNo 重复调用不会重复扣减或重复释放。
type InventoryService interface {
	// Reserve 为订单预占库存。
	Reserve(ctx context.Context, orderNo string, items map[int64]int) error

	// Release 是 Reserve 的补偿操作，释放预占。
	Release(ctx context.Context, orderNo string) error

	// Confirm 在支付成功后把预占转为实扣。
	Confirm(ctx context.Context, orderNo string) error
}
