// internal/service/points/domain/repository.go
package domain

import "context"

// AccountRepository 定义了积分账户与流水的持久化接口。
type AccountRepository interface {
	// Apply 在同一个事务里写入流水并调整账户余额。
	// 同一 EventID 的重复调用返回 ErrDuplicateEvent，余额不变。
	Apply(ctx context.Context, txn *Transaction) error

	FindAccount(ctx context.Context, userID int64) (*Account, error)

	// FindTransactionsByOrderNo 返回订单产生的全部积分流水。
	FindTransactionsByOrderNo(ctx context.Context, orderNo string) ([]*Transaction, error)
}
