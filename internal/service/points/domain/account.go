// internal/service/points/domain/account.go
package domain

import (
	"errors"
	"time"
)

// Account 是用户积分账户。
type Account struct {
	ID          int64
	UserID      int64
	Balance     int64 // 当前可用积分
	TotalEarned int64 // 历史累计获得
	UpdatedTime time.Time
}

// TxnType 标记一笔积分流水的方向。
type TxnType string

const (
	TxnEarn     TxnType = "EARN"     // 订单支付成功发放
	TxnRollback TxnType = "ROLLBACK" // 订单退款/取消回收
)

// Transaction 是积分流水，EventID 上有唯一索引：
// 同一个领域事件最多产生一条流水，这是消费侧幂等的事实来源。
type Transaction struct {
	ID          int64
	EventID     string
	UserID      int64
	OrderNo     string
	Type        TxnType
	Points      int64 // EARN 为正，ROLLBACK 为负
	CreatedTime time.Time
}

var (
	ErrAccountNotFound = errors.New("points account not found")

	// ErrDuplicateEvent 表示该事件已经记过一笔流水。
	ErrDuplicateEvent = errors.New("points event already processed")
)
