// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"time"
)

// Receiver 是下单时的收货信息快照。
type Receiver struct {
	Name    string
	Phone   string
	Address string
}

// Order 是订单聚合根。金额统一用最小货币单位（分）的整数，
// 避免浮点运算误差。
type Order struct {
	ID            int64
	OrderNo       string // 业务唯一键
	UserID        int64
	TotalAmount   int64 // 商品总额（分）
	PayableAmount int64 // 实付金额（分），扣除积分/优惠后
	Status        Status
	PaymentMethod string
	Receiver      Receiver
	Items         []Item // 下单时的商品快照，创建后不可变

	CreatedTime time.Time
	PayTime     *time.Time
	ShipTime    *time.Time
	FinishTime  *time.Time
	CancelTime  *time.Time

	// Version 用于乐观锁；Deleted 是软删标记，订单永不物理删除
	Version int64
	Deleted bool
}

// Item 是订单行，下单时按 SKU 快照价格与数量。
type Item struct {
	SkuID    int64  `json:"skuId"`
	SkuName  string `json:"skuName"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// NewOrder 是订单工厂函数，在创建时校验核心不变式。
func NewOrder(orderNo string, userID int64, totalAmount, payableAmount int64, paymentMethod string, receiver Receiver, items []Item, now time.Time) (*Order, error) {
	if orderNo == "" || userID <= 0 {
		return nil, errors.New("cannot create order with empty order no or user id")
	}
	if totalAmount <= 0 {
		return nil, errors.New("order total amount must be positive")
	}
	if payableAmount < 0 || payableAmount > totalAmount {
		return nil, errors.New("payable amount must be within [0, total amount]")
	}
	if len(items) == 0 {
		return nil, errors.New("order must contain at least one item")
	}
	return &Order{
		OrderNo:       orderNo,
		UserID:        userID,
		TotalAmount:   totalAmount,
		PayableAmount: payableAmount,
		Status:        StatusPendingPayment,
		PaymentMethod: paymentMethod,
		Receiver:      receiver,
		Items:         items,
		CreatedTime:   now,
	}, nil
}

// Transition 通过状态迁移引擎推进订单，并盖上对应的业务时间戳。
// 只改内存中的聚合，持久化（状态 + 流转日志 + 发件箱事件在同一
// 事务）由仓储完成。返回迁移前的状态供审计日志使用。
func (o *Order) Transition(event Event, now time.Time) (Status, error) {
	from := o.Status
	next, err := Apply(o.Status, event)
	if err != nil {
		return from, err
	}

	o.Status = next
	switch next {
	case StatusPaid:
		o.PayTime = &now
	case StatusShipped:
		o.ShipTime = &now
	case StatusCompleted:
		o.FinishTime = &now
	case StatusCancelled:
		o.CancelTime = &now
	case StatusRefunded:
		o.FinishTime = &now
	}
	return from, nil
}
