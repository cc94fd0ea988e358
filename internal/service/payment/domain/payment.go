// internal/service/payment/domain/payment.go
package domain

import (
	"errors"
	"time"
)

// Payment 是支付单聚合根。一个订单可以有多笔支付单（前一笔关闭后
// 可以再创建），但最多只有一笔能进入 SUCCESS。
type Payment struct {
	ID        int64
	PaymentNo string // 业务唯一键
	OrderNo   string
	UserID    int64
	Amount    int64 // 金额（分）
	Method    string
	Status    Status

	// GatewayTxnID 是第三方网关的交易号，成功回调时写入
	GatewayTxnID string
	FailReason   string

	CreatedTime time.Time
	ExpireTime  time.Time // 超过该时间未支付则关单
	ProcessTime *time.Time
	SuccessTime *time.Time
	ClosedTime  *time.Time
	RefundTime  *time.Time

	Version int64
}

// NewPayment 是支付单工厂函数。
func NewPayment(paymentNo, orderNo string, userID, amount int64, method string, now time.Time, expiry time.Duration) (*Payment, error) {
	if paymentNo == "" || orderNo == "" {
		return nil, errors.New("cannot create payment with empty payment no or order no")
	}
	if amount <= 0 {
		return nil, errors.New("payment amount must be positive")
	}
	return &Payment{
		PaymentNo:   paymentNo,
		OrderNo:     orderNo,
		UserID:      userID,
		Amount:      amount,
		Method:      method,
		Status:      StatusPending,
		CreatedTime: now,
		ExpireTime:  now.Add(expiry),
	}, nil
}

// Transition 通过状态迁移引擎推进支付单并盖时间戳，
// 返回迁移前的状态。
func (p *Payment) Transition(event Event, now time.Time) (Status, error) {
	from := p.Status
	next, err := Apply(p.Status, event)
	if err != nil {
		return from, err
	}
	p.Status = next
	switch next {
	case StatusProcessing:
		p.ProcessTime = &now
	case StatusSuccess:
		p.SuccessTime = &now
	case StatusFailed, StatusCancelled, StatusTimeout:
		p.ClosedTime = &now
	case StatusRefunded, StatusPartialRefunded:
		p.RefundTime = &now
	}
	return from, nil
}

// Open 判断支付单是否还在等待支付结果（PENDING 或 PROCESSING）。
func (p *Payment) Open() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

// Expired 判断支付单在 now 时刻是否已超时。
func (p *Payment) Expired(now time.Time) bool {
	return p.Open() && now.After(p.ExpireTime)
}
