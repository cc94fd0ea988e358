// internal/service/payment/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrStalePayment 表示乐观锁版本冲突。
	ErrStalePayment = errors.New("payment version conflict")

	// ErrOrderAlreadyPaid 表示该订单已有一笔 SUCCESS 支付单，
	// 不允许出现第二笔。
	ErrOrderAlreadyPaid = errors.New("order already has a successful payment")
)

// UnknownCodeError 表示边界上收到了不认识的状态/事件编码。
type UnknownCodeError struct {
	Kind string
	Code string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown %s code: %q", e.Kind, e.Code)
}
