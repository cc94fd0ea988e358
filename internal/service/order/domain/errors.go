// internal/service/order/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStaleOrder 表示乐观锁版本冲突：持锁者之外有人动了这一行。
	// 正常情况下 Guard 已经串行化了写入，出现该错误说明有旁路写。
	ErrStaleOrder = errors.New("order version conflict")
)

// UnknownCodeError 表示边界上收到了不认识的状态/事件编码。
type UnknownCodeError struct {
	Kind string
	Code string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown %s code: %q", e.Kind, e.Code)
}
