// internal/fsm/errors.go
package fsm

import (
	"errors"
	"fmt"
)

// 哨兵错误，供调用方用 errors.Is 分类。
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrAlreadyInState    = errors.New("already in state")
)

// IllegalTransitionError 表示当前状态下不存在该事件的迁移。
// 必须上抛给调用方记录并拒绝，不允许自动重试。
type IllegalTransitionError struct {
	From  string
	Event string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %s is not allowed in state %s", e.Event, e.From)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// AlreadyInStateError 表示实体已经处于该事件的目标状态，
// 这是重复触发的信号，幂等调用方应视为成功。
type AlreadyInStateError struct {
	State string
	Event string
}

func (e *AlreadyInStateError) Error() string {
	return fmt.Sprintf("entity already in state %s, duplicate event %s", e.State, e.Event)
}

func (e *AlreadyInStateError) Is(target error) bool {
	return target == ErrAlreadyInState
}
