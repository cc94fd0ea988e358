// internal/idempotency/errors.go
package idempotency

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateTrigger 是信息性短路：触发已处理过，
	// 同时会返回首次处理的结果。不应作为错误暴露给最终用户。
	ErrDuplicateTrigger = errors.New("duplicate trigger")

	// ErrLockTimeout 是瞬时错误，调用方应退避后重试，而非视为永久失败。
	ErrLockTimeout = errors.New("lock timeout")
)

// LockTimeoutError 携带等待详情的锁超时错误。
type LockTimeoutError struct {
	EntityKey string
	Waited    time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock on %s within %v", e.EntityKey, e.Waited)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}
