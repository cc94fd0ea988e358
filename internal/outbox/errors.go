// internal/outbox/errors.go
package outbox

import (
	"errors"
	"fmt"
)

// ErrDispatchFailed 仅在 Dispatcher 内部流转：
// 投递失败由后台无限重试，绝不回滚已提交的状态变更，
// 也绝不同步暴露给最初触发状态变更的请求。
var ErrDispatchFailed = errors.New("dispatch failed")

// DispatchFailedError 携带投递失败的详情。
type DispatchFailedError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *DispatchFailedError) Error() string {
	return fmt.Sprintf("dispatch of event %s failed after %d attempts: %v", e.EventID, e.Attempts, e.Err)
}

func (e *DispatchFailedError) Unwrap() error { return e.Err }

func (e *DispatchFailedError) Is(target error) bool {
	return target == ErrDispatchFailed
}
