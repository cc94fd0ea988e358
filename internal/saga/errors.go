// internal/saga/errors.go
package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrReconciliationRequired 表示补偿本身也失败了，
	// saga 已标记 FAILED，需要人工对账介入，绝不静默丢弃。
	ErrReconciliationRequired = errors.New("saga reconciliation required")
)

// StepError 表示某个步骤的动作执行失败，已触发逆序补偿。
type StepError struct {
	SagaID string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga %s step %s failed: %v", e.SagaID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
