// internal/saga/saga.go

// Package saga 实现带持久化步骤记录的补偿协调器（TCC 风格）。
// 一个 saga 是一组跨服务的有序步骤；每个步骤执行成功后立即落库 DONE，
// 失败时按严格逆序执行已完成步骤的补偿。崩溃后用同一个 sagaID 重入，
// 会从第一个非 DONE 的步骤继续。
package saga

import (
	"context"
	"encoding/json"
	"time"
)

// StepStatus 是单个步骤记录的状态。
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepDone        StepStatus = "DONE"
	StepCompensated StepStatus = "COMPENSATED"
	StepFailed      StepStatus = "FAILED"
)

// Step 声明一个业务步骤及其补偿操作。
// Action 要求幂等：调用方在动作内部先检查前置条件（例如"已预占"），
// 重复调用不产生重复副作用。Compensate 为 nil 表示该步骤无需补偿。
//
// Payload 是该步骤输入的 JSON 快照，会随步骤记录一起落库：
// 补偿升级为人工对账时，对账方能直接从记录还原步骤入参。
type Step struct {
	Name       string
	Payload    json.RawMessage
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepRecord 是落库的补偿步骤记录。
type StepRecord struct {
	SagaID    string
	Name      string
	Seq       int
	Status    StepStatus
	Reason    string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Store 是步骤记录的持久化端口。
type Store interface {
	// Load 返回一个 saga 的全部步骤记录，按 Seq 升序。
	Load(ctx context.Context, sagaID string) ([]StepRecord, error)

	// Save 按 (sagaID, seq) 幂等地写入/更新一条记录。
	Save(ctx context.Context, rec StepRecord) error
}

// Policy 控制补偿失败时的重试行为。
// 具体次数与退避曲线是可配置策略，不是固定契约。
type Policy struct {
	CompensateAttempts int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
}

// DefaultPolicy 返回默认策略：3 次尝试，200ms 起步指数退避。
func DefaultPolicy() Policy {
	return Policy{
		CompensateAttempts: 3,
		BackoffBase:        200 * time.Millisecond,
		BackoffMax:         5 * time.Second,
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	d := p.BackoffBase << uint(attempt)
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
