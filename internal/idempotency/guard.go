// internal/idempotency/guard.go

// Package idempotency 实现并发与幂等守卫：
// 外部触发（支付回调、用户取消、超时检查）对同一实体的状态修改
// 最多生效一次，且同一实体上的并发触发串行化而不是竞争。
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meridian/internal/pkg/lock"
	"meridian/internal/pkg/logger"
)

var lockTimeoutCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guard_lock_timeout_total",
	Help: "Guarded operations that could not acquire the entity lock in time.",
})

// TriggerStore 记录已处理的触发键及其结果。
type TriggerStore interface {
	// Get 返回 triggerKey 之前记录的结果；未处理过返回 (nil, false)。
	Get(ctx context.Context, triggerKey string) ([]byte, bool, error)

	// PutNX 仅在 triggerKey 未被记录时写入结果，返回是否写入成功。
	PutNX(ctx context.Context, triggerKey string, result []byte, ttl time.Duration) (bool, error)
}

// Policy 控制锁的获取与触发记录的保留。
type Policy struct {
	LockTTL       time.Duration // 必须大于受保护操作的预期耗时
	LockWait      time.Duration // 超过后返回 ErrLockTimeout
	LockRetry     time.Duration // 抢锁失败后的重试间隔
	TriggerTTL    time.Duration // 触发记录保留时长，覆盖网关重试窗口
}

// DefaultPolicy 返回默认守卫策略。
func DefaultPolicy() Policy {
	return Policy{
		LockTTL:    30 * time.Second,
		LockWait:   3 * time.Second,
		LockRetry:  50 * time.Millisecond,
		TriggerTTL: 24 * time.Hour,
	}
}

// Guard 把分布式锁和触发去重组合成一个入口。
type Guard struct {
	locker   lock.Locker
	triggers TriggerStore
	policy   Policy
}

// NewGuard 创建守卫。
func NewGuard(locker lock.Locker, triggers TriggerStore, policy Policy) *Guard {
	return &Guard{locker: locker, triggers: triggers, policy: policy}
}

// Do 在 entityKey 的互斥锁内执行 fn，并以 triggerKey 去重。
//
//   - triggerKey 已被记录：直接返回首次记录的结果和 ErrDuplicateTrigger，
//     不再调用 fn。对幂等调用方这是一条成功路径，不是错误。
//   - 在 LockWait 内抢不到锁：返回 ErrLockTimeout，调用方应退避重试。
//   - fn 成功：结果以 JSON 形式记录到 TriggerStore 后返回。
//
// 锁在所有退出路径上都会释放；进程崩溃时由 TTL 兜底。
func (g *Guard) Do(ctx context.Context, entityKey, triggerKey string, fn func(ctx context.Context) (interface{}, error)) ([]byte, error) {
	// 锁外先查一次，绝大多数重放回调在这里就被短路掉
	if recorded, ok, err := g.triggers.Get(ctx, triggerKey); err != nil {
		return nil, err
	} else if ok {
		return recorded, ErrDuplicateTrigger
	}

	holder := uuid.New().String()
	acquired, err := g.acquire(ctx, entityKey, holder)
	if err != nil {
		return nil, err
	}
	if !acquired {
		lockTimeoutCounter.Inc()
		return nil, &LockTimeoutError{EntityKey: entityKey, Waited: g.policy.LockWait}
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := g.locker.Unlock(unlockCtx, entityKey, holder); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("entity", entityKey).Msg("failed to release guard lock")
		}
	}()

	// 持锁后二次校验：并发触发可能在我们等锁期间已经处理完
	if recorded, ok, err := g.triggers.Get(ctx, triggerKey); err != nil {
		return nil, err
	} else if ok {
		return recorded, ErrDuplicateTrigger
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if _, err := g.triggers.PutNX(ctx, triggerKey, encoded, g.policy.TriggerTTL); err != nil {
		// 记录失败不回滚业务结果：最坏情况是下一次重放多执行一遍
		// 幂等的 fn，状态不会二次变更
		logger.Ctx(ctx).Error().Err(err).Str("trigger", triggerKey).Msg("failed to record processed trigger")
	}
	return encoded, nil
}

func (g *Guard) acquire(ctx context.Context, entityKey, holder string) (bool, error) {
	deadline := time.Now().Add(g.policy.LockWait)
	for {
		ok, err := g.locker.TryLock(ctx, entityKey, holder, g.policy.LockTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		timer := time.NewTimer(g.policy.LockRetry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}
