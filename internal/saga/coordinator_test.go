// internal/saga/coordinator_test.go
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func newTestCoordinator(store Store, policy Policy) *Coordinator {
	c := NewCoordinator(store, policy, otel.Tracer("saga-test"))
	// 测试里不真等退避
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func step(name string, calls *[]string, actionErr error, compErr error) Step {
	return Step{
		Name: name,
		Action: func(context.Context) error {
			*calls = append(*calls, "action:"+name)
			return actionErr
		},
		Compensate: func(context.Context) error {
			*calls = append(*calls, "comp:"+name)
			return compErr
		},
	}
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, DefaultPolicy())

	var calls []string
	err := c.Run(context.Background(), "saga-1", []Step{
		step("a", &calls, nil, nil),
		step("b", &calls, nil, nil),
		step("c", &calls, nil, nil),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"action:a", "action:b", "action:c"}, calls)

	records, err := store.Load(context.Background(), "saga-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		require.Equal(t, StepDone, rec.Status)
		require.Equal(t, i, rec.Seq)
	}
}

func TestRunResumeSkipsDoneSteps(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, DefaultPolicy())
	ctx := context.Background()

	// 第一轮：b 失败，a 被补偿
	var calls []string
	failErr := errors.New("inventory unavailable")
	err := c.Run(ctx, "saga-2", []Step{
		step("a", &calls, nil, nil),
		step("b", &calls, failErr, nil),
	})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "b", stepErr.Step)
	require.ErrorIs(t, err, failErr)
	require.Equal(t, []string{"action:a", "action:b", "comp:a"}, calls)

	// 第二轮：带同一个 sagaID 重入，a 已标记 COMPENSATED 而非 DONE，
	// 所以 a 会重新执行（Action 本身要求幂等）
	calls = nil
	err = c.Run(ctx, "saga-2", []Step{
		step("a", &calls, nil, nil),
		step("b", &calls, nil, nil),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"action:a", "action:b"}, calls)
}

func TestRunResumeAfterCrash(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	// 模拟崩溃现场：a 已落 DONE，b 从未执行
	require.NoError(t, store.Save(ctx, StepRecord{
		SagaID: "saga-3", Name: "a", Seq: 0, Status: StepDone, UpdatedAt: time.Now(),
	}))

	c := newTestCoordinator(store, DefaultPolicy())
	var calls []string
	err := c.Run(ctx, "saga-3", []Step{
		step("a", &calls, nil, nil),
		step("b", &calls, nil, nil),
	})
	require.NoError(t, err)
	// a 被跳过，只有 b 执行
	require.Equal(t, []string{"action:b"}, calls)
}

// 步骤记录要带上输入快照：对账工具恢复挂掉的 saga 时，
// 只有记录本身能告诉它当时补偿需要哪些参数。
func TestStepRecordsCarryPayload(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, DefaultPolicy())
	ctx := context.Background()

	var calls []string
	a := step("a", &calls, nil, nil)
	a.Payload = json.RawMessage(`{"orderNo":"SO1","quantities":{"101":2}}`)
	b := step("b", &calls, nil, nil)
	b.Payload = json.RawMessage(`{"orderNo":"SO1"}`)

	require.NoError(t, c.Run(ctx, "saga-8", []Step{a, b}))

	records, err := store.Load(ctx, "saga-8")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.JSONEq(t, `{"orderNo":"SO1","quantities":{"101":2}}`, string(records[0].Payload))
	require.JSONEq(t, `{"orderNo":"SO1"}`, string(records[1].Payload))

	// 失败后补偿：重写的记录仍然带着快照
	bad := step("c", &calls, errors.New("boom"), nil)
	require.Error(t, c.Run(ctx, "saga-8", []Step{a, b, bad}))

	records, err = store.Load(ctx, "saga-8")
	require.NoError(t, err)
	for _, rec := range records {
		if rec.Name != "a" {
			continue
		}
		require.Equal(t, StepCompensated, rec.Status)
		require.JSONEq(t, `{"orderNo":"SO1","quantities":{"101":2}}`, string(rec.Payload))
	}
}

func TestCompensationRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, DefaultPolicy())

	var calls []string
	err := c.Run(context.Background(), "saga-4", []Step{
		step("a", &calls, nil, nil),
		step("b", &calls, nil, nil),
		step("c", &calls, errors.New("boom"), nil),
	})
	require.Error(t, err)
	require.Equal(t, []string{
		"action:a", "action:b", "action:c",
		"comp:b", "comp:a",
	}, calls)

	records, _ := store.Load(context.Background(), "saga-4")
	byName := map[string]StepStatus{}
	for _, rec := range records {
		byName[rec.Name] = rec.Status
	}
	require.Equal(t, StepCompensated, byName["a"])
	require.Equal(t, StepCompensated, byName["b"])
}

func TestCompensationRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	policy := Policy{CompensateAttempts: 3, BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}
	c := NewCoordinator(store, policy, otel.Tracer("saga-test"))

	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	compCalls := 0
	steps := []Step{
		{
			Name:   "a",
			Action: func(context.Context) error { return nil },
			Compensate: func(context.Context) error {
				compCalls++
				if compCalls < 3 {
					return errors.New("transient")
				}
				return nil
			},
		},
		{
			Name:   "b",
			Action: func(context.Context) error { return errors.New("boom") },
		},
	}
	err := c.Run(context.Background(), "saga-5", steps)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 3, compCalls)
	// 指数退避：第二、三次尝试前各等一次
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
}

func TestCompensationExhaustedEscalates(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, Policy{CompensateAttempts: 2, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})

	var calls []string
	err := c.Run(context.Background(), "saga-6", []Step{
		step("a", &calls, nil, errors.New("compensation broken")),
		step("b", &calls, errors.New("boom"), nil),
	})
	require.ErrorIs(t, err, ErrReconciliationRequired)

	// 步骤记录标记 FAILED，留给人工对账
	records, _ := store.Load(context.Background(), "saga-6")
	var found bool
	for _, rec := range records {
		if rec.Name == "a" {
			found = true
			require.Equal(t, StepFailed, rec.Status)
			require.Contains(t, rec.Reason, "compensation broken")
		}
	}
	require.True(t, found)
}

func TestNilCompensateIsSkipped(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	c := newTestCoordinator(store, DefaultPolicy())

	var calls []string
	steps := []Step{
		{
			Name:   "a",
			Action: func(context.Context) error { calls = append(calls, "action:a"); return nil },
			// 纯本地写入不需要补偿
		},
		step("b", &calls, errors.New("boom"), nil),
	}
	err := c.Run(context.Background(), "saga-7", steps)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrReconciliationRequired)
	require.Equal(t, []string{"action:a", "action:b"}, calls)
}

func TestPolicyBackoffCapped(t *testing.T) {
	t.Parallel()

	p := Policy{CompensateAttempts: 10, BackoffBase: 200 * time.Millisecond, BackoffMax: time.Second}
	require.Equal(t, 200*time.Millisecond, p.backoff(0))
	require.Equal(t, 400*time.Millisecond, p.backoff(1))
	require.Equal(t, 800*time.Millisecond, p.backoff(2))
	require.Equal(t, time.Second, p.backoff(3))
	require.Equal(t, time.Second, p.backoff(8))
}
