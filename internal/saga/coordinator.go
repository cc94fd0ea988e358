// internal/saga/coordinator.go
package saga

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meridian/internal/pkg/logger"
)

var (
	stepCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_steps_total",
		Help: "Saga step executions by outcome.",
	}, []string{"step", "outcome"})

	reconciliationCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_reconciliation_required_total",
		Help: "Sagas whose compensation exhausted retries and need manual reconciliation.",
	})
)

// Coordinator 按声明顺序执行步骤并在失败时逆序补偿。
type Coordinator struct {
	store  Store
	policy Policy
	tracer trace.Tracer
	// sleep 可注入，测试里替换掉真实退避等待
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator 创建协调器。
func NewCoordinator(store Store, policy Policy, tracer trace.Tracer) *Coordinator {
	return &Coordinator{
		store:  store,
		policy: policy,
		tracer: tracer,
		sleep:  sleepCtx,
	}
}

// Run 执行一个 saga。
//
// sagaID 是整个 saga 的幂等键：带着同一个 sagaID 重入（崩溃恢复、
// 消息重投）会跳过所有已 DONE 的步骤，从第一个未完成的步骤继续。
// 任一步骤失败时，已 DONE 的步骤按逆序补偿并标记 COMPENSATED；
// 补偿重试耗尽则把该步骤标记 FAILED 并返回 ErrReconciliationRequired。
func (c *Coordinator) Run(ctx context.Context, sagaID string, steps []Step) error {
	ctx, span := c.tracer.Start(ctx, "saga.Run", trace.WithAttributes(
		attribute.String("saga.id", sagaID),
		attribute.Int("saga.steps", len(steps)),
	))
	defer span.End()

	records, err := c.store.Load(ctx, sagaID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	done := make(map[int]bool, len(records))
	for _, rec := range records {
		if rec.Status == StepDone {
			done[rec.Seq] = true
		}
	}

	for i, step := range steps {
		if done[i] {
			// 崩溃恢复：该步骤上一轮已经完成，幂等跳过
			logger.Ctx(ctx).Info().Str("saga_id", sagaID).Str("step", step.Name).Msg("step already done, skipping")
			span.AddEvent("step skipped: " + step.Name)
			continue
		}

		if err := c.runStep(ctx, sagaID, i, step); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "saga step failed")
			stepCounter.WithLabelValues(step.Name, "failed").Inc()

			if compErr := c.compensate(ctx, sagaID, steps, i, done); compErr != nil {
				return compErr
			}
			return &StepError{SagaID: sagaID, Step: step.Name, Err: err}
		}

		stepCounter.WithLabelValues(step.Name, "done").Inc()
		done[i] = true
		// 先落 DONE 再进入下一步，保证崩溃后能准确续跑
		if err := c.store.Save(ctx, StepRecord{
			SagaID: sagaID, Name: step.Name, Seq: i,
			Status: StepDone, Payload: step.Payload, UpdatedAt: time.Now(),
		}); err != nil {
			span.RecordError(err)
			return err
		}
	}

	span.AddEvent("saga completed")
	return nil
}

func (c *Coordinator) runStep(ctx context.Context, sagaID string, seq int, step Step) error {
	ctx, span := c.tracer.Start(ctx, "saga.step."+step.Name)
	defer span.End()
	return step.Action(ctx)
}

// compensate 对 [0, failedIdx) 中已 DONE 的步骤按逆序执行补偿。
func (c *Coordinator) compensate(ctx context.Context, sagaID string, steps []Step, failedIdx int, done map[int]bool) error {
	ctx, span := c.tracer.Start(ctx, "saga.Compensate", trace.WithAttributes(
		attribute.String("saga.id", sagaID),
	))
	defer span.End()

	logger.Ctx(ctx).Warn().Str("saga_id", sagaID).Int("failed_step", failedIdx).
		Msg("executing reverse-order compensation")

	for i := failedIdx - 1; i >= 0; i-- {
		if !done[i] {
			continue
		}
		step := steps[i]
		if step.Compensate == nil {
			continue
		}

		if err := c.compensateWithRetry(ctx, sagaID, i, step); err != nil {
			// 补偿失败是严重事件：标记 FAILED 并升级为人工对账
			reconciliationCounter.Inc()
			span.SetStatus(codes.Error, "compensation exhausted retries")
			_ = c.store.Save(ctx, StepRecord{
				SagaID: sagaID, Name: step.Name, Seq: i,
				Status: StepFailed, Reason: err.Error(),
				Payload: step.Payload, UpdatedAt: time.Now(),
			})
			logger.Ctx(ctx).Error().Err(err).Str("saga_id", sagaID).Str("step", step.Name).
				Msg("compensation failed after retries, manual reconciliation required")
			return ErrReconciliationRequired
		}

		stepCounter.WithLabelValues(step.Name, "compensated").Inc()
		if err := c.store.Save(ctx, StepRecord{
			SagaID: sagaID, Name: step.Name, Seq: i,
			Status: StepCompensated, Payload: step.Payload, UpdatedAt: time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) compensateWithRetry(ctx context.Context, sagaID string, seq int, step Step) error {
	var lastErr error
	for attempt := 0; attempt < c.policy.CompensateAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.policy.backoff(attempt-1)); err != nil {
				return err
			}
		}
		ctx, span := c.tracer.Start(ctx, "saga.compensation."+step.Name, trace.WithAttributes(
			attribute.Int("attempt", attempt),
		))
		lastErr = step.Compensate(ctx)
		if lastErr == nil {
			span.End()
			return nil
		}
		span.RecordError(lastErr)
		span.End()
		logger.Ctx(ctx).Warn().Err(lastErr).Str("saga_id", sagaID).Str("step", step.Name).
			Int("attempt", attempt+1).Msg("compensation attempt failed")
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
