// internal/outbox/dispatcher.go
package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"meridian/internal/pkg/logger"
)

var (
	dispatchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dispatch_total",
		Help: "Outbox dispatch attempts by outcome.",
	}, []string{"outcome"})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_events",
		Help: "Undispatched outbox events seen in the last poll.",
	})
)

// Publisher 把事件发布到消息代理。
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Policy 控制轮询与重试节奏。
type Policy struct {
	PollInterval   time.Duration
	BatchSize      int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	AlertThreshold int // 投递次数超过该值时打告警日志；事件仍会继续重试
}

// DefaultPolicy 返回默认的投递策略。
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:   500 * time.Millisecond,
		BatchSize:      100,
		BackoffBase:    time.Second,
		BackoffMax:     time.Minute,
		AlertThreshold: 10,
	}
}

func (p Policy) backoff(attempts int) time.Duration {
	d := p.BackoffBase << uint(attempts)
	if d > p.BackoffMax || d <= 0 {
		return p.BackoffMax
	}
	return d
}

// Dispatcher 是单一职责的后台投递循环。
// 崩溃发生在"发布成功、标记之前"时事件会被重投，
// 所以整条链路是至少一次投递，由消费方按 eventId 去重。
type Dispatcher struct {
	store     Store
	publisher Publisher
	policy    Policy
}

// NewDispatcher 创建投递器。
func NewDispatcher(store Store, publisher Publisher, policy Policy) *Dispatcher {
	return &Dispatcher{store: store, publisher: publisher, policy: policy}
}

// Start 在 errgroup 里启动投递循环，ctx 取消后优雅退出。
func (d *Dispatcher) Start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return d.Run(ctx)
	})
}

// Run 阻塞式运行投递循环。
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.policy.PollInterval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Msg("outbox dispatcher started")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("outbox dispatcher shutting down")
			return nil
		case <-ticker.C:
			d.dispatchBatch(ctx)
		}
	}
}

// dispatchBatch 扫描一批未投递事件并发布。
// 按插入顺序处理；发布失败或仍在退避窗口内的事件占住它的聚合，
// 同一聚合的后续事件不得越过它，保证单聚合内的投递顺序。
func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	events, err := d.store.FetchUndispatched(ctx, d.policy.BatchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch undispatched outbox events")
		return
	}
	pendingGauge.Set(float64(len(events)))

	now := time.Now()
	blocked := make(map[string]bool)
	for _, ev := range events {
		if blocked[ev.AggregateID] {
			continue
		}
		if ev.NextAttemptTime.After(now) {
			// 退避未到期，跳过但占住聚合
			blocked[ev.AggregateID] = true
			continue
		}

		if err := d.publisher.Publish(ctx, ev); err != nil {
			dispatchCounter.WithLabelValues("failed").Inc()
			blocked[ev.AggregateID] = true

			next := time.Now().Add(d.policy.backoff(ev.DeliveryAttempts))
			if markErr := d.store.MarkFailed(ctx, ev.ID, next); markErr != nil {
				logger.Ctx(ctx).Error().Err(markErr).Str("event_id", ev.EventID).Msg("failed to record dispatch failure")
			}

			evt := logger.Ctx(ctx).Warn()
			if ev.DeliveryAttempts+1 >= d.policy.AlertThreshold {
				// 超过阈值升级为告警，但事件永远不会被丢弃
				evt = logger.Ctx(ctx).Error()
			}
			evt.Err(&DispatchFailedError{EventID: ev.EventID, Attempts: ev.DeliveryAttempts + 1, Err: err}).
				Str("event_type", ev.EventType).
				Str("aggregate_id", ev.AggregateID).
				Msg("outbox dispatch failed, will retry")
			continue
		}

		dispatchCounter.WithLabelValues("dispatched").Inc()
		if err := d.store.MarkDispatched(ctx, ev.ID, time.Now()); err != nil {
			// 标记失败会导致重投，属于至少一次语义的正常代价
			logger.Ctx(ctx).Error().Err(err).Str("event_id", ev.EventID).Msg("failed to mark event dispatched")
		}
	}
}
