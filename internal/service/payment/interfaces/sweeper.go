// internal/service/payment/interfaces/sweeper.go
package interfaces

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"meridian/internal/pkg/logger"
	"meridian/internal/service/payment/application"
)

var sweptPayments = promauto.NewCounter(prometheus.CounterOpts{
	Name: "payment_sweeper_closed_total",
	Help: "Number of expired pending payments closed by the fallback sweeper.",
})

// Sweeper 是支付超时的兜底扫描：周期性捞出延迟消息漏掉的
// 过期待支付单并关单。延迟队列是第一道防线，这里是第二道。
type Sweeper struct {
	cron      *cron.Cron
	appSvc    *application.PaymentApplicationService
	spec      string
	batchSize int
}

// NewSweeper 创建兜底扫描器。spec 是 cron 表达式，如 "@every 1m"。
func NewSweeper(appSvc *application.PaymentApplicationService, spec string, batchSize int) *Sweeper {
	if spec == "" {
		spec = "@every 1m"
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sweeper{cron: cron.New(), appSvc: appSvc, spec: spec, batchSize: batchSize}
}

// Start 注册任务并启动调度。
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		closed, err := s.appSvc.SweepExpired(ctx, s.batchSize)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("payment sweep failed")
			return
		}
		if closed > 0 {
			sweptPayments.Add(float64(closed))
			logger.Ctx(ctx).Info().Int("closed", closed).Msg("payment sweep closed expired payments")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Ctx(ctx).Info().Str("spec", s.spec).Msg("payment timeout sweeper started")
	return nil
}

// Stop 停止调度并等待在跑的任务结束。
func (s *Sweeper) Stop(ctx context.Context) {
	<-s.cron.Stop().Done()
	logger.Ctx(ctx).Info().Msg("payment timeout sweeper stopped")
}
