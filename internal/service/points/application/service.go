// internal/service/points/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meridian/internal/pkg/logger"
	"meridian/internal/service/points/domain"
)

// LevelProvider 查询用户会员等级，发放倍率依赖它。
type LevelProvider interface {
	Level(ctx context.Context, userID int64) (int64, error)
}

// StaticLevelProvider 返回固定等级，本地与测试用。
type StaticLevelProvider int64

func (p StaticLevelProvider) Level(context.Context, int64) (int64, error) { return int64(p), nil }

// PointsApplicationService 消费订单事件维护积分账户。
// 幂等靠流水表上 event_id 的唯一索引：同一事件重放只会产生一条流水。
type PointsApplicationService struct {
	repo   domain.AccountRepository
	rule   *EarnRule
	levels LevelProvider
	tracer trace.Tracer

	now func() time.Time
}

func NewPointsApplicationService(repo domain.AccountRepository, rule *EarnRule, levels LevelProvider, tracer trace.Tracer) *PointsApplicationService {
	return &PointsApplicationService{repo: repo, rule: rule, levels: levels, tracer: tracer, now: time.Now}
}

// HandleOrderPaid 为支付成功的订单发放积分。
func (s *PointsApplicationService) HandleOrderPaid(ctx context.Context, eventID string, userID int64, orderNo string, payableAmount int64) error {
	ctx, span := s.tracer.Start(ctx, "app.EarnPoints", trace.WithAttributes(
		attribute.String("order.no", orderNo),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	level, err := s.levels.Level(ctx, userID)
	if err != nil {
		// 等级查不到按无倍率发放，不让积分卡住订单流
		logger.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("failed to resolve member level, defaulting to 0")
		level = 0
	}

	points, err := s.rule.Points(payableAmount, level)
	if err != nil {
		return err
	}
	if points == 0 {
		return nil
	}

	err = s.repo.Apply(ctx, &domain.Transaction{
		EventID:     eventID,
		UserID:      userID,
		OrderNo:     orderNo,
		Type:        domain.TxnEarn,
		Points:      points,
		CreatedTime: s.now(),
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		logger.Ctx(ctx).Info().Str("event_id", eventID).Msg("points already granted for event")
		return nil
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int64("points.granted", points))
	logger.Ctx(ctx).Info().Int64("user_id", userID).Str("order_no", orderNo).Int64("points", points).Msg("points granted")
	return nil
}

// HandleOrderReversed 在订单退款/取消时回收已发积分。
// 没发过积分的订单是 no-op；余额可以被扣成负数，下次发放抵销，
// 保证账面与订单终态一致。
func (s *PointsApplicationService) HandleOrderReversed(ctx context.Context, eventID string, userID int64, orderNo string) error {
	ctx, span := s.tracer.Start(ctx, "app.RollbackPoints", trace.WithAttributes(
		attribute.String("order.no", orderNo),
	))
	defer span.End()

	txns, err := s.repo.FindTransactionsByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	var granted int64
	for _, t := range txns {
		granted += t.Points
	}
	if granted <= 0 {
		return nil
	}

	err = s.repo.Apply(ctx, &domain.Transaction{
		EventID:     eventID,
		UserID:      userID,
		OrderNo:     orderNo,
		Type:        domain.TxnRollback,
		Points:      -granted,
		CreatedTime: s.now(),
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		logger.Ctx(ctx).Info().Str("event_id", eventID).Msg("points already rolled back for event")
		return nil
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int64("points.rolled_back", granted))
	logger.Ctx(ctx).Info().Int64("user_id", userID).Str("order_no", orderNo).Int64("points", granted).Msg("points rolled back")
	return nil
}

// GetAccount 查询积分账户（只读）。
func (s *PointsApplicationService) GetAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	return s.repo.FindAccount(ctx, userID)
}
