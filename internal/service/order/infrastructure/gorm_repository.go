// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"meridian/internal/outbox"
	"meridian/internal/service/order/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
// 订单行、流转日志、发件箱事件在同一个事务里提交。
type GormOrderRepository struct {
	db     *gorm.DB
	writer *outbox.Writer
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例。
func NewGormOrderRepository(db *gorm.DB, writer *outbox.Writer) *GormOrderRepository {
	return &GormOrderRepository{db: db, writer: writer}
}

// AutoMigrate 建表，开发与测试环境用。
func (r *GormOrderRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&OrderModel{}, &StateLogModel{}, &outbox.Event{})
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order, log *domain.StateLog, events ...*outbox.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toOrderModel(order)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		order.ID = model.ID
		if err := tx.Create(toStateLogModel(log)).Error; err != nil {
			return err
		}
		return r.writer.Record(tx, events...)
	})
}

func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order, log *domain.StateLog, events ...*outbox.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toOrderModel(order)
		model.Version = order.Version + 1

		// WHERE version = ? 是乐观锁：并发写者里只有一个能命中
		res := tx.Model(&OrderModel{}).
			Where("order_no = ? AND version = ? AND deleted = false", order.OrderNo, order.Version).
			Updates(map[string]interface{}{
				"status":      model.Status,
				"pay_time":    model.PayTime,
				"ship_time":   model.ShipTime,
				"finish_time": model.FinishTime,
				"cancel_time": model.CancelTime,
				"version":     model.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrStaleOrder
		}
		order.Version = model.Version

		if err := tx.Create(toStateLogModel(log)).Error; err != nil {
			return err
		}
		return r.writer.Record(tx, events...)
	})
}

func (r *GormOrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND deleted = false", orderNo).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindLogs(ctx context.Context, orderNo string) ([]*domain.StateLog, error) {
	var models []*StateLogModel
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("id asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	logs := make([]*domain.StateLog, 0, len(models))
	for _, m := range models {
		logs = append(logs, toDomainStateLog(m))
	}
	return logs, nil
}
