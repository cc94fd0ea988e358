// internal/service/payment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meridian/internal/outbox"
	"meridian/internal/service/payment/domain"
)

// PaymentModel 对应数据库中的 payments 表。
type PaymentModel struct {
	ID           int64         `gorm:"primaryKey;autoIncrement"`
	PaymentNo    string        `gorm:"column:payment_no;type:varchar(64);not null;uniqueIndex"`
	OrderNo      string        `gorm:"column:order_no;type:varchar(64);not null;index"`
	UserID       int64         `gorm:"column:user_id;not null"`
	Amount       int64         `gorm:"column:amount;not null"`
	Method       string        `gorm:"column:method;type:varchar(32)"`
	Status       domain.Status `gorm:"column:status;type:varchar(32);not null;index"`
	GatewayTxnID string        `gorm:"column:gateway_txn_id;type:varchar(128)"`
	FailReason   string        `gorm:"column:fail_reason;type:varchar(255)"`

	CreatedTime time.Time  `gorm:"column:created_time;not null"`
	ExpireTime  time.Time  `gorm:"column:expire_time;not null;index"`
	ProcessTime *time.Time `gorm:"column:process_time"`
	SuccessTime *time.Time `gorm:"column:success_time"`
	ClosedTime  *time.Time `gorm:"column:closed_time"`
	RefundTime  *time.Time `gorm:"column:refund_time"`

	Version int64 `gorm:"column:version;not null;default:0"`
}

func (PaymentModel) TableName() string {
	return "payments"
}

// StateLogModel 对应数据库中的 payment_state_logs 表，只追加。
type StateLogModel struct {
	ID          int64         `gorm:"primaryKey;autoIncrement"`
	PaymentNo   string        `gorm:"column:payment_no;type:varchar(64);not null;index"`
	OrderNo     string        `gorm:"column:order_no;type:varchar(64);not null;index"`
	FromState   domain.Status `gorm:"column:from_state;type:varchar(32)"`
	ToState     domain.Status `gorm:"column:to_state;type:varchar(32);not null"`
	Event       domain.Event  `gorm:"column:event;type:varchar(32);not null"`
	Operator    string        `gorm:"column:operator;type:varchar(64)"`
	Reason      string        `gorm:"column:reason;type:varchar(255)"`
	CreatedTime time.Time     `gorm:"column:created_time;not null"`
}

func (StateLogModel) TableName() string {
	return "payment_state_logs"
}

func toDomainPayment(m *PaymentModel) *domain.Payment {
	return &domain.Payment{
		ID: m.ID, PaymentNo: m.PaymentNo, OrderNo: m.OrderNo, UserID: m.UserID,
		Amount: m.Amount, Method: m.Method, Status: m.Status,
		GatewayTxnID: m.GatewayTxnID, FailReason: m.FailReason,
		CreatedTime: m.CreatedTime, ExpireTime: m.ExpireTime,
		ProcessTime: m.ProcessTime, SuccessTime: m.SuccessTime,
		ClosedTime: m.ClosedTime, RefundTime: m.RefundTime,
		Version: m.Version,
	}
}

func toPaymentModel(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID: p.ID, PaymentNo: p.PaymentNo, OrderNo: p.OrderNo, UserID: p.UserID,
		Amount: p.Amount, Method: p.Method, Status: p.Status,
		GatewayTxnID: p.GatewayTxnID, FailReason: p.FailReason,
		CreatedTime: p.CreatedTime, ExpireTime: p.ExpireTime,
		ProcessTime: p.ProcessTime, SuccessTime: p.SuccessTime,
		ClosedTime: p.ClosedTime, RefundTime: p.RefundTime,
		Version: p.Version,
	}
}

func toStateLogModel(l *domain.StateLog) *StateLogModel {
	return &StateLogModel{
		PaymentNo: l.PaymentNo, OrderNo: l.OrderNo,
		FromState: l.FromState, ToState: l.ToState, Event: l.Event,
		Operator: l.Operator, Reason: l.Reason, CreatedTime: l.CreatedTime,
	}
}

func toDomainStateLog(m *StateLogModel) *domain.StateLog {
	return &domain.StateLog{
		ID: m.ID, PaymentNo: m.PaymentNo, OrderNo: m.OrderNo,
		FromState: m.FromState, ToState: m.ToState, Event: m.Event,
		Operator: m.Operator, Reason: m.Reason, CreatedTime: m.CreatedTime,
	}
}

// settledStatuses 是订单的"胜出"支付单状态。
var settledStatuses = []domain.Status{
	domain.StatusSuccess, domain.StatusRefunding,
	domain.StatusRefunded, domain.StatusPartialRefunded,
}

// openStatuses 是还在等待支付结果的状态。
var openStatuses = []domain.Status{domain.StatusPending, domain.StatusProcessing}

// GormPaymentRepository 是 PaymentRepository 的 GORM 实现。
// 支付单、流转日志、发件箱事件在同一个事务里提交。
type GormPaymentRepository struct {
	db     *gorm.DB
	writer *outbox.Writer
}

func NewGormPaymentRepository(db *gorm.DB, writer *outbox.Writer) *GormPaymentRepository {
	return &GormPaymentRepository{db: db, writer: writer}
}

// AutoMigrate 建表，开发与测试环境用。
func (r *GormPaymentRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&PaymentModel{}, &StateLogModel{}, &outbox.Event{})
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *domain.Payment, log *domain.StateLog, events ...*outbox.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toPaymentModel(payment)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		payment.ID = model.ID
		if err := tx.Create(toStateLogModel(log)).Error; err != nil {
			return err
		}
		return r.writer.Record(tx, events...)
	})
}

func (r *GormPaymentRepository) Update(ctx context.Context, payment *domain.Payment, log *domain.StateLog, events ...*outbox.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nextVersion := payment.Version + 1
		res := tx.Model(&PaymentModel{}).
			Where("payment_no = ? AND version = ?", payment.PaymentNo, payment.Version).
			Updates(map[string]interface{}{
				"status":         payment.Status,
				"gateway_txn_id": payment.GatewayTxnID,
				"fail_reason":    payment.FailReason,
				"process_time":   payment.ProcessTime,
				"success_time":   payment.SuccessTime,
				"closed_time":    payment.ClosedTime,
				"refund_time":    payment.RefundTime,
				"version":        nextVersion,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrStalePayment
		}
		payment.Version = nextVersion
		if err := tx.Create(toStateLogModel(log)).Error; err != nil {
			return err
		}
		return r.writer.Record(tx, events...)
	})
}

func (r *GormPaymentRepository) FindByPaymentNo(ctx context.Context, paymentNo string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomainPayment(&model), nil
}

func (r *GormPaymentRepository) FindOpenByOrderNo(ctx context.Context, orderNo string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status IN ?", orderNo, openStatuses).
		Order("id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomainPayment(&model), nil
}

func (r *GormPaymentRepository) FindSettledByOrderNo(ctx context.Context, orderNo string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status IN ?", orderNo, settledStatuses).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomainPayment(&model), nil
}

func (r *GormPaymentRepository) FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]*domain.Payment, error) {
	var models []*PaymentModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expire_time <= ?", openStatuses, now).
		Order("id asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	payments := make([]*domain.Payment, 0, len(models))
	for _, m := range models {
		payments = append(payments, toDomainPayment(m))
	}
	return payments, nil
}

func (r *GormPaymentRepository) FindLogs(ctx context.Context, paymentNo string) ([]*domain.StateLog, error) {
	var models []*StateLogModel
	err := r.db.WithContext(ctx).
		Where("payment_no = ?", paymentNo).
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
