// internal/service/points/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meridian/internal/service/points/domain"
)

// AccountModel 对应数据库中的 points_accounts 表。
type AccountModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      int64     `gorm:"column:user_id;not null;uniqueIndex"`
	Balance     int64     `gorm:"column:balance;not null;default:0"`
	TotalEarned int64     `gorm:"column:total_earned;not null;default:0"`
	UpdatedTime time.Time `gorm:"column:updated_time;not null"`
}

func (AccountModel) TableName() string {
	return "points_accounts"
}

// TransactionModel 对应数据库中的 points_transactions 表。
// event_id 的唯一索引是消费侧幂等的落地点。
type TransactionModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	EventID     string         `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex"`
	UserID      int64          `gorm:"column:user_id;not null;index"`
	OrderNo     string         `gorm:"column:order_no;type:varchar(64);not null;index"`
	Type        domain.TxnType `gorm:"column:type;type:varchar(16);not null"`
	Points      int64          `gorm:"column:points;not null"`
	CreatedTime time.Time      `gorm:"column:created_time;not null"`
}

func (TransactionModel) TableName() string {
	return "points_transactions"
}

// GormAccountRepository 是 AccountRepository 的 GORM 实现。
type GormAccountRepository struct {
	db *gorm.DB
}

func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// AutoMigrate 建表，开发与测试环境用。
func (r *GormAccountRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&AccountModel{}, &TransactionModel{})
}

func (r *GormAccountRepository) Apply(ctx context.Context, txn *domain.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := &TransactionModel{
			EventID:     txn.EventID,
			UserID:      txn.UserID,
			OrderNo:     txn.OrderNo,
			Type:        txn.Type,
			Points:      txn.Points,
			CreatedTime: txn.CreatedTime,
		}
		if err := tx.Create(model).Error; err != nil {
			if isDuplicateKey(err) {
				return domain.ErrDuplicateEvent
			}
			return err
		}

		earned := int64(0)
		if txn.Points > 0 {
			earned = txn.Points
		}
		// upsert 账户行并原子调整余额
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", txn.Points),
				"total_earned": gorm.Expr("total_earned + ?", earned),
				"updated_time": txn.CreatedTime,
			}),
		}).Create(&AccountModel{
			UserID:      txn.UserID,
			Balance:     txn.Points,
			TotalEarned: earned,
			UpdatedTime: txn.CreatedTime,
		}).Error
	})
}

func (r *GormAccountRepository) FindAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &domain.Account{
		ID: model.ID, UserID: model.UserID, Balance: model.Balance,
		TotalEarned: model.TotalEarned, UpdatedTime: model.UpdatedTime,
	}, nil
}

func (r *GormAccountRepository) FindTransactionsByOrderNo(ctx context.Context, orderNo string) ([]*domain.Transaction, error) {
	var models []*TransactionModel
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).Order("id asc").Find(&models).Error
	if err != nil {
		return nil, err
	}
	txns := make([]*domain.Transaction, 0, len(models))
	for _, m := range models {
		txns = append(txns, &domain.Transaction{
			ID: m.ID, EventID: m.EventID, UserID: m.UserID, OrderNo: m.OrderNo,
			Type: m.Type, Points: m.Points, CreatedTime: m.CreatedTime,
		})
	}
	return txns, nil
}

// isDuplicateKey 识别唯一键冲突。gorm.ErrDuplicatedKey 需要驱动开启
// translate error，这里对 MySQL 1062 的报文再兜一层。
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry") || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
