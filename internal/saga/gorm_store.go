// internal/saga/gorm_store.go
package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StepRecordModel 是补偿步骤记录的数据库模型。
type StepRecordModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	SagaID    string         `gorm:"column:saga_id;type:varchar(64);not null;uniqueIndex:uk_saga_seq,priority:1"`
	Seq       int            `gorm:"column:seq;not null;uniqueIndex:uk_saga_seq,priority:2"`
	Name      string         `gorm:"column:name;type:varchar(64);not null"`
	Status    StepStatus     `gorm:"column:status;type:varchar(16);not null"`
	Reason    string         `gorm:"column:reason;type:varchar(512)"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (StepRecordModel) TableName() string {
	return "saga_step_records"
}

// GormStore 是 Store 的 GORM 实现。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context, sagaID string) ([]StepRecord, error) {
	var models []StepRecordModel
	if err := s.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("seq asc").
		Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load saga %s", sagaID)
	}
	records := make([]StepRecord, 0, len(models))
	for _, m := range models {
		records = append(records, StepRecord{
			SagaID: m.SagaID, Name: m.Name, Seq: m.Seq,
			Status: m.Status, Reason: m.Reason,
			Payload: json.RawMessage(m.Payload), UpdatedAt: m.UpdatedAt,
		})
	}
	return records, nil
}

// Save 用 (saga_id, seq) 做 upsert，重复写入是幂等的。
func (s *GormStore) Save(ctx context.Context, rec StepRecord) error {
	model := StepRecordModel{
		SagaID: rec.SagaID, Seq: rec.Seq, Name: rec.Name,
		Status: rec.Status, Reason: rec.Reason,
		Payload: datatypes.JSON(rec.Payload), UpdatedAt: rec.UpdatedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "saga_id"}, {Name: "seq"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "reason", "payload", "updated_at"}),
		}).
		Create(&model).Error
	return errors.Wrapf(err, "failed to save saga step %s/%d", rec.SagaID, rec.Seq)
}
