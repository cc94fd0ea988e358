// internal/outbox/writer.go
package outbox

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Writer 在调用方的事务里写入事件行。
// 传入的 tx 必须是包含状态变更的同一个事务，保证"要么都提交要么都不提交"。
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Record 写入一条或多条事件。
func (w *Writer) Record(tx *gorm.DB, events ...*Event) error {
	for _, ev := range events {
		if err := tx.Create(ev).Error; err != nil {
			return errors.Wrapf(err, "failed to record outbox event %s", ev.EventID)
		}
	}
	return nil
}
