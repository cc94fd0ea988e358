// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"gorm.io/datatypes"

	"meridian/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表。
type OrderModel struct {
	ID            int64         `gorm:"primaryKey;autoIncrement"`
	OrderNo       string        `gorm:"column:order_no;type:varchar(64);not null;uniqueIndex"`
	UserID        int64         `gorm:"column:user_id;not null;index"`
	TotalAmount   int64         `gorm:"column:total_amount;not null"`
	PayableAmount int64         `gorm:"column:payable_amount;not null"`
	Status        domain.Status `gorm:"column:status;type:varchar(32);not null;index"`
	PaymentMethod string        `gorm:"column:payment_method;type:varchar(32)"`

	// 商品快照，创建后不可变
	Items datatypes.JSON `gorm:"column:items;not null"`

	ReceiverName    string `gorm:"column:receiver_name;type:varchar(64)"`
	ReceiverPhone   string `gorm:"column:receiver_phone;type:varchar(32)"`
	ReceiverAddress string `gorm:"column:receiver_address;type:varchar(255)"`

	CreatedTime time.Time  `gorm:"column:created_time;not null"`
	PayTime     *time.Time `gorm:"column:pay_time"`
	ShipTime    *time.Time `gorm:"column:ship_time"`
	FinishTime  *time.Time `gorm:"column:finish_time"`
	CancelTime  *time.Time `gorm:"column:cancel_time"`

	// 乐观锁版本号，每次状态变更 +1
	Version int64 `gorm:"column:version;not null;default:0"`
	// 软删标记，订单永不物理删除
	Deleted bool `gorm:"column:deleted;not null;default:false"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// StateLogModel 对应数据库中的 order_state_logs 表，只追加。
type StateLogModel struct {
	ID           int64               `gorm:"primaryKey;autoIncrement"`
	OrderNo      string              `gorm:"column:order_no;type:varchar(64);not null;index"`
	FromState    domain.Status       `gorm:"column:from_state;type:varchar(32)"`
	ToState      domain.Status       `gorm:"column:to_state;type:varchar(32);not null"`
	Event        domain.Event        `gorm:"column:event;type:varchar(32);not null"`
	Operator     string              `gorm:"column:operator;type:varchar(64)"`
	OperatorType domain.OperatorType `gorm:"column:operator_type;type:varchar(16);not null"`
	Reason       string              `gorm:"column:reason;type:varchar(255)"`
	CreatedTime  time.Time           `gorm:"column:created_time;not null"`
}

func (StateLogModel) TableName() string {
	return "order_state_logs"
}
