// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"encoding/json"

	"gorm.io/datatypes"

	"meridian/internal/service/order/domain"
)

// toDomainOrder 把数据库模型转换为领域模型。
func toDomainOrder(m *OrderModel) *domain.Order {
	var items []domain.Item
	// 商品快照由 toOrderModel 写入，这里的反序列化不会失败
	_ = json.Unmarshal(m.Items, &items)
	return &domain.Order{
		ID:            m.ID,
		OrderNo:       m.OrderNo,
		UserID:        m.UserID,
		TotalAmount:   m.TotalAmount,
		PayableAmount: m.PayableAmount,
		Status:        m.Status,
		PaymentMethod: m.PaymentMethod,
		Receiver: domain.Receiver{
			Name:    m.ReceiverName,
			Phone:   m.ReceiverPhone,
			Address: m.ReceiverAddress,
		},
		Items:       items,
		CreatedTime: m.CreatedTime,
		PayTime:     m.PayTime,
		ShipTime:    m.ShipTime,
		FinishTime:  m.FinishTime,
		CancelTime:  m.CancelTime,
		Version:     m.Version,
		Deleted:     m.Deleted,
	}
}

func toOrderModel(o *domain.Order) *OrderModel {
	items, _ := json.Marshal(o.Items)
	return &OrderModel{
		ID:              o.ID,
		OrderNo:         o.OrderNo,
		UserID:          o.UserID,
		TotalAmount:     o.TotalAmount,
		PayableAmount:   o.PayableAmount,
		Status:          o.Status,
		PaymentMethod:   o.PaymentMethod,
		ReceiverName:    o.Receiver.Name,
		ReceiverPhone:   o.Receiver.Phone,
		ReceiverAddress: o.Receiver.Address,
		Items:           datatypes.JSON(items),
		CreatedTime:     o.CreatedTime,
		PayTime:         o.PayTime,
		ShipTime:        o.ShipTime,
		FinishTime:      o.FinishTime,
		CancelTime:      o.CancelTime,
		Version:         o.Version,
		Deleted:         o.Deleted,
	}
}

func toStateLogModel(l *domain.StateLog) *StateLogModel {
	return &StateLogModel{
		OrderNo:      l.OrderNo,
		FromState:    l.FromState,
		ToState:      l.ToState,
		Event:        l.Event,
		Operator:     l.Operator,
		OperatorType: l.OperatorType,
		Reason:       l.Reason,
		CreatedTime:  l.CreatedTime,
	}
}

func toDomainStateLog(m *StateLogModel) *domain.StateLog {
	return &domain.StateLog{
		ID:           m.ID,
		OrderNo:      m.OrderNo,
		FromState:    m.FromState,
		ToState:      m.ToState,
		Event:        m.Event,
		Operator:     m.Operator,
		OperatorType: m.OperatorType,
		Reason:       m.Reason,
		CreatedTime:  m.CreatedTime,
	}
}
