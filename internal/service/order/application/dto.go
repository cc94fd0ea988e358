// internal/service/order/application/dto.go
package application

import (
	"errors"
	"time"

	"meridian/internal/service/order/domain"
)

// ItemInput 是创建订单请求中的一行商品。
type ItemInput struct {
	SkuID    int64  `json:"skuId"`
	SkuName  string `json:"skuName"`
	Price    int64  `json:"price"` // 单价（分）
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest 是结算下单的入参。
// RequestID 由客户端生成，作为下单的幂等键：同一 RequestID 的
// 重试不会创建第二个订单。
type CreateOrderRequest struct {
	RequestID      string      `json:"requestId"`
	UserID         int64       `json:"userId"`
	Items          []ItemInput `json:"items"`
	PaymentMethod  string      `json:"paymentMethod"`
	PointsDiscount int64       `json:"pointsDiscount"` // 积分抵扣金额（分）

	ReceiverName    string `json:"receiverName"`
	ReceiverPhone   string `json:"receiverPhone"`
	ReceiverAddress string `json:"receiverAddress"`
}

// Validate 做边界校验并计算金额。
func (r *CreateOrderRequest) Validate() (total, payable int64, err error) {
	if r.RequestID == "" {
		return 0, 0, errors.New("requestId is required")
	}
	if r.UserID <= 0 {
		return 0, 0, errors.New("userId is required")
	}
	if len(r.Items) == 0 {
		return 0, 0, errors.New("order must contain at least one item")
	}
	for _, item := range r.Items {
		if item.SkuID <= 0 || item.Price <= 0 || item.Quantity <= 0 {
			return 0, 0, errors.New("invalid order item")
		}
		total += item.Price * int64(item.Quantity)
	}
	if r.PointsDiscount < 0 || r.PointsDiscount > total {
		return 0, 0, errors.New("points discount must be within [0, total amount]")
	}
	return total, total - r.PointsDiscount, nil
}

// OrderItems 转成订单聚合的商品快照。
func (r *CreateOrderRequest) OrderItems() []domain.Item {
	items := make([]domain.Item, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.Item{
			SkuID:    item.SkuID,
			SkuName:  item.SkuName,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}
	return items
}

// ItemQuantities 转成库存预占需要的 skuId -> 数量。
func (r *CreateOrderRequest) ItemQuantities() map[int64]int {
	out := make(map[int64]int, len(r.Items))
	for _, item := range r.Items {
		out[item.SkuID] += item.Quantity
	}
	return out
}

// CreateOrderResponse 是下单结果。
type CreateOrderResponse struct {
	OrderNo   string        `json:"orderNo"`
	PaymentNo string        `json:"paymentNo"`
	Status    domain.Status `json:"status"`
}

// PaymentResult 是支付服务发布的支付结果事件载荷，
// 订单服务消费后驱动 PAY / CANCEL。
type PaymentResult struct {
	OrderNo    string    `json:"orderNo"`
	PaymentNo  string    `json:"paymentNo"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// TransitionResult 是一次守卫内状态变更的记录结果，
// 会被 Guard 缓存并在触发重放时原样返回。
type TransitionResult struct {
	OrderNo string        `json:"orderNo"`
	From    domain.Status `json:"from"`
	To      domain.Status `json:"to"`
}
