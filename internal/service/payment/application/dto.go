// internal/service/payment/application/dto.go
package application

import (
	"errors"

	"meridian/internal/service/payment/domain"
)

// CreatePaymentRequest 是订单服务发起创建支付单的入参。
type CreatePaymentRequest struct {
	OrderNo string `json:"orderNo"`
	UserID  int64  `json:"userId"`
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
}

func (r *CreatePaymentRequest) Validate() error {
	if r.OrderNo == "" {
		return errors.New("orderNo is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

// CreatePaymentResponse 返回支付单号；重复创建返回已存在的待支付单号。
type CreatePaymentResponse struct {
	PaymentNo string        `json:"paymentNo"`
	Status    domain.Status `json:"status"`
}

// GatewayCallback 是网关异步通知的载荷。
// NotificationID 由网关生成，是整次通知的幂等键：同一通知被
// 网关重发任意次，处理结果都一致。
type GatewayCallback struct {
	NotificationID string `json:"notificationId"`
	PaymentNo      string `json:"paymentNo"`
	Success        bool   `json:"success"`
	GatewayTxnID   string `json:"gatewayTxnId"`
	FailReason     string `json:"failReason,omitempty"`
}

func (c *GatewayCallback) Validate() error {
	if c.NotificationID == "" {
		return errors.New("notificationId is required")
	}
	if c.PaymentNo == "" {
		return errors.New("paymentNo is required")
	}
	if c.Success && c.GatewayTxnID == "" {
		return errors.New("gatewayTxnId is required on success")
	}
	return nil
}

// CallbackResult 是守卫缓存的回调处理结果。
type CallbackResult struct {
	PaymentNo string        `json:"paymentNo"`
	OrderNo   string        `json:"orderNo"`
	Status    domain.Status `json:"status"`
}
