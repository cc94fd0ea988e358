// internal/service/order/infrastructure/adapter/payment_http_adapter.go
package adapter

import (
	"context"

	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/httpclient"
)

// PaymentHTTPAdapter 实现了 port.PaymentClient 接口。
type PaymentHTTPAdapter struct {
	client   *httpclient.Client
	resolver httpclient.Resolver
}

// NewPaymentHTTPAdapter 创建一个新的支付服务适配器。
func NewPaymentHTTPAdapter(client *httpclient.Client, resolver httpclient.Resolver) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, resolver: resolver}
}

type createPaymentRequest struct {
	OrderNo string `json:"orderNo"`
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
}

type createPaymentResponse struct {
	PaymentNo string `json:"paymentNo"`
}

type cancelPaymentRequest struct {
	OrderNo string `json:"orderNo"`
}

type refundRequest struct {
	OrderNo string `json:"orderNo"`
	Amount  int64  `json:"amount"`
}

func (a *PaymentHTTPAdapter) CreatePayment(ctx context.Context, orderNo string, amount int64, method string) (string, error) {
	var resp createPaymentResponse
	err := a.client.PostServiceJSON(ctx, a.resolver, constants.PaymentService, constants.PaymentCreatePath,
		&createPaymentRequest{OrderNo: orderNo, Amount: amount, Method: method}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PaymentNo, nil
}

func (a *PaymentHTTPAdapter) CancelPayment(ctx context.Context, orderNo string) error {
	return a.client.PostServiceJSON(ctx, a.resolver, constants.PaymentService, constants.PaymentCancelPath,
		&cancelPaymentRequest{OrderNo: orderNo}, nil)
}

func (a *PaymentHTTPAdapter) Refund(ctx context.Context, orderNo string, amount int64) error {
	return a.client.PostServiceJSON(ctx, a.resolver, constants.PaymentService, constants.PaymentRefundPath,
		&refundRequest{OrderNo: orderNo, Amount: amount}, nil)
}
