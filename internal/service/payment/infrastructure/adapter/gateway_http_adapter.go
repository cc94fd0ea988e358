// internal/service/payment/infrastructure/adapter/gateway_http_adapter.go
package adapter

import (
	"context"

	"meridian/internal/pkg/httpclient"
)

// GatewayHTTPAdapter 实现了 port.GatewayClient 接口，
// 对接第三方支付网关的服务端 API。
type GatewayHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

// NewGatewayHTTPAdapter 创建一个网关适配器。baseURL 指向网关的
// API 入口，例如 "https://gateway.example.com"。
func NewGatewayHTTPAdapter(client *httpclient.Client, baseURL string) *GatewayHTTPAdapter {
	return &GatewayHTTPAdapter{client: client, baseURL: baseURL}
}

type closeTxnRequest struct {
	OutTradeNo string `json:"outTradeNo"`
}

type refundTxnRequest struct {
	TxnID      string `json:"txnId"`
	OutTradeNo string `json:"outTradeNo"` // 也作为退款的幂等键
	Amount     int64  `json:"amount"`
}

type refundTxnResponse struct {
	RefundTxnID string `json:"refundTxnId"`
}

func (a *GatewayHTTPAdapter) CloseTransaction(ctx context.Context, paymentNo string) error {
	return a.client.PostJSON(ctx, a.baseURL+"/v1/transactions/close", &closeTxnRequest{OutTradeNo: paymentNo}, nil)
}

func (a *GatewayHTTPAdapter) Refund(ctx context.Context, gatewayTxnID, paymentNo string, amount int64) (string, error) {
	var resp refundTxnResponse
	err := a.client.PostJSON(ctx, a.baseURL+"/v1/transactions/refund",
		&refundTxnRequest{TxnID: gatewayTxnID, OutTradeNo: paymentNo, Amount: amount}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RefundTxnID, nil
}
