// internal/service/payment/port/gateway.go
package port

import "context"

// GatewayClient 是第三方支付网关的出站端口。
// 支付结果通过异步回调回流，这里只有主动发起的动作。
type GatewayClient interface {
	// CloseTransaction 通知网关关闭未完成的交易，按 paymentNo 幂等。
	CloseTransaction(ctx context.Context, paymentNo string) error

	// Refund 对一笔成功交易发起退款，返回网关退款单号。
	// 同一 paymentNo 重复调用返回已有退款单号。
	Refund(ctx context.Context, gatewayTxnID, paymentNo string, amount int64) (refundTxnID string, err error)
}
