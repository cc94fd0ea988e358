// internal/service/order/port/payment.go
package port

import "context"

// PaymentClient 是支付服务的出站端口，订单侧只发起与取消支付单，
// 支付结果通过领域事件异步回流。
type PaymentClient interface {
	// CreatePayment 为订单创建一笔支付单，返回支付单号。
	// 同一 orderNo 重复调用返回已存在的待支付单号。
	CreatePayment(ctx context.Context, orderNo string, amount int64, method string) (paymentNo string, err error)

	// CancelPayment 取消订单当前的待支付单，没有待支付单时是 no-op。
	CancelPayment(ctx context.Context, orderNo string) error

	// Refund 对订单的成功支付发起退款，按 orderNo 幂等。
	Refund(ctx context.Context, orderNo string, amount int64) error
}
