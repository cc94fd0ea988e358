// internal/service/order/port/logistics.go
package port

import "context"

// LogisticsService 是物流服务的出站端口。
type LogisticsService interface {
	// CreateShipment 以 orderNo 为引用号创建运单，重复调用返回已有运单号。
	CreateShipment(ctx context.Context, orderNo, receiverName, receiverPhone, receiverAddress string) (trackingNo string, err error)
}
