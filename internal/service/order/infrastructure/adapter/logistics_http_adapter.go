// internal/service/order/infrastructure/adapter/logistics_http_adapter.go
package adapter

import (
	"context"

	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/httpclient"
)

// LogisticsHTTPAdapter 实现了 port.LogisticsService 接口。
type LogisticsHTTPAdapter struct {
	client   *httpclient.Client
	resolver httpclient.Resolver
}

func NewLogisticsHTTPAdapter(client *httpclient.Client, resolver httpclient.Resolver) *LogisticsHTTPAdapter {
	return &LogisticsHTTPAdapter{client: client, resolver: resolver}
}

type createShipmentRequest struct {
	OrderNo         string `json:"orderNo"`
	ReceiverName    string `json:"receiverName"`
	ReceiverPhone   string `json:"receiverPhone"`
	ReceiverAddress string `json:"receiverAddress"`
}

type createShipmentResponse struct {
	TrackingNo string `json:"trackingNo"`
}

func (a *LogisticsHTTPAdapter) CreateShipment(ctx context.Context, orderNo, receiverName, receiverPhone, receiverAddress string) (string, error) {
	var resp createShipmentResponse
	err := a.client.PostServiceJSON(ctx, a.resolver, constants.LogisticsService, constants.LogisticsShipmentPath,
		&createShipmentRequest{
			OrderNo:         orderNo,
			ReceiverName:    receiverName,
			ReceiverPhone:   receiverPhone,
			ReceiverAddress: receiverAddress,
		}, &resp)
	if err != nil {
		return "", err
	}
	return resp.TrackingNo, nil
}
