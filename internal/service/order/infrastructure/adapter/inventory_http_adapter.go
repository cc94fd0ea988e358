// internal/service/order/infrastructure/adapter/inventory_http_adapter.go
package adapter

import (
	"context"

	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/httpclient"
)

// InventoryHTTPAdapter 实现了 port.InventoryService 接口。
// 库存侧按 orderNo 幂等，补偿路径可以放心重试。
type InventoryHTTPAdapter struct {
	client   *httpclient.Client
	resolver httpclient.Resolver
}

// NewInventoryHTTPAdapter 创建一个新的库存服务适配器。
func NewInventoryHTTPAdapter(client *httpclient.Client, resolver httpclient.Resolver) *InventoryHTTPAdapter {
	return &InventoryHTTPAdapter{client: client, resolver: resolver}
}

type reserveRequest struct {
	OrderNo string        `json:"orderNo"`
	Items   map[int64]int `json:"items"`
}

type releaseRequest struct {
	OrderNo string `json:"orderNo"`
}

// Reserve 实现了预占库存的 HTTP 调用。
func (a *InventoryHTTPAdapter) Reserve(ctx context.Context, orderNo string, items map[int64]int) error {
	return a.client.PostServiceJSON(ctx, a.resolver, constants.InventoryService, constants.InventoryReservePath,
		&reserveRequest{OrderNo: orderNo, Items: items}, nil)
}

// Release 释放预占，是 Reserve 的补偿。
func (a *InventoryHTTPAdapter) Release(ctx context.Context, orderNo string) error {
	return a.client.PostServiceJSON(ctx, a.resolver, constants.InventoryService, constants.InventoryReleasePath,
		&releaseRequest{OrderNo: orderNo}, nil)
}

// Confirm 在支付成功后把预占转为实扣。
func (a *InventoryHTTPAdapter) Confirm(ctx context.Context, orderNo string) error {
	return a.client.PostServiceJSON(ctx, a.resolver, constants.InventoryService, constants.InventoryConfirmPath,
		&releaseRequest{OrderNo: orderNo}, nil)
}
