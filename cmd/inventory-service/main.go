// cmd/inventory-service/main.go
package main

import (
	"context"
	"log"

	"meridian/internal/pkg/bootstrap"
	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/redis"
	"meridian/internal/service/inventory"
)

const serviceName = constants.InventoryService

// main 是库存服务的组装根。库存的事实状态全在 Redis，
// 服务本身无状态，可水平扩容。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	redisClient, err := redis.NewClient(cfg.Infra.RedisAddrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}

	store, err := inventory.NewStore(redisClient)
	if err != nil {
		log.Fatalf("failed to initialize inventory store: %v", err)
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8083,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			inventory.NewHandler(store).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				redisClient.Close()
			},
		},
	})
}
