// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"

	"meridian/internal/pkg/bootstrap"
	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/mq"
	"meridian/internal/service/push"
)

const serviceName = constants.PushGateway

// main 是推送网关的组装根：WebSocket 接入 + 通知主题消费。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	hub := push.NewHub()
	reader := mq.NewKafkaReader(cfg.KafkaBrokerList(), constants.TopicNotifications, constants.GroupPushNotifications)
	consumer := push.NewNotificationConsumer(reader, hub)

	bgCtx, cancelBg := context.WithCancel(context.Background())

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			go hub.Run(bgCtx)
			consumer.Start(bgCtx)

			appCtx.Mux.HandleFunc("/ws", hub.ServeWS)
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]int{"online": hub.Online()})
			})
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				cancelBg()
				consumer.Stop(ctx)
			},
		},
	})
}
