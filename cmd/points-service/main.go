// cmd/points-service/main.go
package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"meridian/internal/pkg/bootstrap"
	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/mq"
	"meridian/internal/service/points/application"
	"meridian/internal/service/points/infrastructure"
	"meridian/internal/service/points/interfaces"
)

const serviceName = constants.PointsService

// main 是积分服务的组装根。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	db, err := gorm.Open(mysql.Open(cfg.Infra.MysqlDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	rule, err := application.NewEarnRule(getEnv("POINTS_EARN_RULE", application.DefaultEarnExpression))
	if err != nil {
		log.Fatalf("invalid points earn rule: %v", err)
	}

	orderEventReader := mq.NewKafkaReader(cfg.KafkaBrokerList(), constants.TopicOrderEvents, constants.GroupPointsOrderEvents)
	bgCtx, cancelBg := context.WithCancel(context.Background())

	var consumer *interfaces.OrderEventConsumer

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8084,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)

			repo := infrastructure.NewGormAccountRepository(db)
			if err := repo.AutoMigrate(); err != nil {
				log.Fatalf("failed to migrate points schema: %v", err)
			}

			// 会员体系未独立成服务前，等级从环境变量注入
			level, _ := strconv.ParseInt(getEnv("DEFAULT_MEMBER_LEVEL", "1"), 10, 64)
			appSvc := application.NewPointsApplicationService(repo, rule, application.StaticLevelProvider(level), tracer)

			interfaces.NewPointsHandler(appSvc).RegisterRoutes(appCtx.Mux)

			consumer = interfaces.NewOrderEventConsumer(orderEventReader, appSvc)
			consumer.Start(bgCtx)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				cancelBg()
				if consumer != nil {
					consumer.Stop(ctx)
				}
			},
		},
	})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
