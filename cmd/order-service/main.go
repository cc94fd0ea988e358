// cmd/order-service/main.go
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"meridian/internal/idempotency"
	"meridian/internal/outbox"
	"meridian/internal/pkg/bootstrap"
	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/httpclient"
	"meridian/internal/pkg/lock"
	"meridian/internal/pkg/mq"
	"meridian/internal/pkg/redis"
	"meridian/internal/saga"
	"meridian/internal/service/order/application"
	"meridian/internal/service/order/infrastructure"
	"meridian/internal/service/order/infrastructure/adapter"
	"meridian/internal/service/order/interfaces"
)

const serviceName = constants.OrderService

// main 是订单服务的组装根：创建并组装所有依赖，然后交给
// bootstrap 启动。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	db, err := gorm.Open(mysql.Open(cfg.Infra.MysqlDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Infra.RedisAddrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}

	brokers := cfg.KafkaBrokerList()
	bgCtx, cancelBg := context.WithCancel(context.Background())
	g, bgCtx := errgroup.WithContext(bgCtx)

	notifier := adapter.NewNotificationKafkaAdapter(brokers)
	scheduler := adapter.NewSchedulerKafkaAdapter(brokers)
	eventWriter := mq.NewKafkaWriter(brokers, constants.TopicOrderEvents)
	paymentEventReader := mq.NewKafkaReader(brokers, constants.TopicPaymentEvents, constants.GroupOrderPaymentEvents)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8081,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)

			writer := outbox.NewWriter()
			repo := infrastructure.NewGormOrderRepository(db, writer)
			if err := repo.AutoMigrate(); err != nil {
				log.Fatalf("failed to migrate order schema: %v", err)
			}
			if err := db.AutoMigrate(&saga.StepRecordModel{}); err != nil {
				log.Fatalf("failed to migrate saga schema: %v", err)
			}

			guardPolicy := idempotency.DefaultPolicy()
			guardPolicy.LockTTL = cfg.Lifecycle.LockTTL
			guardPolicy.LockWait = cfg.Lifecycle.LockWait
			locker, err := lock.NewLocker(redisClient.GetClient(), cfg.ZookeeperAddrList(), 10*time.Second)
			if err != nil {
				log.Fatalf("failed to initialize distributed locker: %v", err)
			}
			guard := idempotency.NewGuard(
				locker,
				idempotency.NewRedisTriggerStore(redisClient.GetClient()),
				guardPolicy,
			)
			coordinator := saga.NewCoordinator(saga.NewGormStore(db), saga.DefaultPolicy(), tracer)

			httpClient := httpclient.NewClient(tracer)
			resolver := buildResolver(appCtx)

			appSvc := application.NewOrderApplicationService(
				repo,
				guard,
				coordinator,
				adapter.NewInventoryHTTPAdapter(httpClient, resolver),
				adapter.NewPaymentHTTPAdapter(httpClient, resolver),
				adapter.NewLogisticsHTTPAdapter(httpClient, resolver),
				notifier,
				scheduler,
				tracer,
				cfg.Lifecycle.PaymentExpiry,
			)

			interfaces.NewOrderHandler(appSvc).RegisterRoutes(appCtx.Mux)

			// 发件箱投递循环：订单事件从 outbox_events 表进 Kafka
			dispatcher := outbox.NewDispatcher(
				outbox.NewGormStore(db),
				outbox.NewKafkaPublisher(eventWriter),
				outbox.DefaultPolicy(),
			)
			dispatcher.Start(bgCtx, g)

			// 支付结果事件驱动订单迁移
			interfaces.NewPaymentEventConsumer(paymentEventReader, appSvc).Start(bgCtx)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				cancelBg()
				_ = g.Wait()
				paymentEventReader.Close()
				eventWriter.Close()
				notifier.Close()
				scheduler.Close()
				redisClient.Close()
			},
		},
	})
}

// buildResolver 优先用 Nacos 做服务发现；未接入注册中心时退回
// 环境变量里的固定地址，方便本地起全套服务。
func buildResolver(appCtx bootstrap.AppCtx) httpclient.Resolver {
	if appCtx.Nacos != nil {
		return appCtx.Nacos
	}
	return httpclient.StaticResolver{
		constants.InventoryService: getEnv("INVENTORY_SERVICE_ADDR", "localhost:8083"),
		constants.PaymentService:   getEnv("PAYMENT_SERVICE_ADDR", "localhost:8082"),
		constants.LogisticsService: getEnv("LOGISTICS_SERVICE_ADDR", "localhost:8085"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
