// cmd/payment-service/main.go
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
	"meridian/internal/service/payment/application"
	"meridian/internal/service/payment/infrastructure"
	"meridian/internal/service/payment/infrastructure/adapter"
	"meridian/internal/service/payment/interfaces"
)

const serviceName = constants.PaymentService

// main 是支付服务的组装根。
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

	eventWriter := mq.NewKafkaWriter(brokers, constants.TopicPaymentEvents)
	timeoutReader := mq.NewKafkaReader(brokers, constants.TopicPaymentTimeoutCheck, constants.GroupPaymentTimeout)

	var sweeper *interfaces.Sweeper
	var timeoutConsumer *interfaces.TimeoutConsumer

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8082,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)

			repo := infrastructure.NewGormPaymentRepository(db, outbox.NewWriter())
			if err := repo.AutoMigrate(); err != nil {
				log.Fatalf("failed to migrate payment schema: %v", err)
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

			gateway := adapter.NewGatewayHTTPAdapter(
				httpclient.NewClient(tracer),
				getEnv("PAYMENT_GATEWAY_URL", "http://localhost:9099"),
			)

			appSvc := application.NewPaymentApplicationService(repo, guard, gateway, tracer)

			interfaces.NewPaymentHandler(appSvc, cfg.Lifecycle.PaymentExpiry).RegisterRoutes(appCtx.Mux)

			dispatcher := outbox.NewDispatcher(
				outbox.NewGormStore(db),
				outbox.NewKafkaPublisher(eventWriter),
				outbox.DefaultPolicy(),
			)
			dispatcher.Start(bgCtx, g)

			// 超时双保险：延迟队列到期消息 + cron 兜底扫描
			timeoutConsumer = interfaces.NewTimeoutConsumer(timeoutReader, appSvc)
			timeoutConsumer.Start(bgCtx)

			sweeper = interfaces.NewSweeper(appSvc, getEnv("SWEEP_CRON", "@every 1m"), 200)
			if err := sweeper.Start(bgCtx); err != nil {
				log.Fatalf("failed to start payment sweeper: %v", err)
			}
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				if sweeper != nil {
					sweeper.Stop(ctx)
				}
				cancelBg()
				_ = g.Wait()
				if timeoutConsumer != nil {
					timeoutConsumer.Stop(ctx)
				}
				eventWriter.Close()
				redisClient.Close()
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
