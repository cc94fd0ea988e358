// internal/service/points/interfaces/order_event_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"meridian/internal/outbox"
	"meridian/internal/pkg/logger"
	"meridian/internal/pkg/mq"
	"meridian/internal/service/points/application"
	"meridian/internal/service/points/domain"
)

// 订单服务发布的事件类型里，积分服务关心的子集。
const (
	eventTypeOrderPaid      = "OrderPaid"
	eventTypeOrderCancelled = "OrderCancelled"
	eventTypeOrderRefunded  = "OrderRefunded"
)

type orderPaidPayload struct {
	OrderNo       string `json:"orderNo"`
	UserID        int64  `json:"userId"`
	PayableAmount int64  `json:"payableAmount"`
}

type orderReversedPayload struct {
	OrderNo string `json:"orderNo"`
	UserID  int64  `json:"userId"`
}

// OrderEventConsumer 消费订单事件维护积分账户。
type OrderEventConsumer struct {
	reader *kafka.Reader
	appSvc *application.PointsApplicationService
	wg     sync.WaitGroup
}

func NewOrderEventConsumer(reader *kafka.Reader, appSvc *application.PointsApplicationService) *OrderEventConsumer {
	return &OrderEventConsumer{reader: reader, appSvc: appSvc}
}

// Start 开始监听，长期运行直到 ctx 取消。
func (c *OrderEventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("points order event consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("points order event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.processMessage(msgCtx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Msg("failed to process order event, will be redelivered")
				time.Sleep(time.Second)
				continue
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Msg("failed to commit offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *OrderEventConsumer) Stop(ctx context.Context) {
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("points order event consumer stopped")
}

func (c *OrderEventConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("malformed order event skipped")
		return nil
	}

	switch env.EventType {
	case eventTypeOrderPaid:
		var p orderPaidPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("event_id", env.EventID).Msg("malformed OrderPaid payload skipped")
			return nil
		}
		return c.appSvc.HandleOrderPaid(ctx, env.EventID, p.UserID, p.OrderNo, p.PayableAmount)
	case eventTypeOrderCancelled, eventTypeOrderRefunded:
		var p orderReversedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("event_id", env.EventID).Msg("malformed payload skipped")
			return nil
		}
		return c.appSvc.HandleOrderReversed(ctx, env.EventID, p.UserID, p.OrderNo)
	default:
		return nil
	}
}

// PointsHandler 提供积分账户的只读查询。
type PointsHandler struct {
	appSvc *application.PointsApplicationService
}

func NewPointsHandler(appSvc *application.PointsApplicationService) *PointsHandler {
	return &PointsHandler{appSvc: appSvc}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *PointsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/points/account", h.getAccount)
}

func (h *PointsHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "valid userId is required", http.StatusBadRequest)
		return
	}
	account, err := h.appSvc.GetAccount(r.Context(), userID)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}
