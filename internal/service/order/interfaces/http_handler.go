// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"meridian/internal/fsm"
	"meridian/internal/idempotency"
	"meridian/internal/pkg/logger"
	"meridian/internal/service/order/application"
	"meridian/internal/service/order/domain"
)

// OrderHandler 封装了订单服务的 HTTP 处理器。
type OrderHandler struct {
	service *application.OrderApplicationService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例。
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/orders/create", h.createOrder)
	mux.HandleFunc("/api/orders/get", h.getOrder)
	mux.HandleFunc("/api/orders/logs", h.getOrderLogs)
	mux.HandleFunc("/api/orders/cancel", h.cancelOrder)
	mux.HandleFunc("/api/orders/ship", h.shipOrder)
	mux.HandleFunc("/api/orders/receive", h.receiveOrder)
	mux.HandleFunc("/api/orders/refund/request", h.requestRefund)
	mux.HandleFunc("/api/orders/refund/confirm", h.confirmRefund)
	mux.HandleFunc("/api/orders/return/request", h.requestReturn)
	mux.HandleFunc("/api/orders/return/confirm", h.confirmReturn)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)
	orderNo := r.URL.Query().Get("orderNo")
	if orderNo == "" {
		http.Error(w, "orderNo is required", http.StatusBadRequest)
		return
	}
	order, err := h.service.GetOrder(ctx, orderNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, order)
}

func (h *OrderHandler) getOrderLogs(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)
	orderNo := r.URL.Query().Get("orderNo")
	if orderNo == "" {
		http.Error(w, "orderNo is required", http.StatusBadRequest)
		return
	}
	logs, err := h.service.GetOrderLogs(ctx, orderNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, logs)
}

type transitionRequest struct {
	OrderNo  string `json:"orderNo"`
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		operatorType := domain.OperatorUser
		if r.URL.Query().Get("admin") == "true" {
			operatorType = domain.OperatorAdmin
		}
		reason := req.Reason
		if reason == "" {
			reason = "cancelled by " + req.Operator
		}
		return h.service.Cancel(extractTraceContext(r), req.OrderNo, "cancel:"+req.OrderNo, req.Operator, operatorType, reason)
	})
}

func (h *OrderHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.Ship(extractTraceContext(r), req.OrderNo, req.Operator)
	})
}

func (h *OrderHandler) receiveOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.Receive(extractTraceContext(r), req.OrderNo, req.Operator)
	})
}

func (h *OrderHandler) requestRefund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.RequestRefund(extractTraceContext(r), req.OrderNo, req.Operator, req.Reason)
	})
}

func (h *OrderHandler) confirmRefund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.ConfirmRefund(extractTraceContext(r), req.OrderNo, req.Operator)
	})
}

func (h *OrderHandler) requestReturn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.RequestReturn(extractTraceContext(r), req.OrderNo, req.Operator, req.Reason)
	})
}

func (h *OrderHandler) confirmReturn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ *http.Request, req *transitionRequest) error {
		return h.service.ConfirmReturn(extractTraceContext(r), req.OrderNo, req.Operator)
	})
}

func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, do func(r *http.Request, req *transitionRequest) error) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderNo == "" {
		http.Error(w, "orderNo is required", http.StatusBadRequest)
		return
	}
	if err := do(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"orderNo": req.OrderNo, "result": "ok"})
}

func extractTraceContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError 把领域错误映射到 HTTP 状态码：
// 非法迁移 409、找不到 404、锁等待超时 503（可重试）、其他 500。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fsm.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, idempotency.ErrLockTimeout):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, domain.ErrStaleOrder):
		status = http.StatusConflict
	}
	logger.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}
