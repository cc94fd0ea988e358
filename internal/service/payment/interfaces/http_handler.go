// internal/service/payment/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"meridian/internal/fsm"
	"meridian/internal/idempotency"
	"meridian/internal/pkg/logger"
	"meridian/internal/service/payment/application"
	"meridian/internal/service/payment/domain"
)

// PaymentHandler 封装了支付服务的 HTTP 处理器。
// /api/payments/* 供订单服务内网调用，/callback/gateway 接收
// 第三方网关的异步通知。
type PaymentHandler struct {
	service       *application.PaymentApplicationService
	paymentExpiry time.Duration
}

// NewPaymentHandler 创建一个新的 HTTP 处理器实例。
func NewPaymentHandler(service *application.PaymentApplicationService, paymentExpiry time.Duration) *PaymentHandler {
	return &PaymentHandler{service: service, paymentExpiry: paymentExpiry}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/payments/create", h.createPayment)
	mux.HandleFunc("/api/payments/process", h.startProcessing)
	mux.HandleFunc("/api/payments/cancel", h.cancelPayment)
	mux.HandleFunc("/api/payments/refund", h.refundPayment)
	mux.HandleFunc("/api/payments/logs", h.paymentLogs)
	mux.HandleFunc("/callback/gateway", h.gatewayCallback)
}

// startProcessing 由收银台前端上报：用户已拉起支付。
func (h *PaymentHandler) startProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req struct {
		PaymentNo string `json:"paymentNo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentNo == "" {
		http.Error(w, "paymentNo is required", http.StatusBadRequest)
		return
	}
	if err := h.service.StartProcessing(ctx, req.PaymentNo); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"paymentNo": req.PaymentNo, "result": "ok"})
}

func (h *PaymentHandler) paymentLogs(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	paymentNo := r.URL.Query().Get("paymentNo")
	if paymentNo == "" {
		http.Error(w, "paymentNo is required", http.StatusBadRequest)
		return
	}
	logs, err := h.service.GetPaymentLogs(ctx, paymentNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, logs)
}

func (h *PaymentHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req application.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.service.CreatePayment(ctx, &req, h.paymentExpiry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *PaymentHandler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req struct {
		OrderNo string `json:"orderNo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNo == "" {
		http.Error(w, "orderNo is required", http.StatusBadRequest)
		return
	}
	if err := h.service.Cancel(ctx, req.OrderNo); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"orderNo": req.OrderNo, "result": "ok"})
}

func (h *PaymentHandler) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req struct {
		OrderNo string `json:"orderNo"`
		Amount  int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNo == "" || req.Amount <= 0 {
		http.Error(w, "orderNo and positive amount are required", http.StatusBadRequest)
		return
	}
	if err := h.service.Refund(ctx, req.OrderNo, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"orderNo": req.OrderNo, "result": "ok"})
}

// gatewayCallback 接收网关异步通知。
// 网关对非 200 的应答会按自己的节奏重发，幂等由应用层保证，
// 所以任何可重试错误都直接回非 200 等网关重试。
func (h *PaymentHandler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var cb application.GatewayCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid callback body", http.StatusBadRequest)
		return
	}
	result, err := h.service.HandleGatewayCallback(ctx, &cb)
	if err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyPaid) {
			// 网关不该重发这笔通知了：订单已被另一笔支付占住
			logger.Ctx(ctx).Warn().Str("payment_no", cb.PaymentNo).Msg("callback rejected: order already paid by another payment")
			writeJSON(w, map[string]string{"result": "rejected", "reason": "order already paid"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func extractTraceContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fsm.ErrIllegalTransition), errors.Is(err, domain.ErrStalePayment), errors.Is(err, domain.ErrOrderAlreadyPaid):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, idempotency.ErrLockTimeout):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	logger.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}
