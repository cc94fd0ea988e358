// internal/service/inventory/http_handler.go
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"meridian/internal/pkg/logger"
)

// Handler 封装了库存服务的 HTTP 处理器。
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/inventory/reserve", h.reserve)
	mux.HandleFunc("/api/inventory/release", h.release)
	mux.HandleFunc("/api/inventory/confirm", h.confirm)
	mux.HandleFunc("/api/inventory/stock", h.stock)
}

type reserveRequest struct {
	OrderNo string        `json:"orderNo"`
	Items   map[int64]int `json:"items"`
}

type refRequest struct {
	OrderNo string `json:"orderNo"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNo == "" || len(req.Items) == 0 {
		http.Error(w, "orderNo and items are required", http.StatusBadRequest)
		return
	}
	if err := h.store.Reserve(ctx, req.OrderNo, req.Items); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			logger.Ctx(ctx).Info().Str("order_no", req.OrderNo).Msg("reserve rejected: insufficient stock")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeOK(w, req.OrderNo)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.refOp(w, r, h.store.Release)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	h.refOp(w, r, h.store.Confirm)
}

func (h *Handler) refOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, refNo string) error) {
	ctx := extractTraceContext(r)

	var req refRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNo == "" {
		http.Error(w, "orderNo is required", http.StatusBadRequest)
		return
	}
	if err := op(ctx, req.OrderNo); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeOK(w, req.OrderNo)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	skuID, err := strconv.ParseInt(r.URL.Query().Get("skuId"), 10, 64)
	if err != nil || skuID <= 0 {
		http.Error(w, "valid skuId is required", http.StatusBadRequest)
		return
	}

	// PUT 语义的库存初始化，管理端用
	if r.Method == http.MethodPut {
		stock, err := strconv.Atoi(r.URL.Query().Get("stock"))
		if err != nil || stock < 0 {
			http.Error(w, "valid stock is required", http.StatusBadRequest)
			return
		}
		if err := h.store.SetStock(ctx, skuID, stock); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeOK(w, strconv.FormatInt(skuID, 10))
		return
	}

	stock, err := h.store.GetStock(ctx, skuID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"skuId": skuID, "stock": stock})
}

func writeOK(w http.ResponseWriter, ref string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"ref": ref, "result": "ok"})
}

func extractTraceContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}
