// Package server implements the catalog service HTTP API: the product
// listing and SKU lookup the session clients price carts against, plus
// order recording with an optional payment intent.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/catalog/pgstore"
	"github.com/darkwings/voicecart/pkg/catalogd/config"
	"github.com/darkwings/voicecart/pkg/checkout"
	"github.com/darkwings/voicecart/pkg/core"
)

const maxBodyBytes = 64 << 10

// Store is the persistence surface the API needs.
type Store interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	GetBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error)
	CreateOrder(ctx context.Context, order *pgstore.Order) error
	GetOrder(ctx context.Context, id int64) (*pgstore.Order, error)
}

// Charger opens a payment for a priced order. Nil disables payments.
type Charger interface {
	Charge(ctx context.Context, amountCents int64, description string, metadata map[string]string) (*checkout.Payment, error)
}

// Server is the catalog service.
type Server struct {
	cfg     config.Config
	store   Store
	charger Charger
	metrics *Metrics
	logger  *slog.Logger
}

// New creates the catalog service around its store and optional charger.
func New(cfg config.Config, store Store, charger Charger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		charger: charger,
		metrics: NewMetrics(cfg.MetricsNamespace),
		logger:  logger,
	}
}

// Handler returns the service's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/products", s.instrument("products", s.handleListProducts))
	mux.HandleFunc("POST /api/products/skus", s.instrument("sku_lookup", s.handleLookupSKUs))
	mux.HandleFunc("POST /api/orders", s.instrument("create_order", s.handleCreateOrder))
	mux.HandleFunc("GET /api/orders/{id}", s.instrument("get_order", s.handleGetOrder))
	return mux
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordRequest(endpoint, strconv.Itoa(rec.status), time.Since(start))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		s.logger.Error("list products", "error", err)
		s.writeError(w, http.StatusInternalServerError, core.NewCatalogError("failed to load products"))
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleLookupSKUs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SKUs []string `json:"skus"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	products, err := s.store.GetBySKUs(r.Context(), body.SKUs)
	if err != nil {
		s.logger.Error("sku lookup", "error", err, "skus", body.SKUs)
		s.writeError(w, http.StatusInternalServerError, core.NewCatalogError("failed to look up products"))
		return
	}
	writeJSON(w, http.StatusOK, products)
}

type orderItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type orderRequest struct {
	Items []orderItemRequest `json:"items"`
}

type orderResponse struct {
	OrderID         int64   `json:"orderId"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
	ClientSecret    string  `json:"clientSecret,omitempty"`
}

// handleCreateOrder records an order. Prices always come from the catalog;
// the request carries SKUs and quantities only.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body orderRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, core.NewInvalidRequestError("order has no items"))
		return
	}
	skus := make([]string, 0, len(body.Items))
	for _, item := range body.Items {
		if item.SKU == "" || item.Quantity <= 0 {
			s.writeError(w, http.StatusBadRequest, core.NewInvalidRequestError("order items need a sku and a positive quantity"))
			return
		}
		skus = append(skus, item.SKU)
	}

	products, err := s.store.GetBySKUs(r.Context(), skus)
	if err != nil {
		s.logger.Error("price order", "error", err)
		s.writeError(w, http.StatusInternalServerError, core.NewCatalogError("failed to price order"))
		return
	}
	bySKU := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}

	order := &pgstore.Order{Currency: s.cfg.Currency, Status: "recorded"}
	var totalCents int64
	for _, item := range body.Items {
		product, ok := bySKU[item.SKU]
		if !ok {
			s.writeError(w, http.StatusBadRequest, core.NewInvalidRequestError(fmt.Sprintf("unknown sku %q", item.SKU)))
			return
		}
		order.Items = append(order.Items, pgstore.OrderItem{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		totalCents += int64(math.Round(product.Price*100)) * int64(item.Quantity)
	}
	order.Total = float64(totalCents) / 100

	if s.charger != nil {
		payment, err := s.charger.Charge(r.Context(), totalCents, "voicecart order", map[string]string{
			"item_count": strconv.Itoa(len(order.Items)),
		})
		if err != nil {
			s.logger.Error("open payment", "error", err)
			s.writeError(w, http.StatusBadGateway, core.NewAPIError("failed to open payment"))
			return
		}
		order.PaymentIntentID = payment.IntentID
		order.Status = payment.Status
	}

	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		s.logger.Error("record order", "error", err)
		s.writeError(w, http.StatusInternalServerError, core.NewCatalogError("failed to record order"))
		return
	}

	s.metrics.RecordOrder(order.Status, totalCents)
	s.logger.Info("order recorded", "order_id", order.ID, "total", order.Total, "items", len(order.Items))
	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:         order.ID,
		Total:           order.Total,
		Currency:        order.Currency,
		Status:          order.Status,
		PaymentIntentID: order.PaymentIntentID,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, core.NewInvalidRequestError("order id must be numeric"))
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, core.NewNotFoundError("no such order"))
			return
		}
		s.logger.Error("get order", "error", err, "order_id", id)
		s.writeError(w, http.StatusInternalServerError, core.NewCatalogError("failed to load order"))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.NewInvalidRequestError("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		coreErr = core.NewAPIError(err.Error())
	}
	writeJSON(w, status, map[string]*core.Error{"error": coreErr})
}
