package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"brewstore/internal/cart"
	"brewstore/internal/catalog"
	"brewstore/internal/order"

	"github.com/google/uuid"
)

type Placer interface {
	Place(ctx context.Context, req order.PlaceRequest) (*order.Order, bool, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

type Server struct {
	placer   Placer
	orders   OrderReader
	products catalog.Catalog
	metrics  *Metrics
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(placer Placer, orders OrderReader, products catalog.Catalog, metrics *Metrics, logger *slog.Logger) *Server {
	s := &Server{
		placer:   placer,
		orders:   orders,
		products: products,
		metrics:  metrics,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /orders", s.metrics.instrument("create_order", s.createOrder))
	s.mux.HandleFunc("GET /orders/{orderID}", s.metrics.instrument("get_order", s.getOrder))
	s.mux.HandleFunc("GET /products", s.metrics.instrument("list_products", s.listProducts))
	s.mux.HandleFunc("GET /health", s.health)
}

// HandleFunc mounts extra routes, like the websocket feed, without metrics
// wrapping.
func (s *Server) HandleFunc(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	CustomerEmail string `json:"customer_email"`
}

type createOrderResponse struct {
	OrderID string       `json:"order_id"`
	Status  order.Status `json:"status"`
	Queued  bool         `json:"queued"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Duplicate product lines collapse into one.
	var c cart.Cart
	for i, it := range req.Items {
		if err := c.Add(cart.Item{ProductID: it.ProductID, Quantity: it.Quantity}); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d].quantity: %v", i, err))
			return
		}
	}

	o, replay, err := s.placer.Place(r.Context(), order.PlaceRequest{
		Lines:          c.Lines(),
		CustomerEmail:  req.CustomerEmail,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		if order.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("place order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := createOrderResponse{OrderID: o.ID, Status: o.Status, Queued: o.Queued}
	if replay {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.metrics.orderPlaced(o.Queued)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	if _, err := uuid.Parse(orderID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.List(r.Context())
	if err != nil {
		s.logger.Error("list products", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
