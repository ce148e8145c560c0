package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"brewstore/internal/order"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

type Handler struct {
	hub    *Hub
	orders OrderReader
	logger *slog.Logger
}

func NewHandler(hub *Hub, orders OrderReader, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, orders: orders, logger: logger}
}

// ServeWS streams status changes of one order. The first message carries
// the status read after the client joined the hub, so no change between the
// read and the subscription is lost.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	if _, err := uuid.Parse(orderID); err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, ok := h.load(w, r, orderID)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		orderID: orderID,
	}
	if !h.hub.join(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	if fresh, err := h.orders.Get(r.Context(), orderID); err == nil {
		o = fresh
	} else {
		h.logger.Warn("reload order for websocket snapshot", "order_id", orderID, "err", err)
	}
	h.hub.send(client, OrderUpdate{OrderID: orderID, Status: string(o.Status)})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, orderID string) (*order.Order, bool) {
	o, err := h.orders.Get(r.Context(), orderID)
	if err == nil {
		return o, true
	}
	if errors.Is(err, order.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return nil, false
	}
	h.logger.Error("load order for websocket", "order_id", orderID, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
	return nil, false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
