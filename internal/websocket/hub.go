// Package websocket pushes order status changes to connected browsers.
package websocket

import (
	"context"
	"encoding/json"

	"brewstore/pkg/contracts"
)

type OrderUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

type directMessage struct {
	client *Client
	update OrderUpdate
}

type subscribersQuery struct {
	orderID string
	reply   chan int
}

type Hub struct {
	register    chan *Client
	unregister  chan *Client
	broadcast   chan OrderUpdate
	direct      chan directMessage
	subscribers chan subscribersQuery
	done        chan struct{}
	clients     map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan OrderUpdate),
		direct:      make(chan directMessage),
		subscribers: make(chan subscribersQuery),
		done:        make(chan struct{}),
		clients:     make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.remove(c)
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					// Slow client.
					h.remove(c)
				}
			}
		case m := <-h.direct:
			if h.clients[m.client.orderID][m.client] {
				msg, _ := json.Marshal(m.update)
				select {
				case m.client.send <- msg:
				default:
					h.remove(m.client)
				}
			}
		case q := <-h.subscribers:
			q.reply <- len(h.clients[q.orderID])
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*Client]bool{}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// send queues u for one registered client. Clients that already left are
// skipped.
func (h *Hub) send(c *Client, u OrderUpdate) {
	select {
	case h.direct <- directMessage{client: c, update: u}:
	case <-h.done:
	}
}

// Broadcast blocks until the hub takes the update so updates for one order
// keep their order.
func (h *Hub) Broadcast(u OrderUpdate) {
	select {
	case h.broadcast <- u:
	case <-h.done:
	}
}

// Apply forwards a status event from the bus.
func (h *Hub) Apply(evt contracts.OrderStatusChanged) {
	h.Broadcast(OrderUpdate{
		OrderID: evt.OrderID,
		Status:  evt.Status,
		Attempt: evt.Attempt,
		Reason:  evt.Reason,
	})
}

// Subscribers reports how many connections follow orderID. It returns 0
// once the hub has stopped.
func (h *Hub) Subscribers(orderID string) int {
	q := subscribersQuery{orderID: orderID, reply: make(chan int, 1)}
	select {
	case h.subscribers <- q:
		return <-q.reply
	case <-h.done:
		return 0
	}
}
