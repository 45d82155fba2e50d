package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kalesamwenya/koinonia/internal/metrics"
)

type Client struct {
	UserID  string
	Channel string
	Send    chan []byte
	Conn    *websocket.Conn
}

// Hub fans envelope frames out to every client attached to a channel.
type Hub struct {
	Clients    map[string]map[*Client]bool // channel id -> clients
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan Event
	mu         sync.RWMutex
}

// Event is one frame addressed to everyone on a channel.
type Event struct {
	Channel string
	Data    []byte
}

func NewHub() *Hub {
	return &Hub{
		Clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Event),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Clients[client.Channel] == nil {
				h.Clients[client.Channel] = make(map[*Client]bool)
			}
			h.Clients[client.Channel][client] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()
		case client := <-h.Unregister:
			h.mu.Lock()
			if clients, ok := h.Clients[client.Channel]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					metrics.WSConnections.Dec()
				}
			}
			h.mu.Unlock()
		case ev := <-h.Broadcast:
			// Write lock: eviction mutates the client map, and
			// ActiveClients may be reading it from another goroutine.
			h.mu.Lock()
			for client := range h.Clients[ev.Channel] {
				select {
				case client.Send <- ev.Data:
					metrics.EventsDelivered.Inc()
				default:
					// Slow consumer; drop it rather than stall the channel.
					close(client.Send)
					delete(h.Clients[ev.Channel], client)
					metrics.WSConnections.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// ActiveClients reports how many clients are attached to a channel.
func (h *Hub) ActiveClients(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[channel])
}
