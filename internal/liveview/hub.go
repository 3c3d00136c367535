// Package liveview pushes the dispatch lifecycle events published to it
// (the dialcore binary publishes call finalizations) to an operator
// dashboard over WebSocket. It is a convenience surface, not an invariant-bearing
// component: the core's correctness never depends on a live viewer being
// connected.
package liveview

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxConnections = 200

// Event is one dispatch lifecycle notification pushed to every connected
// client watching a campaign.
type Event struct {
	CampaignID string    `json:"campaign_id"`
	Kind       string    `json:"kind"` // free-form; cmd/dialcore publishes only "call_finalized"
	JobID      string    `json:"job_id,omitempty"`
	CallID     string    `json:"call_id,omitempty"`
	At         time.Time `json:"at"`
}

type registration struct {
	conn       *websocket.Conn
	campaignID string
}

// Hub fans out Event values to WebSocket clients subscribed to one
// campaign's feed. Single broadcaster goroutine avoids per-client tickers.
type Hub struct {
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	events     chan Event
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		events:     make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("[liveview] connection rejected: max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[reg.conn] = reg.campaignID
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, campaignID := range h.clients {
		if campaignID != "" && campaignID != ev.CampaignID {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("[liveview] write error, unregistering client: %v", err)
			go h.Unregister(conn)
		}
	}
}

// Publish is a non-blocking best-effort push; a full event buffer drops
// the event rather than stalling the caller.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		log.Printf("[liveview] event buffer full, dropping %s event for campaign %s", ev.Kind, ev.CampaignID)
	}
}

func (h *Hub) Register(conn *websocket.Conn, campaignID string) {
	h.register <- registration{conn: conn, campaignID: campaignID}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Printf("[liveview] shutting down with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}
