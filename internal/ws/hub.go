// Package ws pushes wallet events to connected clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/models"
)

// Message is the envelope written to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients by account. An account may hold
// several connections (tabs, devices).
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.accountID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.accountID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			metrics.WSClients.Inc()
			log.WithField("account_id", client.accountID).Debug("[WS] client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.accountID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
					metrics.WSClients.Dec()
				}
				if len(set) == 0 {
					delete(h.clients, client.accountID)
				}
			}
			h.mu.Unlock()
			log.WithField("account_id", client.accountID).Debug("[WS] client disconnected")

		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
					metrics.WSClients.Dec()
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToAccount queues a message for every connection of the account.
func (h *Hub) SendToAccount(accountID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.WithError(err).Error("[WS] marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[accountID] {
		select {
		case client.send <- data:
		default:
			log.WithField("account_id", accountID).Warn("[WS] send buffer full, dropping message")
		}
	}
}

// Deliver forwards a wallet event to the account's connections.
func (h *Hub) Deliver(ev models.WalletEvent) {
	h.SendToAccount(ev.AccountID, Message{Type: "wallet", Data: ev})
}

// Connections reports how many clients the account has open.
func (h *Hub) Connections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}
