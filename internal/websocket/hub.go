package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/model"
)

// Message is a change notification sent to every client following a store.
type Message struct {
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	StoreID string         `json:"storeId"`
	ID      string         `json:"id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, storeID, id string, extra map[string]any) Message {
	return Message{
		Type:    fmt.Sprintf("%s_%s", entity, action),
		Entity:  entity,
		Action:  action,
		StoreID: storeID,
		ID:      id,
		Extra:   extra,
	}
}

// Entities a document change can describe.
const (
	EntityStore        = "store"
	EntityShoppingList = "shopping_list"
	EntityLearnedItem  = "learned_item"
)

// MessageForChange maps a committed document write under stores/ to the
// notification clients receive. ok is false for paths outside that tree.
func MessageForChange(c docstore.Change) (Message, bool) {
	rest, found := strings.CutPrefix(c.Path, model.StoresCollection+"/")
	if !found || rest == "" {
		return Message{}, false
	}
	parts := strings.Split(rest, "/")
	storeID := parts[0]

	action := "updated"
	if c.Deleted {
		action = "deleted"
	}

	switch {
	case len(parts) == 1:
		return NewMessage(EntityStore, action, storeID, storeID, nil), true
	case len(parts) == 3 && parts[1] == "shoppingList":
		return NewMessage(EntityShoppingList, action, storeID, parts[2], nil), true
	case len(parts) == 3 && parts[1] == "learnedItems":
		return NewMessage(EntityLearnedItem, action, storeID, parts[2], nil), true
	}
	return Message{}, false
}

// Hub keeps the WebSocket clients of each store and fans messages out to them.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its store's topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	clients, ok := h.topics[c.storeID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.topics[c.storeID] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.topics[c.storeID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.topics, c.storeID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a message to the clients following msg.StoreID.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[msg.StoreID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the writer
		}
	}
}

// ClientCount returns the number of clients following storeID, or every
// connected client when storeID is empty.
func (h *Hub) ClientCount(storeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if storeID != "" {
		return len(h.topics[storeID])
	}
	n := 0
	for _, clients := range h.topics {
		n += len(clients)
	}
	return n
}

// Relay broadcasts every change read from changes until ctx is done or the
// channel is closed.
func (h *Hub) Relay(ctx context.Context, changes <-chan docstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if msg, ok := MessageForChange(c); ok {
				h.Broadcast(msg)
			}
		}
	}
}
