package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/websocket"
)

// SubscribeHandler streams a store's document changes over a WebSocket.
type SubscribeHandler struct {
	registry *registry.Registry
	hub      *websocket.Hub
	origins  []string
	logger   *slog.Logger
}

func NewSubscribeHandler(reg *registry.Registry, hub *websocket.Hub, origins []string, logger *slog.Logger) *SubscribeHandler {
	return &SubscribeHandler{registry: reg, hub: hub, origins: origins, logger: logger}
}

func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.GetForUser(r.Context(), r.PathValue("id"), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	websocket.Serve(h.hub, w, r, s.ID, h.origins)
}
