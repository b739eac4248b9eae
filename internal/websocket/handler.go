package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Serve upgrades the request and streams storeID's changes to it until the
// connection closes. Callers check access before calling. originPatterns
// lists extra allowed Origin hosts; an empty list allows same-origin only.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, storeID string, originPatterns []string) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept", "store_id", storeID, "error", err)
		return
	}
	defer conn.CloseNow()

	client := NewClient(hub, conn, storeID)
	client.Run(r.Context())
}
