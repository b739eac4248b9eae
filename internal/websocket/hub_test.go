package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/aisle/internal/docstore"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, storeID string) *Client {
	return &Client{
		hub:     hub,
		conn:    nil,
		storeID: storeID,
		send:    make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "s1")
	c2 := mockClient(hub, "s2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(""); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
	if got := hub.ClientCount("s1"); got != 1 {
		t.Fatalf("expected 1 client on s1, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(""); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(""); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "s1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(""); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastScopedToStore(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "s1")
	c2 := mockClient(hub, "s1")
	other := mockClient(hub, "s2")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(other)

	hub.Broadcast(NewMessage(EntityShoppingList, "updated", "s1", "current", nil))

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "shopping_list_updated" {
				t.Errorf("expected type shopping_list_updated, got %s", got.Type)
			}
			if got.StoreID != "s1" {
				t.Errorf("expected store s1, got %s", got.StoreID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case <-other.send:
		t.Error("client of another store received the message")
	default:
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Broadcast(NewMessage(EntityStore, "deleted", "s1", "s1", nil))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "s1")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		c.send <- []byte("filler")
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(NewMessage(EntityStore, "updated", "s1", "s1", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}

	hub.Unregister(c)
}

func TestMessageForChange(t *testing.T) {
	tests := []struct {
		change docstore.Change
		want   string
		id     string
		ok     bool
	}{
		{docstore.Change{Path: "stores/s1"}, "store_updated", "s1", true},
		{docstore.Change{Path: "stores/s1", Deleted: true}, "store_deleted", "s1", true},
		{docstore.Change{Path: "stores/s1/shoppingList/current"}, "shopping_list_updated", "current", true},
		{docstore.Change{Path: "stores/s1/learnedItems/l1"}, "learned_item_updated", "l1", true},
		{docstore.Change{Path: "stores/s1/other/x"}, "", "", false},
		{docstore.Change{Path: "users/u1"}, "", "", false},
	}
	for _, tt := range tests {
		msg, ok := MessageForChange(tt.change)
		if ok != tt.ok {
			t.Errorf("MessageForChange(%s) ok = %v, want %v", tt.change.Path, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if msg.Type != tt.want || msg.ID != tt.id || msg.StoreID != "s1" {
			t.Errorf("MessageForChange(%s) = %+v, want type %s id %s", tt.change.Path, msg, tt.want, tt.id)
		}
	}
}

func TestRelay(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "s1")
	hub.Register(c)
	defer hub.Unregister(c)

	changes := make(chan docstore.Change, 2)
	changes <- docstore.Change{Path: "users/ignored"}
	changes <- docstore.Change{Path: "stores/s1/shoppingList/current"}
	close(changes)

	hub.Relay(context.Background(), changes)

	select {
	case data := <-c.send:
		if !strings.Contains(string(data), "shopping_list_updated") {
			t.Errorf("message = %s, want shopping_list_updated", data)
		}
	default:
		t.Fatal("expected one relayed message")
	}
	select {
	case data := <-c.send:
		t.Errorf("unexpected extra message %s", data)
	default:
	}
}

func TestServe(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r, "s1", nil)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for hub.ClientCount("s1") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.Broadcast(NewMessage(EntityShoppingList, "updated", "s1", "current", nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "shopping_list_updated" {
		t.Errorf("type = %s, want shopping_list_updated", got.Type)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "s1")
			hub.Register(c)
			hub.Broadcast(NewMessage("test", "concurrent", "s1", "", nil))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(""); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
