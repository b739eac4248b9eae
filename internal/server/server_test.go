package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dukerupert/aisle/internal/database"
	"github.com/dukerupert/aisle/internal/store"
	ws "github.com/dukerupert/aisle/internal/websocket"
)

const providerToken = "provider-secret"

func setupServerTest(t *testing.T, cfg Config) (*Server, http.Handler) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := store.NewUserStore(db).Create("alice", "alice@example.com", "Alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(db, cfg, logger)
	return srv, srv.Router()
}

func send(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// issueKey creates an API key for alice through the provider route.
func issueKey(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := send(h, "POST", "/internal/users/alice/apikey", providerToken, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate key status = %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data struct {
			APIKey string `json:"apiKey"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data.APIKey
}

func TestHealth(t *testing.T) {
	_, h := setupServerTest(t, Config{})
	rec := send(h, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInternalRoutesDisabledWithoutToken(t *testing.T) {
	_, h := setupServerTest(t, Config{})
	if rec := send(h, "POST", "/internal/users", "anything", `{"email":"x@example.com"}`); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInternalRoutesRequireToken(t *testing.T) {
	_, h := setupServerTest(t, Config{ProviderToken: providerToken})
	if rec := send(h, "GET", "/internal/users/alice/apikey", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}
	if rec := send(h, "GET", "/internal/users/alice/apikey", providerToken, ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresKey(t *testing.T) {
	_, h := setupServerTest(t, Config{ProviderToken: providerToken})

	rec := send(h, "GET", "/stores", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid API key") {
		t.Errorf("body = %s", rec.Body.String())
	}

	key := issueKey(t, h)
	rec = send(h, "POST", "/stores", key, `{"name":"Costco"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create store status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = send(h, "GET", "/stores", key, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", rec.Header().Get("X-RateLimit-Limit"))
	}
	if !strings.Contains(rec.Body.String(), "Costco") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAPIRateLimit(t *testing.T) {
	_, h := setupServerTest(t, Config{ProviderToken: providerToken, RateLimit: 2, RateWindow: time.Minute})
	key := issueKey(t, h)

	for i := 0; i < 2; i++ {
		if rec := send(h, "GET", "/stores", key, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := send(h, "GET", "/stores", key, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" || rec.Header().Get("Retry-After") == "" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestWebSocketReceivesListChanges(t *testing.T) {
	srv, h := setupServerTest(t, Config{ProviderToken: providerToken})
	key := issueKey(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Relay(ctx)

	rec := send(h, "POST", "/stores", key, `{"name":"Costco"}`)
	var env struct {
		Data struct {
			Store struct {
				ID string `json:"id"`
			} `json:"store"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Data.Store.ID == "" {
		t.Fatalf("create store: %s", rec.Body.String())
	}
	storeID := env.Data.Store.ID

	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stores/" + storeID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + key}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for srv.Hub().ClientCount(storeID) == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	received := make(chan ws.Message, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ws.Message
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	}()

	// The relay subscribes asynchronously, so keep writing until a change
	// comes through.
	for {
		send(h, "POST", "/stores/"+storeID+"/items", key, `{"name":"milk"}`)
		select {
		case msg := <-received:
			if msg.StoreID != storeID || msg.Entity != ws.EntityShoppingList {
				t.Errorf("message = %+v, want shopping list change for %s", msg, storeID)
			}
			return
		case <-ctx.Done():
			t.Fatal("no change notification received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWebSocketRequiresAccess(t *testing.T) {
	_, h := setupServerTest(t, Config{ProviderToken: providerToken})
	key := issueKey(t, h)

	rec := send(h, "GET", "/stores/someone-elses/ws", key, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
