package realtime

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"HabitLink/service/fleet"
	"HabitLink/service/membership"
	"HabitLink/service/storage"
)

type wsFixture struct {
	ts      *httptest.Server
	auth    *Authenticator
	queue   *storage.MemoryOfflineQueue
	reg     *Registry
	router  *Router
	limiter *RateLimiter
}

func newWSFixture(t *testing.T, rateMax, rateStrikes int) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := NewRegistry("gw-test", nil)
	queue := storage.NewMemoryOfflineQueue()
	router := NewRouter(reg, fleet.Noop{}, queue, membership.AllowAll{}, time.Hour)
	auth := NewAuthenticator(testSecret, time.Hour)
	limiter := NewRateLimiter(time.Second, rateMax, rateStrikes)

	srv := NewServer(reg, router, auth, limiter, 30*time.Second, 60*time.Second)
	engine := gin.New()
	srv.Mount(engine)

	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return &wsFixture{ts: ts, auth: auth, queue: queue, reg: reg, router: router, limiter: limiter}
}

func (fx *wsFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/ws"
}

func (fx *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := fx.auth.Mint(userID)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(fx.wsURL(), header)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (fx *wsFixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(fx.ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (fx *wsFixture) waitStats(t *testing.T, cond func(map[string]any) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fx.ts.URL + "/api/stats")
		if err == nil {
			var stats map[string]any
			if json.NewDecoder(resp.Body).Decode(&stats) == nil && cond(stats) {
				_ = resp.Body.Close()
				return
			}
			_ = resp.Body.Close()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stats condition not reached in time")
}

func readWSFrame(t *testing.T, ws *websocket.Conn) *Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func TestWSRejectsUnauthenticated(t *testing.T) {
	fx := newWSFixture(t, 10, 0)

	_, resp, err := websocket.DefaultDialer.Dial(fx.wsURL(), nil)
	if err != websocket.ErrBadHandshake {
		t.Fatalf("err = %v, want bad handshake", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	conns, _, _ := fx.reg.Counts()
	if conns != 0 {
		t.Fatal("rejected client must never reach the registry")
	}
}

func TestWSRoomDeliveryExactlyOnce(t *testing.T) {
	fx := newWSFixture(t, 100, 0)

	alice := fx.dial(t, "alice")
	if err := alice.WriteMessage(websocket.TextMessage,
		EncodeFrame(EventRoomJoin, []byte(`{"room":"challenge:42"}`))); err != nil {
		t.Fatal(err)
	}
	fx.waitStats(t, func(s map[string]any) bool { return s["rooms"] == float64(1) })

	resp := fx.postJSON(t, "/api/emit_room", map[string]any{
		"room":    "challenge:42",
		"event":   "challenge:update",
		"payload": map[string]any{"rank": 1},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emit_room status = %d", resp.StatusCode)
	}

	f := readWSFrame(t, alice)
	if f.Event != "challenge:update" {
		t.Fatalf("event = %q", f.Event)
	}

	// No duplicate delivery to the same handle.
	_ = alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := alice.ReadMessage(); err == nil {
		t.Fatal("received a second copy")
	}
}

func TestWSEmitToConnectedUser(t *testing.T) {
	fx := newWSFixture(t, 100, 0)

	alice := fx.dial(t, "alice")
	fx.waitStats(t, func(s map[string]any) bool { return s["users"] == float64(1) })

	resp := fx.postJSON(t, "/api/emit", map[string]any{
		"user_id": "alice",
		"event":   "nudge",
		"payload": map[string]any{"from": "bob"},
	})
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Delivered {
		t.Fatal("delivered = false for connected user")
	}
	if f := readWSFrame(t, alice); f.Event != "nudge" {
		t.Fatalf("event = %q", f.Event)
	}
}

func TestWSOfflineQueueDrainOnReconnect(t *testing.T) {
	fx := newWSFixture(t, 100, 0)

	resp := fx.postJSON(t, "/api/emit", map[string]any{
		"user_id": "bob",
		"event":   "nudge",
		"payload": map[string]any{"from": "alice"},
	})
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Delivered {
		t.Fatal("delivered = true for offline user")
	}

	bob := fx.dial(t, "bob")
	f := readWSFrame(t, bob)
	if f.Event != "nudge" || string(f.Payload) != `{"from":"alice"}` {
		t.Fatalf("drained frame: event=%q payload=%s", f.Event, f.Payload)
	}

	fx.waitStats(t, func(s map[string]any) bool { return s["queued_messages"] == float64(0) })
}

func TestWSUnauthorizedJoinGetsErrorFrame(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := NewRegistry("gw-test", nil)
	router := NewRouter(reg, fleet.Noop{}, storage.NewMemoryOfflineQueue(), denyAll{}, time.Hour)
	auth := NewAuthenticator(testSecret, time.Hour)
	srv := NewServer(reg, router, auth, NewRateLimiter(time.Second, 100, 0), 30*time.Second, 60*time.Second)
	engine := gin.New()
	srv.Mount(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	token, _, err := auth.Mint("mallory")
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	if err := ws.WriteMessage(websocket.TextMessage,
		EncodeFrame(EventRoomJoin, []byte(`{"room":"challenge:42"}`))); err != nil {
		t.Fatal(err)
	}
	f := readWSFrame(t, ws)
	if f.Event != "error" {
		t.Fatalf("event = %q, want error", f.Event)
	}
	if !strings.Contains(string(f.Payload), "room:join") {
		t.Fatalf("error payload = %s", f.Payload)
	}
}

func TestWSRateStrikeDisconnect(t *testing.T) {
	fx := newWSFixture(t, 1, 1)

	alice := fx.dial(t, "alice")
	fx.waitStats(t, func(s map[string]any) bool { return s["connections"] == float64(1) })

	// First event fits the window; the second violates and, at one allowed
	// strike, the server closes the connection.
	for i := 0; i < 2; i++ {
		if err := alice.WriteMessage(websocket.TextMessage, EncodeFrame("spam", nil)); err != nil {
			t.Fatal(err)
		}
	}

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := alice.ReadMessage(); err == nil {
		t.Fatal("connection should have been closed")
	}
	fx.waitStats(t, func(s map[string]any) bool { return s["connections"] == float64(0) })
}

func TestTokenEndpoint(t *testing.T) {
	fx := newWSFixture(t, 10, 0)

	resp := fx.postJSON(t, "/api/token", map[string]any{"user_id": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Token    string `json:"token"`
		ExpireAt int64  `json:"expire_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	userID, err := fx.auth.Authenticate(out.Token)
	if err != nil || userID != "alice" {
		t.Fatalf("minted token: user=%q err=%v", userID, err)
	}

	resp = fx.postJSON(t, "/api/token", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d", resp.StatusCode)
	}
}
