package channels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kalesamwenya/koinonia/internal/models"
	"github.com/kalesamwenya/koinonia/internal/storage/memory"
	"github.com/kalesamwenya/koinonia/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	handler := &Handler{
		Store:     memory.NewChannelStore(),
		ReadState: memory.NewReadStateStore(),
		Hub:       hub,
		Limiter:   NewSenderLimiter(1000, 1000),
	}
	router := mux.NewRouter()
	RegisterRoutes(router, handler)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStartChannelIdempotentBothOrders(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %s", resp.Status)
	}
	first := decodeBody[models.Channel](t, resp)

	resp = postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "bob", "user_b": "alice"})
	second := decodeBody[models.Channel](t, resp)

	if first.ID != second.ID {
		t.Fatalf("reversed participants derived a different channel: %q vs %q", first.ID, second.ID)
	}
	if first.ID != "chat_alice_bob" {
		t.Fatalf("unexpected derived id %q", first.ID)
	}
}

func TestStartChannelMissingParticipant(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %s", resp.Status)
	}
}

func TestSendThenListOrdered(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"}).Body.Close()

	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/send", map[string]string{
			"sender_id": "alice", "recipient_id": "bob", "body": fmt.Sprintf("msg %d", i),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send %d: %s", i, resp.Status)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/v1/channels/chat_alice_bob/messages")
	if err != nil {
		t.Fatal(err)
	}
	msgs := decodeBody[[]models.Message](t, resp)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].CreatedAt > msgs[i].CreatedAt {
			t.Fatalf("messages out of order: %+v", msgs)
		}
	}
	if msgs[0].Body != "msg 0" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
}

func TestSendEmptyBodyRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/send", map[string]string{
		"sender_id": "alice", "recipient_id": "bob", "body": "   ",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank body, got %s", resp.Status)
	}

	listResp, err := http.Get(srv.URL + "/api/v1/channels/chat_alice_bob/messages")
	if err != nil {
		t.Fatal(err)
	}
	if msgs := decodeBody[[]models.Message](t, listResp); len(msgs) != 0 {
		t.Fatalf("blank send was persisted: %+v", msgs)
	}
}

func TestUnreadLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"}).Body.Close()

	for i := 0; i < 4; i++ {
		postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/send", map[string]string{
			"sender_id": "alice", "recipient_id": "bob", "body": "ping",
		}).Body.Close()
	}

	type unreadResp struct {
		Channels map[string]int `json:"channels"`
		Total    int            `json:"total"`
	}
	resp, err := http.Get(srv.URL + "/api/v1/unread?user_id=bob")
	if err != nil {
		t.Fatal(err)
	}
	got := decodeBody[unreadResp](t, resp)
	if got.Total != 4 || got.Channels["chat_alice_bob"] != 4 {
		t.Fatalf("expected 4 unread for bob, got %+v", got)
	}

	// Sender accrues nothing.
	resp, err = http.Get(srv.URL + "/api/v1/unread?user_id=alice")
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeBody[unreadResp](t, resp); got.Total != 0 {
		t.Fatalf("sender has unread: %+v", got)
	}

	markResp := postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/read", map[string]string{"user_id": "bob"})
	markResp.Body.Close()
	if markResp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: %s", markResp.Status)
	}

	resp, err = http.Get(srv.URL + "/api/v1/unread?user_id=bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeBody[unreadResp](t, resp); got.Total != 0 {
		t.Fatalf("expected 0 unread after mark read, got %+v", got)
	}
}

func TestSendLimiterThrottles(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()
	handler := &Handler{
		Store:     memory.NewChannelStore(),
		ReadState: memory.NewReadStateStore(),
		Hub:       hub,
		Limiter:   NewSenderLimiter(1, 2),
	}
	router := mux.NewRouter()
	RegisterRoutes(router, handler)
	srv := httptest.NewServer(router)
	defer srv.Close()

	postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"}).Body.Close()

	throttled := false
	for i := 0; i < 5; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/send", map[string]string{
			"sender_id": "alice", "recipient_id": "bob", "body": "spam",
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled = true
		}
		resp.Body.Close()
	}
	if !throttled {
		t.Fatal("burst of sends was never throttled")
	}
}

func TestWebsocketDelivery(t *testing.T) {
	srv, hub := newTestServer(t)
	postJSON(t, srv.URL+"/api/v1/channels/start", map[string]string{"user_a": "alice", "user_b": "bob"}).Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=chat_alice_bob&user_id=bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the hub to pick up the registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveClients("chat_alice_bob") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	postJSON(t, srv.URL+"/api/v1/channels/chat_alice_bob/send", map[string]string{
		"sender_id": "alice", "recipient_id": "bob", "body": "hello over the wire",
	}).Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != models.EventMessage || env.Channel != "chat_alice_bob" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	msg, err := models.DecodeMessage(env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "hello over the wire" || msg.SenderID != "alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWebsocketUpgradeRequiresToken(t *testing.T) {
	const secret = "ws-test-secret"
	hub := ws.NewHub()
	go hub.Run()
	handler := &Handler{
		Store:     memory.NewChannelStore(),
		ReadState: memory.NewReadStateStore(),
		Hub:       hub,
		Limiter:   NewSenderLimiter(1000, 1000),
		JWTSecret: secret,
	}
	router := mux.NewRouter()
	RegisterRoutes(router, handler)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=c&user_id=bob", nil)
	if err == nil {
		t.Fatal("upgrade without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %+v", resp)
	}

	claims := jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"/ws?channel=c&user_id=alice&token="+token, nil)
	if err == nil {
		t.Fatal("upgrade with mismatched subject succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on subject mismatch, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=c&user_id=bob&token="+token, nil)
	if err != nil {
		t.Fatalf("upgrade with valid token failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveClients("c") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketTypingFanout(t *testing.T) {
	srv, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	alice, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=c&user_id=alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	bob, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=c&user_id=bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveClients("c") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("clients never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload, _ := json.Marshal(models.TypingEvent{ChannelID: "c", UserID: "alice", Typing: true})
	if err := alice.WriteJSON(models.Envelope{Channel: "c", Event: models.EventTyping, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	if err := bob.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != models.EventTyping {
		t.Fatalf("expected typing event, got %+v", env)
	}
	var ev models.TypingEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != "alice" || !ev.Typing {
		t.Fatalf("unexpected typing payload: %+v", ev)
	}
}
