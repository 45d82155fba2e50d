// Package transport adapts a websocket connection per channel to the chat
// core's pub/sub contract.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kalesamwenya/koinonia/internal/chat"
	"github.com/kalesamwenya/koinonia/internal/models"
)

// WS dials one websocket per subscribed channel against the server's /ws
// endpoint. A dropped connection only removes that channel's attachment;
// the next Subscribe or Publish redials.
type WS struct {
	baseURL string // ws:// or wss:// origin
	userID  string
	token   string // bearer token sent as ?token= on the upgrade

	mu   sync.Mutex
	subs map[string]*subscription
}

func NewWS(baseURL, userID, token string) *WS {
	return &WS{
		baseURL: baseURL,
		userID:  userID,
		token:   token,
		subs:    make(map[string]*subscription),
	}
}

func (t *WS) Subscribe(channelID string) (chat.Subscription, error) {
	return t.getOrDial(channelID)
}

// Publish sends one envelope on the channel's connection, dialing if the
// channel is not yet attached.
func (t *WS) Publish(channelID, event string, payload any) error {
	sub, err := t.getOrDial(channelID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sub.write(models.Envelope{Channel: channelID, Event: event, Payload: data})
}

func (t *WS) getOrDial(channelID string) (*subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[channelID]; ok {
		return sub, nil
	}
	u := fmt.Sprintf("%s/ws?channel=%s&user_id=%s",
		t.baseURL, url.QueryEscape(channelID), url.QueryEscape(t.userID))
	if t.token != "" {
		u += "&token=" + url.QueryEscape(t.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", channelID, err)
	}
	sub := &subscription{
		channel:  channelID,
		conn:     conn,
		handlers: make(map[string][]func([]byte)),
		detach:   func() { t.drop(channelID) },
	}
	t.subs[channelID] = sub
	go sub.readLoop()
	return sub, nil
}

func (t *WS) drop(channelID string) {
	t.mu.Lock()
	delete(t.subs, channelID)
	t.mu.Unlock()
}

type subscription struct {
	channel string
	conn    *websocket.Conn
	detach  func()

	writeMu  sync.Mutex
	mu       sync.Mutex
	handlers map[string][]func(payload []byte)
}

func (s *subscription) Bind(event string, fn func(payload []byte)) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.mu.Unlock()
}

func (s *subscription) Close() error {
	s.detach()
	return s.conn.Close()
}

func (s *subscription) write(env models.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(env)
}

func (s *subscription) readLoop() {
	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			// Not fatal: delivery pauses and the next channel open
			// reconciles via a fresh fetch.
			log.Printf("[transport] %s disconnected: %v", s.channel, err)
			s.detach()
			return
		}
		s.mu.Lock()
		fns := append(([]func([]byte))(nil), s.handlers[env.Event]...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(env.Payload)
		}
	}
}
