package channels

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kalesamwenya/koinonia/internal/chat"
	"github.com/kalesamwenya/koinonia/internal/metrics"
	"github.com/kalesamwenya/koinonia/internal/middleware"
	"github.com/kalesamwenya/koinonia/internal/models"
	"github.com/kalesamwenya/koinonia/internal/ws"
)

// ChannelStore is the persistence surface the handlers need; the memory and
// postgres stores both satisfy it.
type ChannelStore interface {
	EnsureChannel(id, userA, userB string) (*models.Channel, error)
	ChannelsFor(userID string) ([]*models.Channel, error)
	Messages(channelID string) ([]models.Message, error)
	AppendMessage(channelID, senderID, recipientID, body string) (*models.Message, error)
}

// ReadStateStore tracks per-user unread counters server-side, feeding the
// badge for clients that reconnect with no in-memory state.
type ReadStateStore interface {
	IncrementUnread(ctx context.Context, userID, channelID string) error
	MarkRead(ctx context.Context, userID, channelID string) error
	Unread(ctx context.Context, userID string) (map[string]int, error)
}

type Handler struct {
	Store     ChannelStore
	ReadState ReadStateStore
	Hub       *ws.Hub
	Limiter   *SenderLimiter

	// JWTSecret, when set, requires a ?token= query parameter on websocket
	// upgrades. Browsers cannot set headers on upgrade requests, so the
	// bearer middleware does not cover /ws.
	JWTSecret string
}

// StartOrGetChannel materializes the channel between two users, idempotent
// on the derived id.
func (h *Handler) StartOrGetChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserA string `json:"user_a"`
		UserB string `json:"user_b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id, err := chat.DeriveChannelID(req.UserA, req.UserB)
	if err != nil {
		http.Error(w, "Both participant ids are required", http.StatusBadRequest)
		return
	}
	ch, err := h.Store.EnsureChannel(id, req.UserA, req.UserB)
	if err != nil {
		log.Printf("[chat] ensure channel %s: %v", id, err)
		http.Error(w, "Could not open conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// ListChannels returns every channel the user participates in.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}
	chans, err := h.Store.ChannelsFor(userID)
	if err != nil {
		log.Printf("[chat] list channels for %s: %v", userID, err)
		http.Error(w, "Could not list conversations", http.StatusInternalServerError)
		return
	}
	if chans == nil {
		chans = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, chans)
}

// GetMessages returns the channel's messages ascending by creation time.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["id"]
	msgs, err := h.Store.Messages(channelID)
	if err != nil {
		log.Printf("[chat] list messages for %s: %v", channelID, err)
		http.Error(w, "Could not load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage persists a message and fans it out on the channel. An empty
// body after trimming is rejected so it can never reach the cache or the
// transport.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["id"]
	var req struct {
		SenderID    string `json:"sender_id"`
		RecipientID string `json:"recipient_id"`
		Body        string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SenderID == "" || req.RecipientID == "" {
		http.Error(w, "sender_id and recipient_id are required", http.StatusBadRequest)
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		http.Error(w, "Message body is empty", http.StatusUnprocessableEntity)
		return
	}
	if !h.Limiter.Allow(req.SenderID) {
		metrics.SendsThrottled.Inc()
		http.Error(w, "Too many messages", http.StatusTooManyRequests)
		return
	}

	msg, err := h.Store.AppendMessage(channelID, req.SenderID, req.RecipientID, req.Body)
	if err != nil {
		log.Printf("[chat] append message to %s: %v", channelID, err)
		http.Error(w, "Could not send message", http.StatusInternalServerError)
		return
	}
	metrics.MessagesPersisted.Inc()

	if err := h.ReadState.IncrementUnread(r.Context(), req.RecipientID, channelID); err != nil {
		// Badge accuracy is best-effort; delivery already succeeded.
		log.Printf("[chat] unread bump for %s: %v", req.RecipientID, err)
	}

	h.broadcast(channelID, models.EventMessage, msg)
	writeJSON(w, http.StatusOK, msg)
}

// MarkRead zeroes the caller's unread counter for the channel.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["id"]
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := h.ReadState.MarkRead(r.Context(), req.UserID, channelID); err != nil {
		log.Printf("[chat] mark read %s/%s: %v", req.UserID, channelID, err)
		http.Error(w, "Could not mark read", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread returns the caller's per-channel unread counts plus the aggregate.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}
	counts, err := h.ReadState.Unread(r.Context(), userID)
	if err != nil {
		log.Printf("[chat] unread for %s: %v", userID, err)
		http.Error(w, "Could not load unread counts", http.StatusInternalServerError)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": counts,
		"total":    total,
	})
}

var upgrader = websocket.Upgrader{}

// ServeWS attaches a client to a channel's event stream. Frames read from
// the client are fanned out to everyone on the channel; typing events pass
// through without touching storage.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	userID := r.URL.Query().Get("user_id")
	if h.JWTSecret != "" {
		sub, err := middleware.VerifyToken(h.JWTSecret, r.URL.Query().Get("token"))
		if err != nil {
			log.Printf("[chat] ws rejected token: %v", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if userID == "" {
			userID = sub
		} else if userID != sub {
			http.Error(w, "Token subject mismatch", http.StatusForbidden)
			return
		}
	}
	if channelID == "" || userID == "" {
		http.Error(w, "channel and user_id query parameters are required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &ws.Client{
		UserID:  userID,
		Channel: channelID,
		Send:    make(chan []byte, 256),
		Conn:    conn,
	}
	h.Hub.Register <- client

	// Read pump
	go func() {
		defer func() {
			h.Hub.Unregister <- client
			conn.Close()
		}()
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				break
			}
			// Clients may only publish on the channel they joined.
			env.Channel = channelID
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.Hub.Broadcast <- ws.Event{Channel: channelID, Data: data}
		}
	}()
	// Write pump
	go func() {
		for message := range client.Send {
			conn.WriteMessage(websocket.TextMessage, message)
		}
	}()
}

func (h *Handler) broadcast(channelID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[chat] encode %s payload: %v", event, err)
		return
	}
	frame, err := json.Marshal(models.Envelope{Channel: channelID, Event: event, Payload: data})
	if err != nil {
		log.Printf("[chat] encode %s envelope: %v", event, err)
		return
	}
	h.Hub.Broadcast <- ws.Event{Channel: channelID, Data: frame}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[chat] encode response: %v", err)
	}
}
