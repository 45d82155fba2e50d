package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalesamwenya/koinonia/internal/models"
)

// API is the backend message persistence surface the core talks to.
type API interface {
	EnsureChannel(ctx context.Context, userA, userB string) (models.Channel, error)
	ListMessages(ctx context.Context, channelID string) ([]models.Message, error)
	SendMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// Subscription is a live attachment to one channel's event stream.
type Subscription interface {
	Bind(event string, fn func(payload []byte))
	Close() error
}

// Transport is the pub/sub mechanism delivering real-time events between
// clients. A dropped connection is not fatal: delivery pauses and the next
// channel open reconciles via FetchMessages.
type Transport interface {
	Subscribe(channelID string) (Subscription, error)
	Publish(channelID, event string, payload any) error
}

// DeriveChannelID derives the deterministic channel id for two users by
// sorting their ids, so both parties compute the same id independently.
func DeriveChannelID(userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", ErrInvalidParticipant
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("chat_%s_%s", userA, userB), nil
}

// Core owns channel message caches, the unread counter, and typing state for
// one local user. All mutation goes through its methods; a single mutex
// serializes appends so sends and receives never race on a channel's cache.
type Core struct {
	selfID    string
	api       API
	transport Transport

	fetchGen uint64 // bumped on every FetchMessages; stale replies are discarded

	mu          sync.Mutex
	cache       map[string][]models.Message
	subs        map[string]Subscription
	unread      map[string]int
	typing      map[string]bool // channels this user is composing in
	peersTyping map[string]bool // channels the peer is composing in
	focused     string
}

func NewCore(selfID string, api API, transport Transport) *Core {
	return &Core{
		selfID:      selfID,
		api:         api,
		transport:   transport,
		cache:       make(map[string][]models.Message),
		subs:        make(map[string]Subscription),
		unread:      make(map[string]int),
		typing:      make(map[string]bool),
		peersTyping: make(map[string]bool),
	}
}

// EnsureChannel asks the backend to materialize the channel with a peer,
// creating it on first message-intent. Idempotent: the record is keyed by
// the derived id.
func (c *Core) EnsureChannel(ctx context.Context, peerID string) (string, error) {
	id, err := DeriveChannelID(c.selfID, peerID)
	if err != nil {
		return "", err
	}
	ch, err := c.api.EnsureChannel(ctx, c.selfID, peerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if ch.ID != id {
		log.Printf("[chat] backend channel id %q differs from derived %q", ch.ID, id)
	}
	return ch.ID, nil
}

// FetchMessages replaces the channel's cache with the server's authoritative
// ordering. Safe to call repeatedly. A reply that resolves after a newer
// fetch has started is discarded (ErrStaleFetch) so slow responses cannot
// clobber fresher state; on any failure the prior cache stays untouched.
func (c *Core) FetchMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	gen := atomic.AddUint64(&c.fetchGen, 1)
	msgs, err := c.api.ListMessages(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", channelID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != atomic.LoadUint64(&c.fetchGen) {
		return nil, ErrStaleFetch
	}
	sorted := append([]models.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })
	c.cache[channelID] = sorted
	return append([]models.Message(nil), sorted...), nil
}

// SendMessage validates, optimistically appends, persists, then publishes.
// An empty body after trimming is a no-op, not an error. On persist failure
// the local copy transitions to failed instead of vanishing.
func (c *Core) SendMessage(ctx context.Context, channelID, body, recipientID string) (models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, nil
	}
	local := models.Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    c.selfID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now().UnixMilli(),
		Delivery:    models.DeliveryPending,
	}
	c.mu.Lock()
	c.insertLocked(channelID, local)
	c.mu.Unlock()

	// Sending supersedes composing.
	c.StopTyping(channelID)

	acked, err := c.api.SendMessage(ctx, local)
	if err != nil {
		c.mu.Lock()
		c.replaceLocked(channelID, local.ID, withDelivery(local, models.DeliveryFailed))
		c.mu.Unlock()
		return withDelivery(local, models.DeliveryFailed), fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	acked.Delivery = models.DeliverySent
	c.mu.Lock()
	c.replaceLocked(channelID, local.ID, acked)
	c.mu.Unlock()

	if err := c.transport.Publish(channelID, models.EventMessage, acked); err != nil {
		// The peer still reconciles via fetch on next channel open.
		log.Printf("[chat] publish to %s failed: %v", channelID, err)
	}
	return acked, nil
}

// Receive appends a transport-delivered message to its channel cache.
// Duplicate delivery is a no-op (at-least-once transport). A message for an
// unfocused channel bumps the unread counter.
func (c *Core) Receive(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.cache[msg.ChannelID] {
		if m.ID == msg.ID {
			return
		}
	}
	c.insertLocked(msg.ChannelID, msg)
	if msg.ChannelID != c.focused && msg.SenderID != c.selfID {
		c.unread[msg.ChannelID]++
	}
}

// StartTyping publishes a composing signal. Call-site debouncing (see
// Debouncer) keeps keystroke bursts from flooding the transport; the core
// itself only publishes.
func (c *Core) StartTyping(channelID string) {
	c.mu.Lock()
	c.typing[channelID] = true
	c.mu.Unlock()
	c.publishTyping(channelID, true)
}

// StopTyping is idempotent: a no-op when not currently composing.
func (c *Core) StopTyping(channelID string) {
	c.mu.Lock()
	if !c.typing[channelID] {
		c.mu.Unlock()
		return
	}
	delete(c.typing, channelID)
	c.mu.Unlock()
	c.publishTyping(channelID, false)
}

func (c *Core) publishTyping(channelID string, typing bool) {
	ev := models.TypingEvent{ChannelID: channelID, UserID: c.selfID, Typing: typing}
	if err := c.transport.Publish(channelID, models.EventTyping, ev); err != nil {
		log.Printf("[chat] typing publish to %s failed: %v", channelID, err)
	}
}

// MarkChannelRead zeroes the unread contribution of one channel. Called when
// the channel is opened or focused.
func (c *Core) MarkChannelRead(channelID string) {
	c.mu.Lock()
	delete(c.unread, channelID)
	c.mu.Unlock()
}

// OpenChannel focuses a channel, attaches its event stream, pulls the
// authoritative message list and clears its unread contribution.
func (c *Core) OpenChannel(ctx context.Context, channelID string) ([]models.Message, error) {
	c.mu.Lock()
	c.focused = channelID
	c.mu.Unlock()
	if err := c.ensureSubscribed(channelID); err != nil {
		// Real-time delivery is degraded, not broken: fetch still works.
		log.Printf("[chat] subscribe to %s failed: %v", channelID, err)
	}
	msgs, err := c.FetchMessages(ctx, channelID)
	if err != nil {
		return nil, err
	}
	c.MarkChannelRead(channelID)
	return msgs, nil
}

func (c *Core) ensureSubscribed(channelID string) error {
	c.mu.Lock()
	_, ok := c.subs[channelID]
	c.mu.Unlock()
	if ok {
		return nil
	}
	sub, err := c.transport.Subscribe(channelID)
	if err != nil {
		return err
	}
	sub.Bind(models.EventMessage, func(payload []byte) {
		msg, err := models.DecodeMessage(payload)
		if err != nil {
			log.Printf("[chat] dropping malformed message on %s: %v", channelID, err)
			return
		}
		c.Receive(msg)
	})
	sub.Bind(models.EventTyping, func(payload []byte) {
		var ev models.TypingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		if ev.UserID == c.selfID {
			return
		}
		c.mu.Lock()
		if ev.Typing {
			c.peersTyping[channelID] = true
		} else {
			delete(c.peersTyping, channelID)
		}
		c.mu.Unlock()
	})
	c.mu.Lock()
	c.subs[channelID] = sub
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of the channel's cached messages, ascending by
// creation time.
func (c *Core) Messages(channelID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.cache[channelID]...)
}

// Unread returns the aggregate unread count across all channels.
func (c *Core) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.unread {
		total += n
	}
	return total
}

// UnreadFor returns one channel's unread contribution.
func (c *Core) UnreadFor(channelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[channelID]
}

// PeerTyping reports whether the peer is currently composing in a channel.
func (c *Core) PeerTyping(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peersTyping[channelID]
}

// Close detaches all channel subscriptions.
func (c *Core) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]Subscription)
	c.mu.Unlock()
	for id, sub := range subs {
		if err := sub.Close(); err != nil {
			log.Printf("[chat] closing subscription %s: %v", id, err)
		}
	}
}

// insertLocked keeps the channel cache non-decreasing by CreatedAt. New
// arrivals with the latest timestamp append; an out-of-order timestamp is
// placed where it belongs. Caller holds c.mu.
func (c *Core) insertLocked(channelID string, msg models.Message) {
	list := c.cache[channelID]
	i := len(list)
	for i > 0 && list[i-1].CreatedAt > msg.CreatedAt {
		i--
	}
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	c.cache[channelID] = list
}

// replaceLocked swaps the entry with the given id for its reconciled form,
// repositioning if the acknowledged timestamp moved it. Caller holds c.mu.
func (c *Core) replaceLocked(channelID, id string, msg models.Message) {
	list := c.cache[channelID]
	for i, m := range list {
		if m.ID == id {
			c.cache[channelID] = append(list[:i], list[i+1:]...)
			c.insertLocked(channelID, msg)
			return
		}
	}
	c.insertLocked(channelID, msg)
}

func withDelivery(msg models.Message, state models.DeliveryState) models.Message {
	msg.Delivery = state
	return msg
}
