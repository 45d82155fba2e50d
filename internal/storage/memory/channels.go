package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalesamwenya/koinonia/internal/models"
)

// ChannelStore keeps channels and their messages in process memory. Used in
// development and tests; production deployments use the postgres store.
type ChannelStore struct {
	mu        sync.RWMutex
	channels  map[string]*models.Channel
	messages  map[string][]models.Message
	userIndex map[string][]string // userID -> []channelID
}

func NewChannelStore() *ChannelStore {
	return &ChannelStore{
		channels:  make(map[string]*models.Channel),
		messages:  make(map[string][]models.Message),
		userIndex: make(map[string][]string),
	}
}

// EnsureChannel creates the channel record if absent. Idempotent upsert
// keyed by the derived id.
func (s *ChannelStore) EnsureChannel(id, userA, userB string) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[id]; ok {
		out := *ch
		return &out, nil
	}
	p1, p2 := userA, userB
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	ch := &models.Channel{
		ID:           id,
		Participants: [2]string{p1, p2},
		CreatedAt:    time.Now().UnixMilli(),
	}
	s.channels[id] = ch
	s.userIndex[p1] = append(s.userIndex[p1], id)
	s.userIndex[p2] = append(s.userIndex[p2], id)
	out := *ch
	return &out, nil
}

// ChannelsFor lists every channel a user participates in.
func (s *ChannelStore) ChannelsFor(userID string) ([]*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Channel
	for _, id := range s.userIndex[userID] {
		if ch, ok := s.channels[id]; ok {
			out := *ch
			result = append(result, &out)
		}
	}
	return result, nil
}

// Messages returns a channel's messages ascending by creation time. An
// unknown channel yields an empty list, matching the idempotent-refresh
// contract of the fetch endpoint.
func (s *ChannelStore) Messages(channelID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages[channelID]...), nil
}

// AppendMessage persists a new message at the channel's tail.
func (s *ChannelStore) AppendMessage(channelID, senderID, recipientID, body string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	msg := models.Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now().UnixMilli(),
		Delivery:    models.DeliverySent,
	}
	s.messages[channelID] = append(s.messages[channelID], msg)
	return &msg, nil
}

// ReadStateStore keeps per-user unread counters in memory. Counters are
// only bumped on message arrival and zeroed on mark-read; nothing else
// mutates them.
type ReadStateStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int // userID -> channelID -> unread
}

func NewReadStateStore() *ReadStateStore {
	return &ReadStateStore{counts: make(map[string]map[string]int)}
}

func (s *ReadStateStore) IncrementUnread(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[userID] == nil {
		s.counts[userID] = make(map[string]int)
	}
	s.counts[userID][channelID]++
	return nil
}

func (s *ReadStateStore) MarkRead(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.counts[userID]; ok {
		delete(m, channelID)
	}
	return nil
}

func (s *ReadStateStore) Unread(ctx context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts[userID]))
	for ch, n := range s.counts[userID] {
		out[ch] = n
	}
	return out, nil
}
