// Package valkey backs the unread read-state with a Valkey hash per user,
// so the badge count survives server restarts and is shared across
// instances.
package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

type ReadStateStore struct {
	client valkey.Client
}

func NewReadStateStore(addr string) (*ReadStateStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey at %s: %w", addr, err)
	}
	return &ReadStateStore{client: client}, nil
}

func unreadKey(userID string) string {
	return "unread:" + userID
}

// IncrementUnread bumps the user's unread counter for one channel.
func (s *ReadStateStore) IncrementUnread(ctx context.Context, userID, channelID string) error {
	cmd := s.client.B().Hincrby().Key(unreadKey(userID)).Field(channelID).Increment(1).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("increment unread %s/%s: %w", userID, channelID, err)
	}
	return nil
}

// MarkRead zeroes the user's unread contribution for one channel.
func (s *ReadStateStore) MarkRead(ctx context.Context, userID, channelID string) error {
	cmd := s.client.B().Hdel().Key(unreadKey(userID)).Field(channelID).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("mark read %s/%s: %w", userID, channelID, err)
	}
	return nil
}

// Unread returns the user's per-channel unread counts.
func (s *ReadStateStore) Unread(ctx context.Context, userID string) (map[string]int, error) {
	cmd := s.client.B().Hgetall().Key(unreadKey(userID)).Build()
	counts, err := s.client.Do(ctx, cmd).AsIntMap()
	if err != nil {
		return nil, fmt.Errorf("load unread for %s: %w", userID, err)
	}
	out := make(map[string]int, len(counts))
	for ch, n := range counts {
		out[ch] = int(n)
	}
	return out, nil
}

// Close releases the client connection pool.
func (s *ReadStateStore) Close() {
	s.client.Close()
}
