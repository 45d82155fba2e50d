package models

import (
	"encoding/json"
	"fmt"
)

// Event names carried over the transport, scoped per channel.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)

// Envelope is the single frame shape exchanged over the transport.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// TypingEvent is the ephemeral composing signal. Never persisted.
type TypingEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Typing    bool   `json:"typing"`
}

// DecodeMessage normalizes an incoming message payload. Older clients send
// camelCase field names, newer ones snake_case; everything past this
// boundary sees only the normalized Message.
func DecodeMessage(data []byte) (Message, error) {
	var raw struct {
		ID             string `json:"id"`
		ChannelID      string `json:"channel_id"`
		ChannelIDAlt   string `json:"channelId"`
		SenderID       string `json:"sender_id"`
		SenderIDAlt    string `json:"senderId"`
		RecipientID    string `json:"recipient_id"`
		RecipientIDAlt string `json:"recipientId"`
		Body           string `json:"body"`
		Content        string `json:"content"`
		CreatedAt      int64  `json:"created_at"`
		CreatedAtAlt   int64  `json:"createdAt"`
		Timestamp      int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	msg := Message{
		ID:          raw.ID,
		ChannelID:   firstNonEmpty(raw.ChannelID, raw.ChannelIDAlt),
		SenderID:    firstNonEmpty(raw.SenderID, raw.SenderIDAlt),
		RecipientID: firstNonEmpty(raw.RecipientID, raw.RecipientIDAlt),
		Body:        firstNonEmpty(raw.Body, raw.Content),
		Delivery:    DeliverySent,
	}
	switch {
	case raw.CreatedAt != 0:
		msg.CreatedAt = raw.CreatedAt
	case raw.CreatedAtAlt != 0:
		msg.CreatedAt = raw.CreatedAtAlt
	default:
		msg.CreatedAt = raw.Timestamp
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("decode message payload: missing id")
	}
	return msg, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
