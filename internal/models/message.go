package models

// DeliveryState tracks a message from optimistic local append to transport
// acknowledgment. A failed send stays visible with state "failed" instead of
// being rolled back.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

type Message struct {
	ID          string        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Body        string        `json:"body"`
	CreatedAt   int64         `json:"created_at"` // unix milliseconds
	Delivery    DeliveryState `json:"delivery,omitempty"`
}
