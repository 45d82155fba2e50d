package models

// Channel is a two-party conversation. The ID is derived from the sorted
// participant IDs so both sides can address it without a lookup round-trip.
type Channel struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"` // Always 2, sorted ascending
	CreatedAt    int64     `json:"created_at"`
}
