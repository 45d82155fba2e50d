package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kalesamwenya/koinonia/internal/models"
)

// ChannelStore implements channel and message persistence on PostgreSQL.
//
// Schema:
//
//	CREATE TABLE channels (
//	    id             TEXT PRIMARY KEY,
//	    participant1   TEXT NOT NULL,
//	    participant2   TEXT NOT NULL,
//	    created_at     BIGINT NOT NULL,
//	    UNIQUE (participant1, participant2)
//	);
//	CREATE TABLE messages (
//	    id           TEXT PRIMARY KEY,
//	    channel_id   TEXT NOT NULL REFERENCES channels(id),
//	    sender_id    TEXT NOT NULL,
//	    recipient_id TEXT NOT NULL,
//	    body         TEXT NOT NULL,
//	    created_at   BIGINT NOT NULL
//	);
//	CREATE INDEX messages_channel_created ON messages (channel_id, created_at);
type ChannelStore struct {
	db *sql.DB
}

func NewChannelStore(dataSourceName string) (*ChannelStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open channel database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect channel database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Println("[storage] connected to PostgreSQL")
	return &ChannelStore{db: db}, nil
}

// EnsureChannel creates the channel row if absent. The participants are
// stored sorted so the unique constraint makes the upsert idempotent.
func (s *ChannelStore) EnsureChannel(id, userA, userB string) (*models.Channel, error) {
	p1, p2 := userA, userB
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	insert := `
		INSERT INTO channels (id, participant1, participant2, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant1, participant2) DO NOTHING
	`
	if _, err := s.db.Exec(insert, id, p1, p2, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("ensure channel %s: %w", id, err)
	}
	ch := &models.Channel{}
	query := `
		SELECT id, participant1, participant2, created_at
		FROM channels
		WHERE participant1 = $1 AND participant2 = $2
	`
	err := s.db.QueryRow(query, p1, p2).Scan(
		&ch.ID, &ch.Participants[0], &ch.Participants[1], &ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load channel %s: %w", id, err)
	}
	return ch, nil
}

// ChannelsFor lists every channel a user participates in.
func (s *ChannelStore) ChannelsFor(userID string) ([]*models.Channel, error) {
	query := `
		SELECT id, participant1, participant2, created_at
		FROM channels
		WHERE participant1 = $1 OR participant2 = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", userID, err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		ch := &models.Channel{}
		if err := rows.Scan(&ch.ID, &ch.Participants[0], &ch.Participants[1], &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return channels, nil
}

// Messages returns a channel's messages ascending by creation time.
func (s *ChannelStore) Messages(channelID string) ([]models.Message, error) {
	query := `
		SELECT id, channel_id, sender_id, recipient_id, body, created_at
		FROM messages
		WHERE channel_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", channelID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg := models.Message{Delivery: models.DeliverySent}
		err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.RecipientID, &msg.Body, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

// AppendMessage persists a new message at the channel's tail.
func (s *ChannelStore) AppendMessage(channelID, senderID, recipientID, body string) (*models.Message, error) {
	msg := &models.Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now().UnixMilli(),
		Delivery:    models.DeliverySent,
	}
	insert := `
		INSERT INTO messages (id, channel_id, sender_id, recipient_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(insert, msg.ID, msg.ChannelID, msg.SenderID, msg.RecipientID, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w", channelID, err)
	}
	return msg, nil
}

// Close closes the database connection.
func (s *ChannelStore) Close() error {
	return s.db.Close()
}
