package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalesamwenya/koinonia/internal/models"
)

// HTTPAPI implements API against the koinonia REST endpoints.
type HTTPAPI struct {
	BaseURL string
	Token   string // optional bearer token; sessions are issued elsewhere
	Client  *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAPI) EnsureChannel(ctx context.Context, userA, userB string) (models.Channel, error) {
	var out models.Channel
	err := a.do(ctx, http.MethodPost, "/api/v1/channels/start", map[string]string{
		"user_a": userA,
		"user_b": userB,
	}, &out)
	return out, err
}

func (a *HTTPAPI) ListMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	var out []models.Message
	path := "/api/v1/channels/" + url.PathEscape(channelID) + "/messages"
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *HTTPAPI) SendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	path := "/api/v1/channels/" + url.PathEscape(msg.ChannelID) + "/send"
	err := a.do(ctx, http.MethodPost, path, map[string]string{
		"sender_id":    msg.SenderID,
		"recipient_id": msg.RecipientID,
		"body":         msg.Body,
	}, &out)
	return out, err
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("api %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
