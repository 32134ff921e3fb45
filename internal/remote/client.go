package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"talkmate-chat/internal/models"
	"talkmate-chat/internal/store"
)

// Client consumes the chat service HTTP API. It implements store.Service so a
// MessageStore can reconcile against a live deployment.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a Client for the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ store.Service = (*Client)(nil)

// CreateMessage submits a new message with its attachment binaries and returns
// the canonical record.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, req store.CreateMessageRequest) (models.Message, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("text", req.Text); err != nil {
		return models.Message{}, fmt.Errorf("encode text field: %w", err)
	}
	if req.ReplyTo != "" {
		if err := writer.WriteField("reply_to", req.ReplyTo); err != nil {
			return models.Message{}, fmt.Errorf("encode reply_to field: %w", err)
		}
	}
	for _, a := range req.Attachments {
		part, err := writer.CreateFormFile("attachments", a.Name)
		if err != nil {
			return models.Message{}, fmt.Errorf("encode attachment: %w", err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return models.Message{}, fmt.Errorf("write attachment: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return models.Message{}, fmt.Errorf("finish multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/conversations/%d/messages", c.baseURL, conversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return models.Message{}, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var msg models.Message
	if err := c.do(httpReq, http.StatusCreated, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// RevokeMessage retracts a message's content for all participants.
func (c *Client) RevokeMessage(ctx context.Context, conversationID int, messageID string) error {
	url := fmt.Sprintf("%s/conversations/%d/messages/%s/revoke", c.baseURL, conversationID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// DeleteMessageForMe removes a message from the caller's view only.
func (c *Client) DeleteMessageForMe(ctx context.Context, conversationID int, messageID string) error {
	url := fmt.Sprintf("%s/conversations/%d/messages/%s/me", c.baseURL, conversationID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// MarkRead records a read receipt for the whole conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID int) error {
	url := fmt.Sprintf("%s/conversations/%d/read", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, nil)
}

// ListMessages fetches the newest page of a conversation's history, newest
// first, ready for MessageStore.SetInitialMessages.
func (c *Client) ListMessages(ctx context.Context, conversationID int, limit int) ([]models.Message, error) {
	url := fmt.Sprintf("%s/conversations/%d/messages?limit=%d", c.baseURL, conversationID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// StartConversation creates a conversation with the given members.
func (c *Client) StartConversation(ctx context.Context, memberIDs []int) (int, error) {
	payload, err := json.Marshal(map[string]any{"member_ids": memberIDs})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conversations/start", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		ConversationID int `json:"conversation_id"`
	}
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.ConversationID, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
