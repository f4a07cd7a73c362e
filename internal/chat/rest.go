package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"Syncline/internal/model"
)

const restTimeout = 15 * time.Second

// RestClient talks to the durable message store. Failures propagate to the
// caller of the originating action; nothing is retried here.
type RestClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func NewRestClient(baseURL, token string, logger *zap.Logger) *RestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: restTimeout},
		logger:  logger,
	}
}

func (c *RestClient) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) Messages(ctx context.Context, conversationID string, page, size int64) (*model.Page[model.Message], error) {
	path := fmt.Sprintf("/api/chat/conversations/%s/messages?page=%d&size=%d",
		url.PathEscape(conversationID), page, size)
	var out model.Page[model.Message]
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RestClient) CreateMessage(ctx context.Context, req model.CreateMessageRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RestClient) MarkMessageRead(ctx context.Context, messageID string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/read"
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *RestClient) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *RestClient) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *RestClient) UnreadCount(ctx context.Context) (int64, error) {
	var out model.UnreadCount
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *RestClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("chat api call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("chat api: %s %s returned %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
