// Package api wraps the intranet REST endpoints the chat core consumes:
// conversations, message history, reactions, soft deletes, and the public-key
// directory.
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

// defaultTimeout is the per-request timeout used by the REST client.
const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Detail is the backend's error description, when provided.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Detail)
}

// Client is the REST client for the chat backend.
type Client struct {
	rest *resty.Client
}

// New creates a REST client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetTimeout(defaultTimeout)
	return &Client{rest: rest}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.rest.Close()
}

// errorDetail is the backend's JSON error body.
type errorDetail struct {
	Detail string `json:"detail"`
}

func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		detail := ""
		if body, ok := res.Error().(*errorDetail); ok && body != nil {
			detail = body.Detail
		}
		return &APIError{StatusCode: res.StatusCode(), Detail: detail}
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx).SetError(&errorDetail{})
}

// Conversation fetches one conversation's metadata.
func (c *Client) Conversation(ctx context.Context, id int64) (*wire.Conversation, error) {
	var conv wire.Conversation
	res, err := c.request(ctx).
		SetResult(&conv).
		Get(fmt.Sprintf("/api/chat/conversations/%d/", id))
	if err := checkResponse(res, err); err != nil {
		return nil, err
	}
	return &conv, nil
}

// messagesPage is the paginated message-history response.
type messagesPage struct {
	Results []wire.Message `json:"results"`
	Count   int            `json:"count"`
}

// Messages fetches one page of a conversation's message history.
func (c *Client) Messages(ctx context.Context, conversationID int64, offset, limit int) ([]wire.Message, error) {
	var page messagesPage
	res, err := c.request(ctx).
		SetQueryParam("offset", strconv.Itoa(offset)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page).
		Get(fmt.Sprintf("/api/chat/conversations/%d/messages/", conversationID))
	if err := checkResponse(res, err); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// MarkConversationRead marks every message of a conversation as read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID int64) error {
	res, err := c.request(ctx).
		Post(fmt.Sprintf("/api/chat/conversations/%d/read/", conversationID))
	return checkResponse(res, err)
}

// AddReaction adds the caller's reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	res, err := c.request(ctx).
		SetBody(map[string]string{"emoji": emoji}).
		Post(fmt.Sprintf("/api/chat/messages/%d/reactions/", messageID))
	return checkResponse(res, err)
}

// RemoveReaction removes the caller's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	res, err := c.request(ctx).
		Delete(fmt.Sprintf("/api/chat/messages/%d/reactions/%s/", messageID, emoji))
	return checkResponse(res, err)
}

// DeleteMessage soft-deletes a message. The server keeps a tombstone entry.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := c.request(ctx).
		Delete(fmt.Sprintf("/api/chat/messages/%d/", messageID))
	return checkResponse(res, err)
}

// directoryEntry is one public-key record in the directory response.
type directoryEntry struct {
	UserID    int64  `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// directoryPage is the public-key directory response.
type directoryPage struct {
	Results []directoryEntry `json:"results"`
}

// PublicKeys batch-fetches directory public keys by user id.
//
// Users without a published key are simply missing from the result; their
// absence never fails the whole batch.
func (c *Client) PublicKeys(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var page directoryPage
	res, err := c.request(ctx).
		SetQueryParam("user_ids", strings.Join(ids, ",")).
		SetResult(&page).
		Get("/api/keys/")
	if err := checkResponse(res, err); err != nil {
		return nil, err
	}

	keys := make(map[int64]string, len(page.Results))
	for _, entry := range page.Results {
		if entry.PublicKey != "" {
			keys[entry.UserID] = entry.PublicKey
		}
	}
	return keys, nil
}

// PublishPublicKey uploads (or replaces) the caller's directory record.
func (c *Client) PublishPublicKey(ctx context.Context, publicKey string) error {
	res, err := c.request(ctx).
		SetBody(map[string]string{"public_key": publicKey}).
		Post("/api/keys/")
	return checkResponse(res, err)
}
