// Package defiseek provides a small Go client for the DeFiSeek REST API.
package defiseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the DeFiSeek REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the password grant used to obtain access tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// Message is a single conversation turn sent to the chat endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload for SendMessage.
type ChatRequest struct {
	ChatID   string    `json:"id,omitempty"`
	Messages []Message `json:"messages"`
	ModelID  string    `json:"modelId,omitempty"`
}

// Component describes a UI widget attached to an answer.
type Component struct {
	AgentID string         `json:"agentId"`
	Type    string         `json:"type"`
	Props   map[string]any `json:"props"`
}

// ChatResult is the non-streaming answer returned by the chat endpoint.
type ChatResult struct {
	ChatID     string      `json:"chatId"`
	MessageID  string      `json:"messageId"`
	Answer     string      `json:"answer"`
	Components []Component `json:"components,omitempty"`
}

// Chat summarises a stored conversation.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Vote records feedback on an assistant message.
type Vote struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	IsUpvoted bool   `json:"isUpvoted"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Details != "" {
		return fmt.Sprintf("defiseek api error (%d): %s - %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("defiseek api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the DeFiSeek API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls. Servers running with auth disabled do not need this.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	payload := struct {
		GrantType string `json:"grant_type"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	}{GrantType: "password", Username: creds.Username, Password: creds.Password}

	var token Token
	if err := c.post(ctx, "/api/auth/token", payload, &token); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// SendMessage sends a conversation to the chat endpoint and returns the
// complete synthesized answer. It uses the JSON (non-streaming) mode.
func (c *Client) SendMessage(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var result ChatResult
	if err := c.post(ctx, "/api/chat", req, &result); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// History lists the caller's conversations, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Chat, error) {
	endpoint := "/api/history"
	if limit > 0 {
		endpoint = fmt.Sprintf("/api/history?limit=%d", limit)
	}
	var chats []Chat
	if err := c.get(ctx, endpoint, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// DeleteChat removes a conversation owned by the caller.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/chat?id="+url.QueryEscape(chatID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Vote records feedback for an assistant message.
func (c *Client) Vote(ctx context.Context, chatID, messageID string, upvote bool) error {
	voteType := "down"
	if upvote {
		voteType = "up"
	}
	payload := struct {
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId"`
		Type      string `json:"type"`
	}{ChatID: chatID, MessageID: messageID, Type: voteType}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/api/vote", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// Votes lists the feedback recorded for a conversation.
func (c *Client) Votes(ctx context.Context, chatID string) ([]Vote, error) {
	var votes []Vote
	if err := c.get(ctx, "/api/vote?chatId="+url.QueryEscape(chatID), &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

// ChatExists reports whether a conversation exists for the caller.
func (c *Client) ChatExists(ctx context.Context, chatID string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.get(ctx, "/api/chat/exists/"+url.PathEscape(chatID), &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// 非流式调用：服务端据此返回一次性 JSON 而非 SSE。
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
