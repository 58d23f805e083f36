package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hopecore/community/internal/domain"
)

// Client implements domain.ChatService against the hosted chat function:
// one JSON request per user message, one JSON reply back. No streaming.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ domain.ChatService = (*Client)(nil)

// NewClient creates a chat client for the given endpoint.
func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Send submits one user message and returns the companion's reply text.
func (c *Client) Send(ctx context.Context, sessionID, userID, message, language string) (string, error) {
	body := chatRequest{
		Message:   message,
		UserID:    userID,
		SessionID: sessionID,
		Language:  language,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Response == "" {
		return "", fmt.Errorf("chat API returned an empty response")
	}
	return result.Response, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

type chatResponse struct {
	Response string `json:"response"`
}
