package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hopecore/community/internal/domain"
)

// TokenStore persists the access token across process restarts so an
// existing session can be restored at startup. Implemented by
// localstate.Store.
type TokenStore interface {
	AccessToken() (string, error)
	SetAccessToken(token string) error
}

// Client implements domain.IdentityService against a GoTrue-compatible auth
// API (the protocol Supabase Auth speaks): JSON request/response with bearer
// tokens.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenStore
	httpClient *http.Client
}

var _ domain.IdentityService = (*Client)(nil)

// NewClient creates an identity client for the given auth endpoint. The api
// key is sent on every request; the token store carries the session token
// between runs.
func NewClient(baseURL, apiKey string, tokens TokenStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SignUp registers a new account. The returned session is nil when the
// provider requires email confirmation before issuing a token.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*domain.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if displayName == "" {
		displayName = "Anonymous User"
	}
	body["data"] = map[string]string{"full_name": displayName}

	var resp sessionResponse
	if err := c.post(ctx, "/signup", "", body, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		// Account created, confirmation pending.
		return nil, nil
	}
	return c.storeSession(&resp)
}

// SignIn exchanges credentials for a session via the password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var resp sessionResponse
	if err := c.post(ctx, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &domain.AuthError{Class: domain.AuthUnknown, Err: fmt.Errorf("provider returned no token")}
	}
	return c.storeSession(&resp)
}

// SignOut revokes the current session and forgets the stored token.
func (c *Client) SignOut(ctx context.Context) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return fmt.Errorf("read stored token: %w", err)
	}
	if token == "" {
		return nil
	}
	if err := c.post(ctx, "/logout", token, nil, nil); err != nil {
		return err
	}
	if err := c.tokens.SetAccessToken(""); err != nil {
		return fmt.Errorf("forget token: %w", err)
	}
	return nil
}

// CurrentSession validates the stored token against the provider. No stored
// token or a rejected one means no session; both clear the stale token.
func (c *Client) CurrentSession(ctx context.Context) (*domain.Session, error) {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("read stored token: %w", err)
	}
	if token == "" {
		return nil, nil
	}

	var user userInfo
	if err := c.get(ctx, "/user", token, &user); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && (ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden) {
			if serr := c.tokens.SetAccessToken(""); serr != nil {
				return nil, fmt.Errorf("forget expired token: %w", serr)
			}
			return nil, nil
		}
		return nil, err
	}

	return &domain.Session{
		UserID:        user.ID,
		Email:         user.Email,
		AccessToken:   token,
		EmailVerified: user.EmailConfirmedAt != "",
	}, nil
}

// RequestPasswordReset sends a reset link to the address.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "/recover", "", map[string]string{"email": email}, nil)
}

// ResendVerification re-sends the signup confirmation email.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	body := map[string]string{"type": "signup", "email": email}
	return c.post(ctx, "/resend", "", body, nil)
}

func (c *Client) storeSession(resp *sessionResponse) (*domain.Session, error) {
	if err := c.tokens.SetAccessToken(resp.AccessToken); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return &domain.Session{
		UserID:        resp.User.ID,
		Email:         resp.User.Email,
		AccessToken:   resp.AccessToken,
		EmailVerified: resp.User.EmailConfirmedAt != "",
	}, nil
}

func (c *Client) post(ctx context.Context, path, token string, body, result any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, token, payload, result)
}

func (c *Client) get(ctx context.Context, path, token string, result any) error {
	return c.do(ctx, http.MethodGet, path, token, nil, result)
}

func (c *Client) do(ctx context.Context, method, path, token string, payload io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.AuthError{Class: domain.AuthUnknown, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// classifyResponse maps the provider's error payload onto the auth error
// taxonomy so the session layer can speak to the user per class.
func classifyResponse(status int, body []byte) error {
	var payload struct {
		Msg         string `json:"msg"`
		Message     string `json:"message"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := payload.Msg
	if msg == "" {
		msg = payload.Message
	}
	if msg == "" {
		msg = payload.Description
	}
	if msg == "" {
		msg = string(body)
	}

	err := &apiError{status: status, msg: msg}

	class := domain.AuthUnknown
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests:
		class = domain.AuthRateLimited
	case strings.Contains(lower, "already registered"):
		class = domain.AuthAlreadyRegistered
	case strings.Contains(lower, "invalid login credentials"):
		class = domain.AuthBadCredentials
	case strings.Contains(lower, "email not confirmed"):
		class = domain.AuthUnconfirmedEmail
	case strings.Contains(lower, "validate email") || strings.Contains(lower, "invalid email"):
		class = domain.AuthInvalidEmail
	case strings.Contains(lower, "password should be at least"):
		class = domain.AuthWeakPassword
	}

	return &domain.AuthError{Class: class, Err: err}
}

type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("auth API error (status %d): %s", e.status, e.msg)
}

type userInfo struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

type sessionResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        userInfo `json:"user"`
}
