package agent

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

	v1 "browserjam/shared/contracts/realtime/v1"
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("agent: http %d", e.Status)
	}
	return fmt.Sprintf("agent: http %d %s: %s", e.Status, e.Code, e.Message)
}

// RecentSession is one row of GET /api/sessions.
type RecentSession struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// APIClient talks to the browserjam REST surface.
type APIClient struct {
	base string
	hc   *http.Client
}

// NewAPIClient returns a client for base (e.g. http://localhost:8080).
// A nil hc uses a client with a 10s timeout.
func NewAPIClient(base string, hc *http.Client) *APIClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{base: strings.TrimRight(base, "/"), hc: hc}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account.
func (c *APIClient) Register(ctx context.Context, email, password string) (StoredUser, error) {
	var out struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", credentials{email, password}, &out); err != nil {
		return StoredUser{}, err
	}
	return StoredUser{ID: out.UserID, Email: out.Email}, nil
}

// Login exchanges credentials for a bearer token.
func (c *APIClient) Login(ctx context.Context, email, password string) (string, StoredUser, error) {
	var out struct {
		Token string     `json:"token"`
		User  StoredUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", credentials{email, password}, &out); err != nil {
		return "", StoredUser{}, err
	}
	return out.Token, out.User, nil
}

// CreateSession starts a new session and returns its id.
func (c *APIClient) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/session/create", "", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// RecentSessions lists the caller's sessions, newest first.
func (c *APIClient) RecentSessions(ctx context.Context, token string) ([]RecentSession, error) {
	var out []RecentSession
	if err := c.do(ctx, http.MethodGet, "/api/sessions", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Comments fetches a highlight's thread, oldest first.
func (c *APIClient) Comments(ctx context.Context, highlightID string) ([]v1.CommentPayload, error) {
	var out []v1.CommentPayload
	if err := c.do(ctx, http.MethodGet, "/comments/"+url.PathEscape(highlightID), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, path, token string, body, dst any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e) == nil {
			apiErr.Code = e.Error.Code
			apiErr.Message = e.Error.Message
		}
		return apiErr
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// SaveLogin stores a token and user for later joins and panel gating.
func SaveLogin(kv KV, token string, user StoredUser) error {
	if err := kv.Set(KeyToken, token); err != nil {
		return err
	}
	return SetJSON(kv, KeyUser, user)
}

// Logout clears the stored credentials.
func Logout(kv KV) error {
	if err := kv.Remove(KeyToken); err != nil {
		return err
	}
	return kv.Remove(KeyUser)
}
