// Package client calls a running Promptory server over its rpc endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is a failure reported by the server in the rpc error envelope.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// HasCode reports whether err is a server Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

type Option func(*Client)

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string {
	return c.token
}

type envelope struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *Error `json:"error"`
}

func (c *Client) procURL(proc string) string {
	return c.baseURL + "/api/rpc/" + url.PathEscape(proc)
}

// Query calls a query procedure. input may be nil.
func (c *Client) Query(ctx context.Context, proc string, input, result any) error {
	target := c.procURL(proc)
	if input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("failed to marshal input: %w", err)
		}
		target += "?input=" + url.QueryEscape(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

// Mutate calls a mutation procedure with input as the JSON body.
func (c *Client) Mutate(ctx context.Context, proc string, input, result any) error {
	var body io.Reader
	if input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("failed to marshal input: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.procURL(proc), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if env.Error != nil {
		env.Error.Status = resp.StatusCode
		return env.Error
	}
	if resp.StatusCode >= 400 || env.Result == nil {
		return fmt.Errorf("server error (%d): unexpected response", resp.StatusCode)
	}
	if result != nil && len(env.Result.Data) > 0 {
		if err := json.Unmarshal(env.Result.Data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname,omitempty"`
}

// Session is the token issued by login or register.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges credentials for a token and uses it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.authenticate(ctx, "/auth/login", credentials{Email: email, Password: password})
}

func (c *Client) Register(ctx context.Context, email, password, nickname string) (*Session, error) {
	return c.authenticate(ctx, "/auth/register", credentials{Email: email, Password: password, Nickname: nickname})
}

func (c *Client) authenticate(ctx context.Context, path string, in credentials) (*Session, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&failure) == nil && failure.Error != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, failure.Error)
		}
		return nil, fmt.Errorf("server error (%d)", resp.StatusCode)
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	c.token = s.Token
	return &s, nil
}
