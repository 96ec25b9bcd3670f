// Package client talks to the LangChef auth API on behalf of langchefctl.
package client

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

	"golang.org/x/oauth2"
)

const (
	defaultInterval = 5 * time.Second
	slowDownStep    = 5 * time.Second
)

var (
	// ErrExpired is returned when the device code expires before the user approves it.
	ErrExpired = errors.New("device code expired, run login again")
	// ErrDenied is returned when the user rejects the authorization request.
	ErrDenied = errors.New("authorization was denied")
)

// APIError is a non-success response from the server.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
}

// Registration is an OIDC client registered for a device login.
type Registration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DeviceAuthorization holds the codes the user needs to approve the login.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// User is the public view of the signed-in user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Active   bool   `json:"is_active"`
}

// Session is a bearer token issued by the server.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// CredentialStatus reports whether the user's delegated AWS credentials are still valid.
type CredentialStatus struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Client calls the auth API.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
	wait    func(ctx context.Context, d time.Duration) error
}

// New returns a Client for the unauthenticated login endpoints. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		now:     time.Now,
		wait:    sleep,
	}
}

// NewAuthenticated returns a Client that sends accessToken as a bearer token.
func NewAuthenticated(ctx context.Context, baseURL, accessToken string) *Client {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return New(baseURL, oauth2.NewClient(ctx, source))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RegisterClient registers a short-lived OIDC client for this login.
func (c *Client) RegisterClient(ctx context.Context) (*Registration, error) {
	var reg Registration
	if _, err := c.call(ctx, http.MethodPost, "/api/auth/register-client", nil, &reg, http.StatusOK); err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	return &reg, nil
}

// Authorize starts a device authorization for reg.
func (c *Client) Authorize(ctx context.Context, reg *Registration) (*DeviceAuthorization, error) {
	body := map[string]string{"client_id": reg.ClientID, "client_secret": reg.ClientSecret}
	var da DeviceAuthorization
	if _, err := c.call(ctx, http.MethodPost, "/api/auth/device-authorization", body, &da, http.StatusOK); err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	return &da, nil
}

type pollStatus struct {
	Status   string `json:"status"`
	Interval int    `json:"interval"`
}

// PollToken polls the token endpoint until the user approves or denies the login,
// or the device code expires. It waits the server's interval between polls and backs
// off on slow_down.
func (c *Client) PollToken(ctx context.Context, reg *Registration, da *DeviceAuthorization) (*Session, error) {
	interval := secondsOr(da.Interval, defaultInterval)
	deadline := c.now().Add(time.Duration(da.ExpiresIn) * time.Second)
	body := map[string]string{
		"client_id":     reg.ClientID,
		"client_secret": reg.ClientSecret,
		"device_code":   da.DeviceCode,
	}

	for {
		if da.ExpiresIn > 0 && c.now().Add(interval).After(deadline) {
			return nil, ErrExpired
		}
		if err := c.wait(ctx, interval); err != nil {
			return nil, err
		}

		resp, raw, err := c.do(ctx, http.MethodPost, "/api/auth/token", body)
		if err != nil {
			return nil, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("decode session: %w", err)
			}
			return &s, nil
		case http.StatusAccepted:
			var st pollStatus
			if err := json.Unmarshal(raw, &st); err == nil {
				interval = secondsOr(st.Interval, interval)
			}
		case http.StatusTooManyRequests:
			var st pollStatus
			if err := json.Unmarshal(raw, &st); err == nil && st.Interval > 0 {
				interval = time.Duration(st.Interval) * time.Second
			} else {
				interval += slowDownStep
			}
		case http.StatusGone:
			return nil, ErrExpired
		case http.StatusForbidden:
			return nil, ErrDenied
		default:
			return nil, apiError(resp.StatusCode, raw)
		}
	}
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.call(ctx, http.MethodGet, "/api/auth/me", nil, &u, http.StatusOK); err != nil {
		return nil, err
	}
	return &u, nil
}

// CredentialsStatus reports the state of the user's delegated AWS credentials.
func (c *Client) CredentialsStatus(ctx context.Context) (*CredentialStatus, error) {
	var st CredentialStatus
	if _, err := c.call(ctx, http.MethodGet, "/api/auth/credentials/status", nil, &st, http.StatusOK); err != nil {
		return nil, err
	}
	return &st, nil
}

// Refresh exchanges the current token for a new one.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	var s Session
	if _, err := c.call(ctx, http.MethodPost, "/api/auth/refresh", nil, &s, http.StatusOK); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}, want int) (*http.Response, error) {
	resp, raw, err := c.do(ctx, method, path, in)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		return resp, apiError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}) (*http.Response, []byte, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, raw, nil
}

func apiError(status int, raw []byte) error {
	e := &APIError{Status: status}
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		e.Code = body.Error
		e.Detail = body.Detail
	}
	if e.Code == "" {
		e.Code = http.StatusText(status)
	}
	return e
}

func secondsOr(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
