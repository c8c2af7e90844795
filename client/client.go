// Package client talks to a running server's http api.
package client

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

	"github.com/Programmerfd54/rocket-shelduer-sub002/api"
	apidispatch "github.com/Programmerfd54/rocket-shelduer-sub002/api/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/user"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
)

type Client struct {
	host      string
	sessionId string
	http      *http.Client
	User      database.User
}

func NewClient(host string) *Client {
	return &Client{
		host: strings.TrimRight(host, "/"),
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) GetSessionId() string {
	return c.sessionId
}

func (c *Client) SetSessionId(sessionId string) {
	c.sessionId = sessionId
}

// StatusError is a non 2xx answer of the server.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.host)
	if c.sessionId != "" {
		req.Header.Set("Authorization", "Session "+c.sessionId)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// LoginUser logs in and keeps the session for later calls.
func (c *Client) LoginUser(ctx context.Context, email string, password string) (string, error) {
	var u database.User
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/user/login", nil, user.UserLogin{
		Email:    email,
		Password: password,
	}, &u)
	if err != nil {
		return "", err
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == api.SessionCookie {
			c.sessionId = cookie.Value
		}
	}
	if c.sessionId == "" {
		return "", fmt.Errorf("login response carried no session cookie")
	}
	c.User = u
	return c.sessionId, nil
}

func (c *Client) GetUserInfo(ctx context.Context) (*database.User, error) {
	var u database.User
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/user/self", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// RunDispatch triggers a dispatch tick with the bearer secret.
func (c *Client) RunDispatch(ctx context.Context, secret string) (*apidispatch.RunResponse, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+secret)

	var out apidispatch.RunResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/dispatch/run", header, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetryMessage(ctx context.Context, messageUUID string) (*database.ScheduledMessage, error) {
	var msg database.ScheduledMessage
	path := fmt.Sprintf("/api/v1/messages/%s/retry", url.PathEscape(messageUUID))
	if _, err := c.do(ctx, http.MethodPost, path, nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) ListMessages(ctx context.Context, status string, all bool) ([]database.ScheduledMessage, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if all {
		query.Set("scope", "all")
	}
	path := "/api/v1/messages"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out struct {
		Rows []database.ScheduledMessage `json:"rows"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

func (c *Client) ListConnections(ctx context.Context) ([]database.WorkspaceConnection, error) {
	var out struct {
		Rows []database.WorkspaceConnection `json:"rows"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/connections", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}
