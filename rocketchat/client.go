// Package rocketchat is a small client for the REST API of a Rocket.Chat
// workspace. It holds no session state: every authenticated call receives the
// Session to act under, so one Client can serve many stored connections.
package rocketchat

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

	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxPages = 10
	DefaultPageSize = 100

	maxResponseBytes = 4 << 20

	headerAuthToken = "X-Auth-Token"
	headerUserID    = "X-User-Id"
)

type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	maxPages int
	pageSize int
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds every single call, independent of the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithMaxPages(n int) Option {
	return func(c *Client) { c.maxPages = n }
}

func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     &http.Client{CheckRedirect: sameHostRedirect},
		timeout:  DefaultTimeout,
		maxPages: DefaultMaxPages,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var errCrossHostRedirect = errors.New("redirect to another host refused")

// sameHostRedirect keeps the session headers from following a redirect to a
// different host.
func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		return errCrossHostRedirect
	}
	return nil
}

// Login exchanges credentials for a session. It never retries.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	const op = "login"

	var resp loginResponse
	err := c.do(ctx, op, http.MethodPost, "/api/v1/login", nil, nil, loginRequest{User: username, Password: password}, &resp)
	if err != nil {
		var rcErr *Error
		if errors.As(err, &rcErr) && rcErr.Kind == KindSemantic {
			rcErr.Kind = KindAuth
		}
		return Session{}, err
	}

	s := Session{Token: resp.Data.AuthToken, UserID: resp.Data.UserID}
	if resp.Status != "success" || !s.Valid() {
		return Session{}, &Error{Kind: KindAuth, Op: op, Status: http.StatusOK, Message: "login response carried no session"}
	}
	return s, nil
}

// TestConnection checks the session. A rejected session reports false with a
// nil error; an unreachable server reports the transport error.
func (c *Client) TestConnection(ctx context.Context, s Session) (bool, error) {
	if !s.Valid() {
		return false, nil
	}

	var me User
	err := c.do(ctx, "me", http.MethodGet, "/api/v1/me", nil, &s, nil, &me)
	if err != nil {
		if IsAuth(err) {
			return false, nil
		}
		return false, err
	}
	return me.ID != "", nil
}

// PostMessage delivers text to channel. channel is a room id, or a "#name" /
// "@username" target.
func (c *Client) PostMessage(ctx context.Context, s Session, channel, text string) (*PostedMessage, error) {
	const op = "chat.postMessage"

	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, &Error{Kind: KindSemantic, Op: op, Message: "channel is required"}
	}

	req := postMessageRequest{Text: text}
	if strings.HasPrefix(channel, "#") || strings.HasPrefix(channel, "@") {
		req.Channel = channel
	} else {
		req.RoomID = channel
	}

	var resp postMessageResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/v1/chat.postMessage", nil, &s, req, &resp); err != nil {
		return nil, err
	}
	if resp.Message.ID == "" {
		return nil, &Error{Kind: KindSemantic, Op: op, Status: http.StatusOK, Message: "message was not accepted"}
	}

	posted := resp.Message
	posted.Channel = resp.Channel
	return &posted, nil
}

func (c *Client) GetChannels(ctx context.Context, s Session) ([]Channel, error) {
	var channels []Channel
	err := c.paginate(ctx, "channels.list", "/api/v1/channels.list", s, func(body []byte) (int, int, error) {
		var page channelsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, 0, err
		}
		channels = append(channels, page.Channels...)
		return len(page.Channels), page.Total, nil
	})
	return channels, err
}

func (c *Client) GetEmojis(ctx context.Context, s Session) ([]Emoji, error) {
	var resp emojisResponse
	if err := c.do(ctx, "emoji-custom.list", http.MethodGet, "/api/v1/emoji-custom.list", nil, &s, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Emojis.Update, nil
}

func (c *Client) ListRoles(ctx context.Context, s Session) ([]Role, error) {
	var resp rolesResponse
	if err := c.do(ctx, "roles.list", http.MethodGet, "/api/v1/roles.list", nil, &s, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roles, nil
}

// paginate walks count/offset pages until the reported total is reached, a
// page comes back empty, or maxPages pages have been read.
func (c *Client) paginate(ctx context.Context, op, path string, s Session, collect func([]byte) (int, int, error)) error {
	seen := 0
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("count", fmt.Sprint(c.pageSize))
		q.Set("offset", fmt.Sprint(seen))

		var raw json.RawMessage
		if err := c.do(ctx, op, http.MethodGet, path, q, &s, nil, &raw); err != nil {
			return err
		}
		n, total, err := collect(raw)
		if err != nil {
			return &Error{Kind: KindSemantic, Op: op, Status: http.StatusOK, Message: "malformed response", err: err}
		}
		seen += n
		if n == 0 || seen >= total {
			return nil
		}
	}
	zap.L().Debug("pagination capped", zap.String("op", op), zap.Int("pages", c.maxPages), zap.Int("items", seen))
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, s *Session, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return &Error{Kind: KindSemantic, Op: op, Message: "could not encode request", err: err}
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Kind: KindSemantic, Op: op, Message: "invalid workspace url"}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		req.Header.Set(headerAuthToken, s.Token)
		req.Header.Set(headerUserID, s.UserID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(op, err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, remoteMessage(env))
	}
	if (env.Success != nil && !*env.Success) || env.Status == "error" {
		return &Error{Kind: KindSemantic, Op: op, Status: resp.StatusCode, Message: truncate(orDefault(remoteMessage(env), "request rejected"))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindSemantic, Op: op, Status: resp.StatusCode, Message: "malformed response", err: err}
	}
	return nil
}

func remoteMessage(env envelope) string {
	if env.Error != "" {
		return env.Error
	}
	return env.Message
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
