package remote

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

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/safe"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client is the HTTP client of the changegate server API
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

var _ interfaces.RemoteClient = (*Client)(nil)

// Option configures Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid server URL", goerr.V("url", baseURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, goerr.New("server URL must be http or https", goerr.V("url", baseURL))
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type tokenRequest struct {
	UserID   types.UserID `json:"user_id"`
	Password string       `json:"password"`
}

// Authenticate exchanges credentials for a bearer token
func (c *Client) Authenticate(ctx context.Context, userID types.UserID, password string) (*auth.Token, error) {
	var token auth.Token
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", "", nil, tokenRequest{UserID: userID, Password: password}, &token); err != nil {
		return nil, goerr.Wrap(err, "failed to authenticate", goerr.V(model.UserIDKey, userID))
	}
	return &token, nil
}

// Pull fetches every record visible to the token owner changed after since
func (c *Client) Pull(ctx context.Context, token string, since time.Time) (*model.SyncBatch, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var batch model.SyncBatch
	if err := c.do(ctx, http.MethodGet, "/api/sync", token, query, nil, &batch); err != nil {
		return nil, goerr.Wrap(err, "failed to pull", goerr.V("since", since))
	}
	return &batch, nil
}

// Push uploads local changes and returns how the server reconciled them
func (c *Client) Push(ctx context.Context, token string, batch *model.SyncBatch) (*model.ImportResult, error) {
	var result model.ImportResult
	if err := c.do(ctx, http.MethodPost, "/api/sync", token, nil, batch, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to push", goerr.V("records", batch.Len()))
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("url", u.String()))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(model.ErrNetworkUnavailable, "request failed",
			goerr.V("url", u.String()), goerr.V("reason", err.Error()))
	}
	defer safe.Drain(ctx, resp.Body)

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)), u.String())
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response", goerr.V("url", u.String()))
	}
	return nil
}

func statusError(status int, msg, u string) error {
	opts := []goerr.Option{goerr.V("status", status), goerr.V("url", u), goerr.V("body", msg)}
	reason := fmt.Sprintf("server returned %d", status)

	switch {
	case status >= http.StatusInternalServerError:
		return goerr.Wrap(model.ErrNetworkUnavailable, reason, opts...)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return goerr.Wrap(model.ErrUnauthorized, reason, opts...)
	case status == http.StatusBadRequest:
		return goerr.Wrap(model.ErrValidation, reason, opts...)
	case status == http.StatusNotFound:
		return goerr.Wrap(model.ErrNotFound, reason, opts...)
	case status == http.StatusConflict:
		return goerr.Wrap(model.ErrConflict, reason, opts...)
	default:
		return goerr.New(reason, opts...)
	}
}
