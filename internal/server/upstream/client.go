// Package upstream fetches user records from the external user source, a
// dummyjson-style GET endpoint returning {"users": [...], "total", ...}.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/netx"
)

// RemoteUser is one element of the upstream "users" array. Fields the
// directory does not store, such as company, are not decoded.
type RemoteUser struct {
	ID        int64           `json:"id"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Age       int             `json:"age"`
	Gender    string          `json:"gender"`
	Username  string          `json:"username"`
	Phone     string          `json:"phone"`
	SSN       string          `json:"ssn"`
	Address   json.RawMessage `json:"address"`
}

// UsersPage is the upstream response envelope. Users is nil when the
// payload carried "users": null or no users key at all.
type UsersPage struct {
	Users []RemoteUser `json:"users"`
	Total int          `json:"total"`
	Skip  int          `json:"skip"`
	Limit int          `json:"limit"`
}

// Client performs the single GET of a sync attempt.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient validates endpoint and returns a client for it. A timeout of
// zero leaves request lifetime to the caller's context.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) (*Client, error) {
	if err := netx.ValidateHTTPURL(endpoint); err != nil {
		return nil, err
	}

	c := &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the URL the client fetches.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchUsers performs one GET and decodes the envelope. It also returns the
// raw body for archiving. Transport errors, non-2xx responses, undecodable
// bodies and a missing users array all wrap common.ErrorUpstreamUnavailable.
func (c *Client) FetchUsers(ctx context.Context) (*UsersPage, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := netx.Get(ctx, c.http, c.endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch %s: %w", common.ErrorUpstreamUnavailable, c.endpoint, err)
	}

	page := &UsersPage{}
	if err := json.Unmarshal(body, page); err != nil {
		return nil, nil, fmt.Errorf("%w: decode response: %w", common.ErrorUpstreamUnavailable, err)
	}
	if page.Users == nil {
		return nil, nil, fmt.Errorf("%w: no data returned", common.ErrorUpstreamUnavailable)
	}

	return page, body, nil
}
