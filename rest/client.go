// Package rest is the HTTP layer shared by the service package: a small
// JSON client carrying workspace authorization, plus the error envelope
// the management API returns on failure.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// Version is the SDK version reported in the User-Agent header.
const Version = "0.1.0"

var log = commonlog.GetLogger("atelier.rest")

// Client issues JSON requests against a management endpoint. The zero
// value is not usable; construct with New.
type Client struct {
	// Endpoint is the base URL, without trailing slash.
	Endpoint string

	// Token is sent as a bearer authorization on every request.
	Token string

	// HTTP is the underlying client. Defaults to http.DefaultClient.
	HTTP *http.Client

	session string
}

// New creates a client for the given endpoint and authorization token.
func New(endpoint, token string) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Token:    token,
		HTTP:     http.DefaultClient,
		session:  uuid.NewString(),
	}
}

// GetJSON issues a GET against path (relative to the endpoint) and
// unmarshals the response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.Endpoint+path, nil, out)
}

// PutJSON issues a PUT with body marshaled as JSON, unmarshaling the
// response into out when out is non-nil.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, c.Endpoint+path, body, out)
}

// PostJSON issues a POST with body marshaled as JSON, unmarshaling the
// response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, c.Endpoint+path, body, out)
}

// PostURL issues a POST against an absolute URL with its own bearer key.
// Execution endpoints live on a different host than the management API
// and carry per-service keys.
func (c *Client) PostURL(ctx context.Context, url, key string, body, out any) error {
	return c.doAuth(ctx, http.MethodPost, url, key, body, out)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	return c.doAuth(ctx, method, url, c.Token, body, out)
}

func (c *Client) doAuth(ctx context.Context, method, url, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("User-Agent", "atelier-go/"+Version)
	req.Header.Set("X-Atelier-Session", c.session)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	log.Debugf("%s %s", method, url)
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rest: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("rest: decode response: %w", err)
		}
	}
	return nil
}
