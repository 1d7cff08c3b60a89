package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Client sends authenticated requests. The transport is expected to attach
// the bearer token, normally a *reauth.Gate.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string, rt http.RoundTripper) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Transport: rt}}
}

// Me returns the identity behind the current access token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.JSON(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// JSON sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return do(c.hc, req, out)
}

// Raw sends a request and returns the body of a 2xx response as is.
func (c *Client) Raw(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := do(c.hc, req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
