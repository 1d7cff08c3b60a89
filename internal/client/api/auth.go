package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cravecart/cravecart/internal/common"
)

// Auth calls the unauthenticated endpoints.
type Auth struct {
	base string
	hc   *http.Client
}

// NewAuth uses rt for every call; pass the un-gated transport.
func NewAuth(baseURL string, rt http.RoundTripper) *Auth {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Auth{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Transport: rt}}
}

func (a *Auth) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return a.credentials(ctx, "/auth/login", Credentials{Email: email, Password: password})
}

func (a *Auth) Register(ctx context.Context, c Credentials) (*AuthResponse, error) {
	return a.credentials(ctx, "/auth/register", c)
}

func (a *Auth) credentials(ctx context.Context, path string, c Credentials) (*AuthResponse, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out AuthResponse
	if err := do(a.hc, req, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("%w: %s returned no token", common.ErrorInternal, path)
	}
	return &out, nil
}

// Refresh implements reauth.Refresher.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	u := a.base + "/auth/refresh-token?" + url.Values{"refresh_token": {refreshToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, http.NoBody)
	if err != nil {
		return "", "", err
	}

	var out RefreshResponse
	if err := do(a.hc, req, &out); err != nil {
		return "", "", err
	}
	if out.AccessToken == "" {
		return "", "", errors.New("refresh returned no access token")
	}
	return out.AccessToken, out.RefreshToken, nil
}

func do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapStatus(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", common.ErrorInternal, req.URL.Path, err)
	}
	return nil
}
