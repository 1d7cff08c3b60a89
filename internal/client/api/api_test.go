package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cravecart/cravecart/internal/common"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var c Credentials
		_ = json.NewDecoder(r.Body).Decode(&c)
		if c.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, AuthResponse{Token: "T1", RefreshToken: "R1", User: &User{ID: "u1", Email: c.Email, Role: "user"}})
	})
	r.Post("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "email taken"})
	})
	r.Post("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("refresh_token") {
		case "R1":
			writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: "T2", RefreshToken: "R2"})
		case "R-keep":
			writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: "T2"})
		case "R-empty":
			writeJSON(w, http.StatusOK, RefreshResponse{})
		default:
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "refresh token expired"})
		}
	})
	r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, User{ID: "u1", Email: "a@example.com", Role: "user"})
	})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type bearer string

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+string(b))
	return http.DefaultTransport.RoundTrip(r)
}

func TestAuth_Login(t *testing.T) {
	srv := newServer(t)
	a := NewAuth(srv.URL+"/", nil)

	res, err := a.Login(context.Background(), "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Token)
	assert.Equal(t, "R1", res.RefreshToken)
	require.NotNil(t, res.User)
	assert.Equal(t, "a@example.com", res.User.Email)

	_, err = a.Login(context.Background(), "a@example.com", "wrong")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.ErrorContains(t, err, "invalid credentials")
}

func TestAuth_RegisterConflict(t *testing.T) {
	a := NewAuth(newServer(t).URL, nil)
	_, err := a.Register(context.Background(), Credentials{Email: "a@example.com", Password: "x"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestAuth_Refresh(t *testing.T) {
	a := NewAuth(newServer(t).URL, nil)
	ctx := context.Background()

	access, refresh, err := a.Refresh(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "T2", access)
	assert.Equal(t, "R2", refresh)

	access, refresh, err = a.Refresh(ctx, "R-keep")
	require.NoError(t, err)
	assert.Equal(t, "T2", access)
	assert.Empty(t, refresh)

	_, _, err = a.Refresh(ctx, "R-empty")
	assert.Error(t, err)

	_, _, err = a.Refresh(ctx, "bogus")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestAuth_Unreachable(t *testing.T) {
	srv := newServer(t)
	url := srv.URL
	srv.Close()

	_, err := NewAuth(url, nil).Login(context.Background(), "a", "b")
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestClient_Me(t *testing.T) {
	srv := newServer(t)

	u, err := NewClient(srv.URL, bearer("T2")).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = NewClient(srv.URL, bearer("T1")).Me(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestClient_Raw(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL, bearer("T2"))

	raw, err := c.Raw(context.Background(), http.MethodGet, "/auth/me")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","email":"a@example.com","role":"user"}`, string(raw))

	_, err = c.Raw(context.Background(), http.MethodGet, "/broken")
	assert.ErrorIs(t, err, common.ErrUnavailable)

	_, err = c.Raw(context.Background(), http.MethodGet, "/missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
