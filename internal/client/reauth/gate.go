// Package reauth serializes access-token refreshes across concurrent
// requests of one session.
//
// Gate is an http.RoundTripper. A request that comes back 401 either
// becomes the single refresh holder, or waits for the current holder and
// then replays with whatever token the holder stored. At most one refresh
// call is in flight per Gate, and a failed refresh logs the session out
// instead of being retried.
package reauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cravecart/cravecart/internal/client/tokenstore"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
)

// Refresher exchanges a refresh token for a new pair. An empty refresh in
// the result means the old one stays valid.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

type TokenStore interface {
	Get() tokenstore.Tokens
	Set(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

type Options struct {
	// Base sends the actual requests. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// OnLogout runs after the store was cleared because the session could
	// not be refreshed. It receives the cause.
	OnLogout func(ctx context.Context, cause error)

	// RefreshTimeout bounds the refresh call. Zero means no bound beyond
	// the request's own context.
	RefreshTimeout time.Duration

	Logger logging.Logger
}

type Gate struct {
	base      http.RoundTripper
	store     TokenStore
	refresher Refresher
	onLogout  func(context.Context, error)
	timeout   time.Duration
	log       logging.Logger

	// held by the refresh holder for the whole refresh and replay
	sem *semaphore.Weighted
}

func New(store TokenStore, refresher Refresher, opts Options) *Gate {
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Gate{
		base:      opts.Base,
		store:     store,
		refresher: refresher,
		onLogout:  opts.OnLogout,
		timeout:   opts.RefreshTimeout,
		log:       opts.Logger.With("module", "reauth"),
		sem:       semaphore.NewWeighted(1),
	}
}

// RoundTrip sends req with the current access token and handles a 401 as
// described in the package doc. Any other status is returned as is.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := g.store.Get().AccessToken

	resp, err := g.send(req, sent, req.Body)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if g.sem.TryAcquire(1) {
		defer g.sem.Release(1)
		return g.hold(req, sent, resp)
	}
	return g.wait(req, sent, resp)
}

func (g *Gate) hold(req *http.Request, sent string, first *http.Response) (*http.Response, error) {
	ctx := req.Context()
	cur := g.store.Get()

	// a refresh finished between our send and the 401
	if cur.AccessToken != "" && cur.AccessToken != sent {
		return g.replay(req, cur.AccessToken, first)
	}

	// sent anonymously with nothing stored: there is no session to end
	if sent == "" && cur.AccessToken == "" && cur.RefreshToken == "" {
		return first, nil
	}

	if cur.RefreshToken == "" {
		g.logout(ctx, fmt.Errorf("%w: no refresh token", common.ErrRefreshFailed))
		return first, nil
	}

	g.log.Debug(ctx, "refreshing access token", "path", req.URL.Path)
	access, refresh, err := g.refresh(ctx, cur.RefreshToken)
	if err != nil {
		g.logout(ctx, fmt.Errorf("%w: %v", common.ErrRefreshFailed, err))
		return first, nil
	}

	if err := g.store.Set(ctx, access, refresh); err != nil {
		if errors.Is(err, common.ErrDecode) {
			g.logout(ctx, fmt.Errorf("%w: %v", common.ErrRefreshFailed, err))
			return first, nil
		}
		// persisted copy is stale but the in-memory pair is live
		g.log.Warn(ctx, "refreshed tokens not persisted", "error", err)
	}
	g.log.Info(ctx, "access token refreshed")

	return g.replay(req, access, first)
}

func (g *Gate) wait(req *http.Request, sent string, first *http.Response) (*http.Response, error) {
	ctx := req.Context()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return first, nil
	}
	g.sem.Release(1)

	cur := g.store.Get().AccessToken
	if cur == "" || cur == sent {
		return first, nil
	}
	return g.replay(req, cur, first)
}

func (g *Gate) refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.refresher.Refresh(ctx, refreshToken)
}

// replay resends req once with token. The original 401 is returned when the
// body cannot be rewound.
func (g *Gate) replay(req *http.Request, token string, first *http.Response) (*http.Response, error) {
	body := req.Body
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			g.log.Warn(req.Context(), "request body not replayable", "path", req.URL.Path)
			return first, nil
		}
		var err error
		if body, err = req.GetBody(); err != nil {
			return first, nil
		}
	}

	discard(first)
	return g.send(req, token, body)
}

func (g *Gate) send(req *http.Request, token string, body io.ReadCloser) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Body = body
	if token != "" {
		r.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	} else {
		r.Header.Del(common.AuthorizationHeaderName)
	}
	return g.base.RoundTrip(r)
}

func (g *Gate) logout(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	g.log.Warn(ctx, "session logged out", "cause", cause)
	if err := g.store.Clear(ctx); err != nil {
		g.log.Error(ctx, "clear tokens", "error", err)
	}
	if g.onLogout != nil {
		g.onLogout(ctx, cause)
	}
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
