// Package services contains application services for the CraveCart client.
// This file defines the session lifecycle: login, register, restore at boot
// and logout, plus the teardown run when the session ends on its own.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/client/api"
	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/realtime"
	"github.com/cravecart/cravecart/internal/client/session"
	"github.com/cravecart/cravecart/internal/client/tokenstore"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/logging"
)

// AuthService owns the lifetime of one Session.
//
// Contract:
//   - Login/Register: authenticate, store the token pair, connect the channel.
//   - Restore: resume a session saved by a previous run.
//   - Logout: stop tracking, disconnect the channel, clear the tokens.
//   - EndSession: the same teardown when the session ends without the user
//     asking (refresh failure, expiry); the user is notified of the cause.
//   - Identity: the current claims, nil when logged out.
//
// A channel that fails to connect does not undo a login; the failure is
// surfaced and the session stays valid for REST calls.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*session.Claims, error)
	Register(ctx context.Context, c api.Credentials) (*session.Claims, error)
	Restore(ctx context.Context) (*session.Claims, error)
	Logout(ctx context.Context) error
	EndSession(ctx context.Context, cause error)
	Identity() *session.Claims
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, c api.Credentials) (*api.AuthResponse, error)
}

type TokenStore interface {
	Get() tokenstore.Tokens
	Set(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
	Load(ctx context.Context) (tokenstore.Tokens, error)
}

type Channel interface {
	Connect(ctx context.Context, token string) (*realtime.Connection, error)
	Disconnect()
}

// Tracker is stopped before the channel goes away.
type Tracker interface {
	StopTracking(ctx context.Context)
}

// Resetter drops per-session state such as sharing grants.
type Resetter interface {
	Reset()
}

type AuthOptions struct {
	Tracker  Tracker
	Sharing  Resetter
	Notifier notify.Notifier
	Logger   logging.Logger
	Now      func() time.Time
}

type authService struct {
	auth     Authenticator
	store    TokenStore
	channel  Channel
	tracker  Tracker
	sharing  Resetter
	notifier notify.Notifier
	log      logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	identity *session.Claims
}

func NewAuthService(auth Authenticator, store TokenStore, channel Channel, opts AuthOptions) AuthService {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &authService{
		auth:     auth,
		store:    store,
		channel:  channel,
		tracker:  opts.Tracker,
		sharing:  opts.Sharing,
		notifier: opts.Notifier,
		log:      opts.Logger.With("module", "auth"),
		now:      opts.Now,
	}
}

func (a *authService) Login(ctx context.Context, email, password string) (*session.Claims, error) {
	resp, err := a.auth.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	return a.begin(ctx, resp)
}

func (a *authService) Register(ctx context.Context, c api.Credentials) (*session.Claims, error) {
	resp, err := a.auth.Register(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("register error: %w", err)
	}
	return a.begin(ctx, resp)
}

func (a *authService) begin(ctx context.Context, resp *api.AuthResponse) (*session.Claims, error) {
	claims, err := session.Decode(resp.Token)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(claims, a.now()) {
		return nil, common.ErrSessionExpired
	}

	if err := a.store.Set(ctx, resp.Token, resp.RefreshToken); err != nil {
		if errors.Is(err, common.ErrDecode) {
			return nil, err
		}
		a.log.Warn(ctx, "session not persisted", "error", err)
	}

	a.setIdentity(claims)
	a.log.Info(ctx, "logged in", "user_id", claims.ID, "role", claims.Role)
	a.connect(ctx, resp.Token)
	return claims, nil
}

// Restore resumes the stored session. Without stored tokens it returns
// common.ErrNotLoggedIn; a malformed or expired token tears the session
// down and returns common.ErrDecode or common.ErrSessionExpired.
func (a *authService) Restore(ctx context.Context) (*session.Claims, error) {
	t, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if t.AccessToken == "" {
		if t.RefreshToken != "" {
			// the access cookie lapsed with its token
			a.EndSession(ctx, common.ErrSessionExpired)
			return nil, common.ErrSessionExpired
		}
		return nil, common.ErrNotLoggedIn
	}

	claims, err := session.Decode(t.AccessToken)
	if err != nil {
		a.EndSession(ctx, err)
		return nil, err
	}
	if session.IsExpired(claims, a.now()) {
		a.EndSession(ctx, common.ErrSessionExpired)
		return nil, common.ErrSessionExpired
	}

	a.setIdentity(claims)
	a.log.Info(ctx, "session restored", "user_id", claims.ID)
	a.connect(ctx, t.AccessToken)
	return claims, nil
}

func (a *authService) Logout(ctx context.Context) error {
	if a.Identity() == nil {
		return common.ErrNotLoggedIn
	}
	a.teardown(ctx)
	a.log.Info(ctx, "logged out")
	notify.Send(ctx, a.notifier, notify.Info, "logged out", nil)
	return nil
}

func (a *authService) EndSession(ctx context.Context, cause error) {
	a.teardown(ctx)
	a.log.Warn(ctx, "session ended", "cause", cause)
	notify.Send(ctx, a.notifier, notify.Error, "session ended, please log in again", cause)
}

func (a *authService) Identity() *session.Claims {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// teardown stops tracking while the channel can still carry the
// stop-tracking event, then disconnects and clears the tokens.
func (a *authService) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	if a.tracker != nil {
		a.tracker.StopTracking(ctx)
	}
	a.channel.Disconnect()
	if err := a.store.Clear(ctx); err != nil {
		a.log.Error(ctx, "clear tokens", "error", err)
	}
	if a.sharing != nil {
		a.sharing.Reset()
	}
	a.setIdentity(nil)
}

func (a *authService) connect(ctx context.Context, token string) {
	if _, err := a.channel.Connect(ctx, token); err != nil {
		a.log.Warn(ctx, "realtime channel unavailable", "error", err)
		notify.Send(ctx, a.notifier, notify.Error, "realtime updates unavailable", err)
	}
}

func (a *authService) setIdentity(c *session.Claims) {
	a.mu.Lock()
	a.identity = c
	a.mu.Unlock()
}
