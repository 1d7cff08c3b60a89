// Package tokenstore keeps the session's access/refresh token pair.
//
// The in-memory view is authoritative for readers: Set and Clear update it
// before they return, so a Get on any goroutine right after observes the
// change. Every write is also mirrored to the SQLite cookie jar so that the
// session survives a restart (see Load).
package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/client/models"
	"github.com/cravecart/cravecart/internal/client/repositories/cookies"
	"github.com/cravecart/cravecart/internal/client/session"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/dbx"
	"github.com/cravecart/cravecart/internal/logging"
)

const (
	AccessCookie  = "token"
	RefreshCookie = "refresh_token"

	DefaultRefreshRetention = 7 * 24 * time.Hour
)

// Tokens is a snapshot of the store. Empty strings mean absent.
type Tokens struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is the access token's exp claim; zero when it has none.
	ExpiresAt time.Time
}

type Options struct {
	RefreshRetention time.Duration

	// Secure marks rendered cookies Secure; set in production.
	Secure bool

	Now    func() time.Time
	Logger logging.Logger
}

type Store struct {
	db     *sql.DB
	repo   func(dbx.DBTX) cookies.Repository
	retain time.Duration
	secure bool
	now    func() time.Time
	log    logging.Logger

	mu      sync.RWMutex
	access  models.Cookie
	refresh models.Cookie
}

// New returns an empty store. A nil db keeps tokens in memory only.
func New(db *sql.DB, opts Options) *Store {
	if opts.RefreshRetention <= 0 {
		opts.RefreshRetention = DefaultRefreshRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Store{
		db:     db,
		repo:   func(q dbx.DBTX) cookies.Repository { return cookies.NewSQLiteRepository(q) },
		retain: opts.RefreshRetention,
		secure: opts.Secure,
		now:    opts.Now,
		log:    opts.Logger.With("module", "tokenstore"),
	}
}

// Set stores a new token pair. The access cookie expires with the token's
// own exp claim and the refresh cookie after the retention window. A
// malformed access token fails with common.ErrDecode and changes nothing.
//
// If persisting fails the in-memory view still holds the new pair and the
// error is returned wrapped in common.ErrorInternal.
func (s *Store) Set(ctx context.Context, access, refresh string) error {
	claims, err := session.Decode(access)
	if err != nil {
		return err
	}

	a := models.Cookie{Name: AccessCookie, Value: access, ExpiresAt: claims.Expiry()}
	r := models.Cookie{Name: RefreshCookie, Value: refresh, ExpiresAt: s.now().Add(s.retain)}

	s.mu.Lock()
	s.access = a
	if refresh != "" {
		s.refresh = r
	}
	s.mu.Unlock()

	return s.persist(ctx, func(ctx context.Context, repo cookies.Repository) error {
		if err := repo.Put(ctx, a); err != nil {
			return err
		}
		if refresh == "" {
			return nil
		}
		return repo.Put(ctx, r)
	})
}

// Get returns the current tokens. Entries past their expiry read as absent.
func (s *Store) Get() Tokens {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Tokens
	if s.access.Value != "" && !s.access.Expired(now) {
		t.AccessToken = s.access.Value
		t.ExpiresAt = s.access.ExpiresAt
	}
	if s.refresh.Value != "" && !s.refresh.Expired(now) {
		t.RefreshToken = s.refresh.Value
	}
	return t
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.access = models.Cookie{}
	s.refresh = models.Cookie{}
	s.mu.Unlock()

	return s.persist(ctx, func(ctx context.Context, repo cookies.Repository) error {
		return repo.Delete(ctx, AccessCookie, RefreshCookie)
	})
}

// Load restores the pair saved by a previous run, dropping expired entries.
// It returns the restored snapshot.
func (s *Store) Load(ctx context.Context) (Tokens, error) {
	if s.db == nil {
		return s.Get(), nil
	}

	var list []models.Cookie
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repo(tx)
		n, err := repo.PurgeExpired(ctx, s.now())
		if err != nil {
			return err
		}
		if n > 0 {
			s.log.Debug(ctx, "purged expired cookies", "count", n)
		}
		list, err = repo.List(ctx)
		return err
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: load cookies: %v", common.ErrorInternal, err)
	}

	s.mu.Lock()
	for _, c := range list {
		switch c.Name {
		case AccessCookie:
			s.access = c
		case RefreshCookie:
			s.refresh = c
		}
	}
	s.mu.Unlock()

	return s.Get(), nil
}

// Cookies renders the live entries the way the web client stores them.
func (s *Store) Cookies() []*http.Cookie {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*http.Cookie
	for _, c := range []models.Cookie{s.access, s.refresh} {
		if c.Value == "" || c.Expired(now) {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			Expires:  c.ExpiresAt,
			Secure:   s.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
	return out
}

func (s *Store) persist(ctx context.Context, fn func(context.Context, cookies.Repository) error) error {
	if s.db == nil {
		return nil
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, s.repo(tx))
	})
	if err != nil {
		s.log.Error(ctx, "persist cookies", "error", err)
		return fmt.Errorf("%w: persist cookies: %v", common.ErrorInternal, err)
	}
	return nil
}
