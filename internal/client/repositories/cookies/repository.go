// Package cookies persists the client's cookie jar in SQLite.
package cookies

import (
	"context"
	"time"

	"github.com/cravecart/cravecart/internal/client/models"
)

type Repository interface {
	// Get returns (nil, nil) when name is absent.
	Get(ctx context.Context, name string) (*models.Cookie, error)
	Put(ctx context.Context, c models.Cookie) error
	Delete(ctx context.Context, names ...string) error
	List(ctx context.Context) ([]models.Cookie, error)
	// PurgeExpired removes every entry expired at now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
