package cookies

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cravecart/cravecart/internal/client/models"
	"github.com/cravecart/cravecart/internal/client/storage"
	"github.com/cravecart/cravecart/internal/dbx"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	exp := time.UnixMilli(1_900_000_000_123)

	require.NoError(t, r.Put(ctx, models.Cookie{Name: "token", Value: "T1", ExpiresAt: exp}))

	c, err := r.Get(ctx, "token")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "T1", c.Value)
	assert.True(t, exp.Equal(c.ExpiresAt))
}

func TestGet_Absent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	c, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestPut_SessionCookieAndUpsert(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, models.Cookie{Name: "token", Value: "old", ExpiresAt: time.Now()}))
	require.NoError(t, r.Put(ctx, models.Cookie{Name: "token", Value: "new"}))

	c, err := r.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "new", c.Value)
	assert.True(t, c.ExpiresAt.IsZero())
}

func TestDeleteAndList(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, r.Put(ctx, models.Cookie{Name: n, Value: n}))
	}
	require.NoError(t, r.Delete(ctx, "a", "c"))
	require.NoError(t, r.Delete(ctx, "a"))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Name)

	require.NoError(t, r.Delete(ctx))
	list, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPurgeExpired(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, r.Put(ctx, models.Cookie{Name: "past", Value: "x", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, r.Put(ctx, models.Cookie{Name: "edge", Value: "x", ExpiresAt: now}))
	require.NoError(t, r.Put(ctx, models.Cookie{Name: "future", Value: "x", ExpiresAt: now.Add(time.Second)}))
	require.NoError(t, r.Put(ctx, models.Cookie{Name: "session", Value: "x"}))

	n, err := r.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "future", list[0].Name)
	assert.Equal(t, "session", list[1].Name)
}

func TestWorksInsideTransaction(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := NewSQLiteRepository(tx)
		if err := r.Put(ctx, models.Cookie{Name: "token", Value: "T1"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	c, err := NewSQLiteRepository(db).Get(ctx, "token")
	require.NoError(t, err)
	assert.Nil(t, c, "rolled back")
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	assert.ErrorContains(t, err, "failed to get cookie[k]")
	assert.ErrorContains(t, r.Put(ctx, models.Cookie{Name: "k"}), "failed to put cookie[k]")
	assert.ErrorContains(t, r.Delete(ctx, "k"), "failed to delete cookies")
	_, err = r.List(ctx)
	assert.ErrorContains(t, err, "failed to list cookies")
	_, err = r.PurgeExpired(ctx, time.Now())
	assert.ErrorContains(t, err, "failed to purge cookies")
}
