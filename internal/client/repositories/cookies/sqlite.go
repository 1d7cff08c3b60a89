package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cravecart/cravecart/internal/client/models"
	"github.com/cravecart/cravecart/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository works on a *sql.DB or on a transaction.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// expires_at is unix milliseconds; 0 marks a session cookie.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (r *SQLiteRepository) Get(ctx context.Context, name string) (*models.Cookie, error) {
	c := models.Cookie{Name: name}
	var exp int64
	err := r.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cookies WHERE name = ?`, name).Scan(&c.Value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cookie[%s]: %w", name, err)
	}
	c.ExpiresAt = fromMillis(exp)
	return &c, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, c models.Cookie) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cookies (name, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, c.Name, c.Value, toMillis(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to put cookie[%s]: %w", c.Name, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		_, err := r.db.ExecContext(ctx, `DELETE FROM cookies`)
		if err != nil {
			return fmt.Errorf("failed to clear cookies: %w", err)
		}
		return nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	q := `DELETE FROM cookies WHERE name IN (?` + strings.Repeat(`, ?`, len(names)-1) + `)`
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to delete cookies %v: %w", names, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Cookie, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, value, expires_at FROM cookies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cookies: %w", err)
	}
	defer rows.Close()

	var out []models.Cookie
	for rows.Next() {
		var c models.Cookie
		var exp int64
		if err := rows.Scan(&c.Name, &c.Value, &exp); err != nil {
			return nil, fmt.Errorf("failed to scan cookie row: %w", err)
		}
		c.ExpiresAt = fromMillis(exp)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cookie rows: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cookies WHERE expires_at <> 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cookies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
