package repomanager

import (
	"context"
	"database/sql"

	"github.com/cravecart/cravecart/internal/dbx"
	"github.com/cravecart/cravecart/internal/server/repositories/refreshtokens"
	"github.com/cravecart/cravecart/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a pool or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
