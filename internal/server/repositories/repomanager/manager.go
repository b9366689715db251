package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/userdir/internal/dbx"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so that services can
// use the same repository type with the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Credentials(db dbx.DBTX) credentials.Repository
}
