// Package credentials provides the PostgreSQL identity store used when the
// server runs with credential_store = "db".
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/dbx"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
	"github.com/dmitrijs2005/userdir/internal/server/models"
)

// Repository reads and seeds login credentials.
type Repository interface {
	auth.IdentitySource
	Find(ctx context.Context, username string) (*models.Credential, error)
	CreateIfAbsent(ctx context.Context, cred *models.Credential) (bool, error)
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Find looks username up case-insensitively.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) Find(ctx context.Context, username string) (*models.Credential, error) {
	query :=
		`SELECT username, password_hash, roles FROM credentials
		 WHERE lower(username) = lower($1)`

	var (
		cred  models.Credential
		roles string
	)
	err := r.db.QueryRowContext(ctx, query, username).Scan(&cred.Username, &cred.Hash, &roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	cred.RoleNames = splitRoles(roles)
	return &cred, nil
}

func (r *PostgresRepository) FindIdentity(ctx context.Context, username string) (auth.Identity, error) {
	cred, err := r.Find(ctx, username)
	if err != nil {
		return nil, err
	}
	return *cred, nil
}

// CreateIfAbsent inserts cred unless an account with the same name exists.
// It reports whether a row was written.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, cred *models.Credential) (bool, error) {
	query :=
		`INSERT INTO credentials (username, password_hash, roles)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, cred.Username, cred.Hash, strings.Join(cred.RoleNames, ","))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
