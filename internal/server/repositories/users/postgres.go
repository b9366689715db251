// Package users implements the PostgreSQL repository of directory users.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/dbx"
	"github.com/dmitrijs2005/userdir/internal/server/models"
)

const uniqueViolation = "23505"

const selectColumns = `id, first_name, last_name, email, age, ssn, role, phone, username, gender, address_json`

const insertColumns = `first_name, last_name, email, age, ssn, role, phone, username, gender, address_json`

// Postgres accepts at most 65535 bind parameters per statement and a bulk
// insert row carries 11.
const (
	maxBindParams = 65535
	bulkColumns   = 11
)

// insertBatchSize is the number of rows per bulk INSERT statement.
var insertBatchSize = maxBindParams / bulkColumns

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts user. A zero ID lets the database assign one; an explicit ID
// is kept and the id sequence is moved past it. Unique violations map to
// common.ErrorConflict.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == 0 {
		query :=
			`INSERT INTO users (` + insertColumns + `)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`

		err := r.db.QueryRowContext(ctx, query,
			user.FirstName, user.LastName, user.Email, user.Age, user.SSN,
			user.Role, user.Phone, user.Username, user.Gender, user.AddressJSON,
		).Scan(&user.ID)
		if err != nil {
			return nil, wrapError(err)
		}
		return user, nil
	}

	query :=
		`INSERT INTO users (id, ` + insertColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.FirstName, user.LastName, user.Email, user.Age, user.SSN,
		user.Role, user.Phone, user.Username, user.Gender, user.AddressJSON,
	)
	if err != nil {
		return nil, wrapError(err)
	}

	if err := r.syncSequence(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail matches the address exactly.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+selectColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) FindAll(ctx context.Context) ([]models.User, error) {
	return r.findMany(ctx, `SELECT `+selectColumns+` FROM users ORDER BY id`)
}

// Search returns users whose first name, last name, email or username
// contains query, ignoring case. LIKE wildcards in query match literally.
func (r *PostgresRepository) Search(ctx context.Context, query string) ([]models.User, error) {
	q :=
		`SELECT ` + selectColumns + ` FROM users
		 WHERE lower(first_name) LIKE $1 ESCAPE '\'
		    OR lower(last_name) LIKE $1 ESCAPE '\'
		    OR lower(email) LIKE $1 ESCAPE '\'
		    OR lower(username) LIKE $1 ESCAPE '\'
		 ORDER BY id`
	return r.findMany(ctx, q, "%"+escapeLike(strings.ToLower(query))+"%")
}

// ReplaceAll deletes every user and inserts users keeping their ids, in
// batches of insertBatchSize rows. Callers run it inside a transaction so
// readers never observe the empty table or a partial batch.
func (r *PostgresRepository) ReplaceAll(ctx context.Context, users []models.User) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if len(users) == 0 {
		return nil
	}

	for start := 0; start < len(users); start += insertBatchSize {
		end := min(start+insertBatchSize, len(users))

		query, args := bulkInsert(users[start:end])
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return wrapError(err)
		}
	}

	return r.syncSequence(ctx)
}

func bulkInsert(users []models.User) (string, []any) {
	const cols = bulkColumns

	var sb strings.Builder
	sb.WriteString(`INSERT INTO users (id, ` + insertColumns + `) VALUES `)

	args := make([]any, 0, len(users)*cols)
	for i, u := range users {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 1; j <= cols; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j)
		}
		sb.WriteString(")")

		args = append(args, u.ID, u.FirstName, u.LastName, u.Email, u.Age, u.SSN,
			u.Role, u.Phone, u.Username, u.Gender, u.AddressJSON)
	}

	return sb.String(), args
}

func (r *PostgresRepository) syncSequence(ctx context.Context) error {
	query := `SELECT setval(pg_get_serial_sequence('users', 'id'), COALESCE(MAX(id), 1)) FROM users`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u := &models.User{}
	if err := scanUser(r.db.QueryRowContext(ctx, query, arg), u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) findMany(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner, u *models.User) error {
	return s.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Age, &u.SSN,
		&u.Role, &u.Phone, &u.Username, &u.Gender, &u.AddressJSON)
}

func wrapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrorConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
