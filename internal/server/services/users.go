// Package services contains server-side business logic. This file implements
// UserService, the directory façade over the users repository: creation with
// uniqueness checks, lookups, free-text search and listing.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/repomanager"
)

// MinSearchQueryLength is the shortest accepted search query, after trimming.
const MinSearchQueryLength = 3

// UserService serves and creates directory users.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		log:         log.With("module", "users"),
	}
}

// Create validates and stores user. A client-supplied id that already exists
// or an email already in use yields common.ErrorConflict.
func (s *UserService) Create(ctx context.Context, user models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorValidation, err.Error())
	}
	if user.Role == "" {
		user.Role = common.DefaultUserRole
	}

	repo := s.repomanager.Users(s.db)

	if user.ID != 0 {
		exists, err := repo.ExistsByID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("check user id: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: user with id %d already exists", common.ErrorConflict, user.ID)
		}
	}

	_, err := repo.FindByEmail(ctx, user.Email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: user with email %s already exists", common.ErrorConflict, user.Email)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("check user email: %w", err)
	}

	s.log.Info(ctx, "creating user", "first_name", user.FirstName, "last_name", user.LastName)

	created, err := repo.Create(ctx, &user)
	if err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return nil, fmt.Errorf("%w: user with id %d or email %s already exists", common.ErrorConflict, user.ID, user.Email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// GetByID returns the user with the given id.
func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if id < 1 {
		return nil, fmt.Errorf("%w: id must be at least 1", common.ErrorValidation)
	}

	u, err := s.repomanager.Users(s.db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user not found: %d", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// GetByEmail returns the user registered with email, matched exactly.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, fmt.Errorf("%w: email %s", common.ErrorValidation, err.Error())
	}

	u, err := s.repomanager.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user not found for email: %s", common.ErrorNotFound, email)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// Search matches query case-insensitively against first name, last name,
// email and username.
func (s *UserService) Search(ctx context.Context, query string) ([]models.User, error) {
	if len([]rune(strings.TrimSpace(query))) < MinSearchQueryLength {
		return nil, fmt.Errorf("%w: query must be at least %d characters long", common.ErrorValidation, MinSearchQueryLength)
	}

	found, err := s.repomanager.Users(s.db).Search(ctx, strings.ToLower(query))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return found, nil
}

// ListAll returns every user projected to UserResponse, ordered by id.
func (s *UserService) ListAll(ctx context.Context) ([]models.UserResponse, error) {
	all, err := s.repomanager.Users(s.db).FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]models.UserResponse, 0, len(all))
	for _, u := range all {
		out = append(out, models.NewUserResponse(u))
	}
	return out, nil
}
