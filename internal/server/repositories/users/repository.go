package users

import (
	"context"

	"github.com/dmitrijs2005/userdir/internal/server/models"
)

// Repository persists directory users.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	ExistsByID(ctx context.Context, id int64) (bool, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindAll(ctx context.Context) ([]models.User, error)
	Search(ctx context.Context, query string) ([]models.User, error)
	ReplaceAll(ctx context.Context, users []models.User) error
}
