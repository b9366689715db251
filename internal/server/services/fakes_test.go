package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/dbx"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/users"
)

type fakeUsersRepo struct {
	mu     sync.Mutex
	byID   map[int64]models.User
	nextID int64

	createErr  error
	findAllErr error
	replaceErr error
	lookupErr  error

	replaced [][]models.User
}

func newFakeUsersRepo(seed ...models.User) *fakeUsersRepo {
	r := &fakeUsersRepo{byID: map[int64]models.User{}, nextID: 1}
	for _, u := range seed {
		r.byID[u.ID] = u
		if u.ID >= r.nextID {
			r.nextID = u.ID + 1
		}
	}
	return r
}

func (r *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	cp := *u
	if cp.ID == 0 {
		cp.ID = r.nextID
	}
	if cp.ID >= r.nextID {
		r.nextID = cp.ID + 1
	}
	r.byID[cp.ID] = cp
	return &cp, nil
}

func (r *fakeUsersRepo) ExistsByID(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return false, r.lookupErr
	}
	_, ok := r.byID[id]
	return ok, nil
}

func (r *fakeUsersRepo) FindByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r *fakeUsersRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsersRepo) FindAll(_ context.Context) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findAllErr != nil {
		return nil, r.findAllErr
	}
	return r.sortedLocked(), nil
}

func (r *fakeUsersRepo) Search(_ context.Context, query string) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.User
	for _, u := range r.sortedLocked() {
		for _, f := range []string{u.FirstName, u.LastName, u.Email, u.Username} {
			if strings.Contains(strings.ToLower(f), query) {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeUsersRepo) ReplaceAll(_ context.Context, batch []models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.replaced = append(r.replaced, batch)
	r.byID = map[int64]models.User{}
	for _, u := range batch {
		r.byID[u.ID] = u
	}
	return nil
}

func (r *fakeUsersRepo) sortedLocked() []models.User {
	out := make([]models.User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeManager struct {
	users *fakeUsersRepo
}

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeManager) Users(dbx.DBTX) users.Repository             { return m.users }
func (m *fakeManager) Credentials(dbx.DBTX) credentials.Repository { return nil }
