package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository in memory.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]model.User
	byLogin map[string]uuid.UUID
	byIntra map[string]uuid.UUID
}

// NewUserRepo constructs an empty user repository.
func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:    make(map[uuid.UUID]model.User),
		byLogin: make(map[string]uuid.UUID),
		byIntra: make(map[string]uuid.UUID),
	}
}

// Create stores a copy of u.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byLogin[u.Login]; taken {
		return errs.ErrAlreadyExists
	}
	if _, taken := r.byIntra[u.IntraID]; taken {
		return errs.ErrAlreadyExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.byID[u.ID] = *u
	r.byLogin[u.Login] = u.ID
	r.byIntra[u.IntraID] = u.ID
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByLogin loads a user by login.
func (r *UserRepo) GetByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byLogin[login]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u := r.byID[id]
	return &u, nil
}

// SetRole changes the role of login.
func (r *UserRepo) SetRole(_ context.Context, login string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byLogin[login]
	if !ok {
		return errs.ErrNotFound
	}
	u := r.byID[id]
	u.Role = role
	r.byID[id] = u
	return nil
}
