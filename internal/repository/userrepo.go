// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/cc42-scan/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to device accounts.
type UserRepository interface {
	// Create inserts a new user; errs.ErrAlreadyExists when the login or intra id is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByLogin loads a user by login.
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	// SetRole changes the role of login; errs.ErrNotFound when it does not exist.
	SetRole(ctx context.Context, login string, role model.Role) error
}
