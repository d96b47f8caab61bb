package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, login, pwd_hash, intra_id, display_name, image_url, campus_id, role, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, login, pwd_hash, intra_id, display_name, image_url, campus_id, role)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Login, u.PwdHash, u.IntraID, u.DisplayName, u.ImageURL, u.CampusID, string(u.Role))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PwdHash, &u.IntraID, &u.DisplayName, &u.ImageURL, &u.CampusID, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

// GetByLogin selects a user by login.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE login=$1`, login))
}

// SetRole updates the role of login.
func (r *UserRepo) SetRole(ctx context.Context, login string, role model.Role) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE users SET role=$2 WHERE login=$1`, login, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
