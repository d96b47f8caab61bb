package memory

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

func newUser(login, intra string) *model.User {
	return &model.User{ID: uuid.Must(uuid.NewV4()), Login: login, IntraID: intra, CampusID: "1", Role: model.RoleStudent}
}

func TestUserRepo_UniqueLoginAndIntra(t *testing.T) {
	ctx := context.Background()
	r := NewUserRepo()

	require.NoError(t, r.Create(ctx, newUser("jdoe", "1234")))
	require.ErrorIs(t, r.Create(ctx, newUser("jdoe", "9999")), errs.ErrAlreadyExists)
	require.ErrorIs(t, r.Create(ctx, newUser("mallory", "1234")), errs.ErrAlreadyExists)

	u, err := r.GetByLogin(ctx, "jdoe")
	require.NoError(t, err)
	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "1234", got.IntraID)
	require.False(t, got.CreatedAt.IsZero())
}

func TestUserRepo_SetRole(t *testing.T) {
	ctx := context.Background()
	r := NewUserRepo()
	require.NoError(t, r.Create(ctx, newUser("chef", "staff-7")))

	require.NoError(t, r.SetRole(ctx, "chef", model.RoleStaff))
	u, err := r.GetByLogin(ctx, "chef")
	require.NoError(t, err)
	require.Equal(t, model.RoleStaff, u.Role)

	require.ErrorIs(t, r.SetRole(ctx, "ghost", model.RoleStaff), errs.ErrNotFound)
}
