package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

func TestDocRepo_CreateUpdateTombstone(t *testing.T) {
	ctx := context.Background()
	r := NewDocRepo()

	_, err := r.GetDoc(ctx, "a/b")
	require.ErrorIs(t, err, errs.ErrNotFound)

	v, err := r.Apply(ctx, []model.DocWrite{{Key: "a/b", BaseVer: 0, Value: map[string]any{"x": 1.0}}})
	require.NoError(t, err)
	require.Equal(t, int64(1), v[0].NewVer)

	_, err = r.Apply(ctx, []model.DocWrite{{Key: "a/b", BaseVer: 0, Value: "again"}})
	require.ErrorIs(t, err, errs.ErrVersionConflict)

	_, err = r.Apply(ctx, []model.DocWrite{{Key: "a/b", BaseVer: 1, Value: nil}})
	require.NoError(t, err)

	d, err := r.GetDoc(ctx, "a/b")
	require.NoError(t, err)
	require.True(t, d.Deleted)
	require.Equal(t, int64(2), d.Ver)
	require.Nil(t, d.Value)
}

func TestDocRepo_ApplyAllOrNothing(t *testing.T) {
	ctx := context.Background()
	r := NewDocRepo()
	_, err := r.Apply(ctx, []model.DocWrite{{Key: "k1", Value: 1.0}})
	require.NoError(t, err)

	_, err = r.Apply(ctx, []model.DocWrite{
		{Key: "k2", BaseVer: 0, Value: 2.0},
		{Key: "k1", BaseVer: 0, Value: 3.0},
	})
	require.ErrorIs(t, err, errs.ErrVersionConflict)

	_, err = r.GetDoc(ctx, "k2")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.Apply(ctx, []model.DocWrite{{Key: "k3", Value: 1.0}, {Key: "k3", Value: 2.0}})
	require.Error(t, err)
}

func TestDocRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewDocRepo()
	_, err := r.Apply(ctx, []model.DocWrite{{Key: "k", Value: map[string]any{"a": 1.0}}})
	require.NoError(t, err)

	d, _ := r.GetDoc(ctx, "k")
	d.Value.(map[string]any)["a"] = 2.0

	d2, _ := r.GetDoc(ctx, "k")
	require.Equal(t, 1.0, d2.Value.(map[string]any)["a"])
}

func TestDocRepo_ListAndChanges(t *testing.T) {
	ctx := context.Background()
	r := NewDocRepo()
	for _, k := range []string{"c/1", "c/1/x", "c/10", "c/2"} {
		_, err := r.Apply(ctx, []model.DocWrite{{Key: k, Value: k}})
		require.NoError(t, err)
	}

	docs, err := r.ListDocs(ctx, "c/1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "c/1", docs[0].Key)
	require.Equal(t, "c/1/x", docs[1].Key)

	seq, err := r.MaxSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), seq)

	ch, err := r.ChangesSince(ctx, "c", 2)
	require.NoError(t, err)
	require.Equal(t, []model.DocChange{{Key: "c/10", Seq: 3}, {Key: "c/2", Seq: 4}}, ch)
}
