package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/repository/memory"
)

const mealPath = "campus/1/cursus/21/meals/m1"

var _ Store = (*DocStore)(nil)

func newStore(t *testing.T, opts ...Option) (*DocStore, *memory.DocRepo) {
	t.Helper()
	repo := memory.NewDocRepo()
	return New(repo, zap.NewNop(), opts...), repo
}

// flakyRepo fails the first n Apply calls with a version conflict.
type flakyRepo struct {
	*memory.DocRepo
	n atomic.Int32
}

func (f *flakyRepo) Apply(ctx context.Context, w []model.DocWrite) ([]model.DocVersion, error) {
	if f.n.Add(-1) >= 0 {
		return nil, errs.ErrVersionConflict
	}
	return f.DocRepo.Apply(ctx, w)
}

// lateRepo hides one document from listings and the change feed, as if its
// write had not committed yet.
type lateRepo struct {
	*memory.DocRepo
	hidden atomic.Value // string
}

func (l *lateRepo) visible(key string) bool {
	h, _ := l.hidden.Load().(string)
	return h == "" || key != h
}

func (l *lateRepo) ListDocs(ctx context.Context, prefix string) ([]model.Doc, error) {
	docs, err := l.DocRepo.ListDocs(ctx, prefix)
	var out []model.Doc
	for _, d := range docs {
		if l.visible(d.Key) {
			out = append(out, d)
		}
	}
	return out, err
}

func (l *lateRepo) ChangesSince(ctx context.Context, prefix string, since int64) ([]model.DocChange, error) {
	cs, err := l.DocRepo.ChangesSince(ctx, prefix, since)
	var out []model.DocChange
	for _, c := range cs {
		if l.visible(c.Key) {
			out = append(out, c)
		}
	}
	return out, err
}

type brokenRepo struct{ *memory.DocRepo }

func (brokenRepo) GetDoc(context.Context, string) (*model.Doc, error) {
	return nil, errors.New("network down")
}

func TestSplit(t *testing.T) {
	segs, err := Split("/campus/1/")
	require.NoError(t, err)
	require.Equal(t, []string{"campus", "1"}, segs)

	for _, p := range []string{"", "/", "a//b", "a/./b", "a/../b"} {
		_, err := Split(p)
		require.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestSetGet_DeepAndShallow(t *testing.T) {
	ctx := context.Background()
	s, repo := newStore(t)

	require.NoError(t, s.Set(ctx, mealPath+"/secondPortion", map[string]any{
		"hasSecondPortion": true, "quantitySecondPortion": 2,
	}))
	got, err := s.Get(ctx, mealPath+"/secondPortion/quantitySecondPortion")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/meals/m2/name", "Dinner"))
	all, err := s.Get(ctx, "campus/1/cursus/21/meals")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"m1": map[string]any{"secondPortion": map[string]any{"hasSecondPortion": true, "quantitySecondPortion": 2.0}},
		"m2": map[string]any{"name": "Dinner"},
	}, all)

	docs, err := repo.ListDocs(ctx, "campus")
	require.NoError(t, err)
	require.Len(t, docs, 2, "one document per meal")

	missing, err := s.Get(ctx, "campus/1/cursus/21/meals/nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSet_ShallowReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/events/e1/name", "Talk"))
	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/events/e2/name", "Party"))

	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/events", map[string]any{
		"e3": map[string]any{"name": "Exam"},
	}))
	got, err := s.Get(ctx, "campus/1/cursus/21/events")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"e3": map[string]any{"name": "Exam"}}, got)

	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/events", nil))
	got, err = s.Get(ctx, "campus/1/cursus/21/events")
	require.NoError(t, err)
	require.Nil(t, got)

	// Re-creating a tombstoned document goes through its retained version.
	require.NoError(t, s.Set(ctx, "campus/1/cursus/21/events/e1/name", "Again"))
	got, err = s.Get(ctx, "campus/1/cursus/21/events/e1/name")
	require.NoError(t, err)
	require.Equal(t, "Again", got)
}

func TestUpdate_MultiPathAtomic(t *testing.T) {
	ctx := context.Background()
	s, repo := newStore(t)

	require.NoError(t, s.Update(ctx, map[string]any{
		"campus/1/cursus/21/meals/m1/subscriptions/s1": map[string]any{"status": true, "quantity": 1},
		"campus/1/cursus/21/meals/m2/subscriptions/s1": map[string]any{"status": true, "quantity": 1},
		"campus/1/infoTmpUserEventMeal":                map[string]any{"studentId": "s1"},
	}))
	seq, err := repo.MaxSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)

	v, err := s.Get(ctx, "campus/1/infoTmpUserEventMeal/studentId")
	require.NoError(t, err)
	require.Equal(t, "s1", v)

	err = s.Update(ctx, map[string]any{
		"campus/1/a":   1,
		"campus/1/a/b": 2,
	})
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestUpdate_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{DocRepo: memory.NewDocRepo()}
	repo.n.Store(3)
	s := New(repo, zap.NewNop())

	require.NoError(t, s.Set(ctx, mealPath+"/name", "Lunch"))
	v, err := s.Get(ctx, mealPath+"/name")
	require.NoError(t, err)
	require.Equal(t, "Lunch", v)
}

func TestTransaction_CommitAndAbort(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Set(ctx, mealPath+"/count", 1))

	out, err := s.Transaction(ctx, mealPath, func(cur any) (any, error) {
		m := cur.(map[string]any)
		m["count"] = m["count"].(float64) + 1
		return m, nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"count": 2.0}, out)

	reject := errors.New("business says no")
	_, err = s.Transaction(ctx, mealPath, func(any) (any, error) { return nil, reject })
	require.ErrorIs(t, err, reject)

	v, _ := s.Get(ctx, mealPath+"/count")
	require.Equal(t, 2.0, v, "abort must not write")
}

func TestTransaction_AbortIsNotRetried(t *testing.T) {
	s, _ := newStore(t)
	var calls int
	_, err := s.Transaction(context.Background(), mealPath, func(any) (any, error) {
		calls++
		return nil, errs.ErrVersionConflict
	})
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Equal(t, 1, calls)
}

func TestTransaction_RerunsOnConflict(t *testing.T) {
	repo := &flakyRepo{DocRepo: memory.NewDocRepo()}
	repo.n.Store(2)
	s := New(repo, zap.NewNop())

	var calls int
	_, err := s.Transaction(context.Background(), mealPath, func(any) (any, error) {
		calls++
		return map[string]any{"x": 1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestTransaction_RetriesExhausted(t *testing.T) {
	repo := &flakyRepo{DocRepo: memory.NewDocRepo()}
	repo.n.Store(100)
	s := New(repo, zap.NewNop(), WithMaxRetries(3))

	_, err := s.Transaction(context.Background(), mealPath, func(any) (any, error) {
		return map[string]any{"x": 1}, nil
	})
	require.ErrorIs(t, err, errs.ErrRetriesExhausted)
}

func TestTransaction_StoreErrorAndBadPath(t *testing.T) {
	s := New(brokenRepo{memory.NewDocRepo()}, zap.NewNop())
	_, err := s.Transaction(context.Background(), mealPath, func(any) (any, error) { return nil, nil })
	require.EqualError(t, err, "network down")

	_, err = s.Transaction(context.Background(), "campus/1", func(any) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestTransaction_AbsentStaysAbsent(t *testing.T) {
	s, repo := newStore(t)
	out, err := s.Transaction(context.Background(), mealPath, func(cur any) (any, error) {
		require.Nil(t, cur)
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, out)
	seq, _ := repo.MaxSeq(context.Background())
	require.Zero(t, seq)
}

func TestWatch_DeliversChanges(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, WithPollInterval(5*time.Millisecond))
	require.NoError(t, s.Set(ctx, mealPath+"/secondPortion/quantitySecondPortion", 2))

	got := make(chan any, 8)
	stop, err := s.Watch(ctx, mealPath+"/secondPortion", func(v any) { got <- v })
	require.NoError(t, err)
	defer stop()

	require.Equal(t, map[string]any{"quantitySecondPortion": 2.0}, <-got)

	// Unrelated change in the same document is not re-delivered.
	require.NoError(t, s.Set(ctx, mealPath+"/name", "Lunch"))
	require.NoError(t, s.Set(ctx, mealPath+"/secondPortion/quantitySecondPortion", 1))

	select {
	case v := <-got:
		require.Equal(t, map[string]any{"quantitySecondPortion": 1.0}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	stop()
	stop()
}

func TestWatch_LateLowerSequence(t *testing.T) {
	ctx := context.Background()
	repo := &lateRepo{DocRepo: memory.NewDocRepo()}
	s := New(repo, zap.NewNop(), WithPollInterval(5*time.Millisecond))
	meals := "campus/1/cursus/21/meals"

	got := make(chan any, 8)
	stop, err := s.Watch(ctx, meals, func(v any) { got <- v })
	require.NoError(t, err)
	defer stop()
	require.Nil(t, <-got)

	next := func() any {
		t.Helper()
		select {
		case v := <-got:
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("no change delivered")
			return nil
		}
	}

	repo.hidden.Store(meals + "/m1")
	require.NoError(t, s.Set(ctx, meals+"/m1/name", "Lunch"))
	require.NoError(t, s.Set(ctx, meals+"/m2/name", "Dinner"))
	require.Equal(t, map[string]any{"m2": map[string]any{"name": "Dinner"}}, next())

	repo.hidden.Store("")
	require.Equal(t, map[string]any{
		"m1": map[string]any{"name": "Lunch"},
		"m2": map[string]any{"name": "Dinner"},
	}, next())
}
