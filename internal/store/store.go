// Package store exposes the shared hierarchical state as a path addressed JSON tree.
//
// The tree is persisted as versioned documents: a document is keyed by the first
// Depth path segments (campus/{c}/cursus/{k}/{events|meals}/{id}), so every event or
// meal subtree commits independently. All writes are optimistic compare-and-swap
// batches retried on version conflict.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/repository"
	"github.com/and161185/cc42-scan/internal/tree"
)

const (
	DefaultDepth        = 6
	DefaultMaxRetries   = 25
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrInvalidPath is returned for empty paths, empty segments or overlapping update paths.
var ErrInvalidPath = errors.New("store: invalid path")

// TxFunc maps the current subtree to its replacement. Returning an error aborts
// the transaction: nothing is committed, nothing is retried, and the error is
// handed back to the caller unchanged. The function may run several times and
// must not have side effects.
type TxFunc func(current any) (any, error)

// Store is the remote state consumed by the transition engines.
type Store interface {
	// Get returns the subtree at path, nil when absent.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the subtree at path; nil deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update commits every path/value pair in one atomic step.
	Update(ctx context.Context, values map[string]any) error
	// Transaction runs an optimistic read-modify-write on one document subtree.
	Transaction(ctx context.Context, path string, fn TxFunc) (any, error)
	// Watch calls fn with the current value and again on every change until stop is called.
	Watch(ctx context.Context, path string, fn func(any)) (stop func(), err error)
}

// DocStore implements Store over a DocumentRepository.
type DocStore struct {
	repo       repository.DocumentRepository
	log        *zap.Logger
	depth      int
	maxRetries int
	poll       time.Duration
}

// Option customises a DocStore.
type Option func(*DocStore)

// WithMaxRetries bounds optimistic retries per operation.
func WithMaxRetries(n int) Option { return func(s *DocStore) { s.maxRetries = n } }

// WithPollInterval sets how often watchers look at the change feed.
func WithPollInterval(d time.Duration) Option { return func(s *DocStore) { s.poll = d } }

// New constructs a DocStore.
func New(repo repository.DocumentRepository, log *zap.Logger, opts ...Option) *DocStore {
	s := &DocStore{
		repo:       repo,
		log:        log,
		depth:      DefaultDepth,
		maxRetries: DefaultMaxRetries,
		poll:       DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	return s
}

// Split validates a path and returns its segments.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, tree.Sep)
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(path, tree.Sep)
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func (s *DocStore) docKey(segs []string) (string, []string) {
	n := min(len(segs), s.depth)
	return tree.Join(segs[:n]...), segs[n:]
}

// Get reads one document, or assembles every document under a shallow path.
// Deeper documents win over stale ancestor leaves.
func (s *DocStore) Get(ctx context.Context, path string) (any, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	if len(segs) >= s.depth {
		key, sub := s.docKey(segs)
		doc, err := s.repo.GetDoc(ctx, key)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if doc.Deleted {
			return nil, nil
		}
		return tree.Clone(tree.Get(doc.Value, sub)), nil
	}

	docs, err := s.repo.ListDocs(ctx, tree.Join(segs...))
	if err != nil {
		return nil, err
	}
	return assemble(len(segs), docs), nil
}

func assemble(base int, docs []model.Doc) any {
	sort.SliceStable(docs, func(i, j int) bool {
		return strings.Count(docs[i].Key, tree.Sep) < strings.Count(docs[j].Key, tree.Sep)
	})
	var out any
	for _, d := range docs {
		if d.Deleted {
			continue
		}
		out = tree.Set(out, strings.Split(d.Key, tree.Sep)[base:], tree.Clone(d.Value))
	}
	return out
}

// Set replaces the subtree at path.
func (s *DocStore) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

type write struct {
	segs  []string
	value any
}

// Update commits all values atomically. Paths must not overlap.
func (s *DocStore) Update(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	ws := make([]write, 0, len(values))
	for p, v := range values {
		segs, err := Split(p)
		if err != nil {
			return err
		}
		nv, err := tree.Normalize(v)
		if err != nil {
			return fmt.Errorf("store: %s: %w", p, err)
		}
		ws = append(ws, write{segs: segs, value: nv})
	}
	sort.Slice(ws, func(i, j int) bool { return tree.Join(ws[i].segs...) < tree.Join(ws[j].segs...) })
	for i := 1; i < len(ws); i++ {
		prev, cur := tree.Join(ws[i-1].segs...), tree.Join(ws[i].segs...)
		if cur == prev || strings.HasPrefix(cur, prev+tree.Sep) {
			return fmt.Errorf("%w: %q overlaps %q", ErrInvalidPath, cur, prev)
		}
	}

	return s.retry(ctx, func() error {
		plan, err := s.plan(ctx, ws)
		if err != nil || len(plan) == 0 {
			return err
		}
		_, err = s.repo.Apply(ctx, plan)
		return err
	})
}

type docState struct {
	ver     int64
	value   any
	touched bool
}

// plan reads every affected document and computes the batch to apply.
func (s *DocStore) plan(ctx context.Context, ws []write) ([]model.DocWrite, error) {
	state := make(map[string]*docState)
	load := func(key string) (*docState, error) {
		if st, ok := state[key]; ok {
			return st, nil
		}
		st := &docState{}
		doc, err := s.repo.GetDoc(ctx, key)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			st.ver = doc.Ver
			if !doc.Deleted {
				st.value = doc.Value
			}
		}
		state[key] = st
		return st, nil
	}

	for _, w := range ws {
		if len(w.segs) >= s.depth {
			key, sub := s.docKey(w.segs)
			st, err := load(key)
			if err != nil {
				return nil, err
			}
			st.value = tree.Set(st.value, sub, w.value)
			st.touched = true
			continue
		}

		// Shallow write replaces the whole subtree: drop what is there, then split the new value.
		docs, err := s.repo.ListDocs(ctx, tree.Join(w.segs...))
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			st, ok := state[d.Key]
			if !ok {
				st = &docState{ver: d.Ver}
				state[d.Key] = st
			}
			st.value = nil
			st.touched = st.touched || !d.Deleted
		}
		for key, v := range tree.Explode(w.segs, w.value, s.depth) {
			st, err := load(key)
			if err != nil {
				return nil, err
			}
			st.value = v
			st.touched = true
		}
	}

	keys := make([]string, 0, len(state))
	for k, st := range state {
		if st.touched && !(st.ver == 0 && st.value == nil) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]model.DocWrite, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.DocWrite{Key: k, BaseVer: state[k].ver, Value: state[k].value})
	}
	return out, nil
}

// Transaction runs fn against the subtree at path until it commits without conflict,
// fn aborts, or the retry budget is spent (errs.ErrRetriesExhausted).
func (s *DocStore) Transaction(ctx context.Context, path string, fn TxFunc) (any, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < s.depth {
		return nil, fmt.Errorf("%w: transaction needs a document path, got %q", ErrInvalidPath, path)
	}
	key, sub := s.docKey(segs)

	var result any
	err = s.retry(ctx, func() error {
		var ver int64
		var value any
		doc, err := s.repo.GetDoc(ctx, key)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return err
		default:
			ver = doc.Ver
			if !doc.Deleted {
				value = doc.Value
			}
		}

		next, err := fn(tree.Clone(tree.Get(value, sub)))
		if err != nil {
			return abort{err}
		}
		next, err = tree.Normalize(next)
		if err != nil {
			return abort{err}
		}
		result = next
		updated := tree.Set(value, sub, next)
		if ver == 0 && updated == nil {
			return nil
		}
		_, err = s.repo.Apply(ctx, []model.DocWrite{{Key: key, BaseVer: ver, Value: updated}})
		return err
	})
	var a abort
	if errors.As(err, &a) {
		return nil, a.err
	}
	if err != nil {
		return nil, err
	}
	return tree.Clone(result), nil
}

// abort carries a TxFunc error through the retry loop untouched.
type abort struct{ err error }

func (a abort) Error() string { return a.err.Error() }

func (s *DocStore) retry(ctx context.Context, attempt func() error) error {
	for i := 0; i < s.maxRetries; i++ {
		err := attempt()
		if !errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
		s.log.Debug("store conflict, retrying", zap.Int("attempt", i+1))
		backoff := time.Duration(i+1) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(backoff, 20*time.Millisecond)):
		}
	}
	return errs.ErrRetriesExhausted
}
