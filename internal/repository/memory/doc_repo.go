// Package memory contains in-process implementations of repository interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/tree"
)

// DocRepo implements DocumentRepository with a mutex-guarded map.
type DocRepo struct {
	mu   sync.Mutex
	docs map[string]model.Doc
	seq  int64
	now  func() time.Time
}

// NewDocRepo constructs an empty document repository.
func NewDocRepo() *DocRepo {
	return &DocRepo{docs: make(map[string]model.Doc), now: time.Now}
}

func copyDoc(d model.Doc) model.Doc {
	d.Value = tree.Clone(d.Value)
	return d
}

func under(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+tree.Sep)
}

// GetDoc returns a copy of the document.
func (r *DocRepo) GetDoc(_ context.Context, key string) (*model.Doc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := copyDoc(d)
	return &out, nil
}

// ListDocs returns copies of the documents at or under prefix.
func (r *DocRepo) ListDocs(_ context.Context, prefix string) ([]model.Doc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Doc
	for k, d := range r.docs {
		if under(k, prefix) {
			out = append(out, copyDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Apply checks every base version first and only then writes, so a batch is all-or-nothing.
func (r *DocRepo) Apply(_ context.Context, writes []model.DocWrite) ([]model.DocVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(writes))
	for i, w := range writes {
		if _, dup := seen[w.Key]; dup {
			return nil, fmt.Errorf("doc[%d]: duplicate key %q", i, w.Key)
		}
		seen[w.Key] = struct{}{}
		if cur := r.docs[w.Key].Ver; cur != w.BaseVer {
			return nil, fmt.Errorf("doc[%d]: %w", i, errs.ErrVersionConflict)
		}
	}

	now := r.now()
	out := make([]model.DocVersion, 0, len(writes))
	for _, w := range writes {
		r.seq++
		d := model.Doc{
			Key:       w.Key,
			Value:     tree.Clone(w.Value),
			Ver:       w.BaseVer + 1,
			Seq:       r.seq,
			Deleted:   w.Value == nil,
			UpdatedAt: now,
		}
		r.docs[w.Key] = d
		out = append(out, model.DocVersion{Key: w.Key, NewVer: d.Ver, Seq: d.Seq})
	}
	return out, nil
}

// ChangesSince lists documents written after sinceSeq.
func (r *DocRepo) ChangesSince(_ context.Context, prefix string, sinceSeq int64) ([]model.DocChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DocChange
	for k, d := range r.docs {
		if d.Seq > sinceSeq && under(k, prefix) {
			out = append(out, model.DocChange{Key: k, Seq: d.Seq, Deleted: d.Deleted})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// MaxSeq returns the latest sequence.
func (r *DocRepo) MaxSeq(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq, nil
}
