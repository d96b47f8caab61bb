package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/tree"
)

// watchWindow is how far below the highest seen sequence a watcher keeps
// re-reading the feed. Sequences are allocated before commit, so a write can
// become visible after a higher one was already delivered.
const watchWindow = 256

// Watch delivers the value at path now and after every change seen on the
// repository change feed. Identical consecutive values are not re-delivered.
// fn runs on the watcher goroutine and must not call stop.
func (s *DocStore) Watch(ctx context.Context, path string, fn func(any)) (func(), error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	prefix := tree.Join(segs...)
	if len(segs) >= s.depth {
		prefix, _ = s.docKey(segs)
	}

	// Sequence first: a write racing the initial read shows up on the feed.
	seq, err := s.repo.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	fn(last)

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(s.poll)
		defer t.Stop()
		seen := make(map[int64]struct{})
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
			}
			floor := max(0, seq-watchWindow)
			changes, err := s.repo.ChangesSince(wctx, prefix, floor)
			if err != nil {
				if wctx.Err() == nil {
					s.log.Warn("watch: change feed", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			fresh := false
			for _, c := range changes {
				if _, ok := seen[c.Seq]; ok {
					continue
				}
				seen[c.Seq] = struct{}{}
				seq = max(seq, c.Seq)
				fresh = true
			}
			for n := range seen {
				if n <= seq-watchWindow {
					delete(seen, n)
				}
			}
			if !fresh {
				continue
			}
			v, err := s.Get(wctx, path)
			if err != nil {
				if wctx.Err() == nil {
					s.log.Warn("watch: read", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			if reflect.DeepEqual(v, last) || wctx.Err() != nil {
				continue
			}
			last = v
			fn(v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
