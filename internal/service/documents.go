package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/repository"
)

// DocumentService exposes the document repository to authenticated devices.
// A device only sees and writes keys below campus/{its campus}.
type DocumentService interface {
	Get(ctx context.Context, c model.Claims, key string) (*model.Doc, error)
	List(ctx context.Context, c model.Claims, prefix string) ([]model.Doc, error)
	Apply(ctx context.Context, c model.Claims, writes []model.DocWrite) ([]model.DocVersion, error)
	ChangesSince(ctx context.Context, c model.Claims, prefix string, sinceSeq int64) ([]model.DocChange, error)
	MaxSeq(ctx context.Context, c model.Claims) (int64, error)
}

type DocumentServiceImpl struct {
	repo     repository.DocumentRepository
	maxBatch int
}

// NewDocumentService constructs DocumentService with batch limits.
func NewDocumentService(repo repository.DocumentRepository, maxBatch int) *DocumentServiceImpl {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &DocumentServiceImpl{repo: repo, maxBatch: maxBatch}
}

// authorize validates key syntax and campus ownership.
func authorize(c model.Claims, key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || strings.Contains(key, "//") {
		return fmt.Errorf("%w: bad key %q", errs.ErrInvalidArgument, key)
	}
	if c.CampusID == "" {
		return errs.ErrUnauthorized
	}
	root := "campus/" + c.CampusID
	if key != root && !strings.HasPrefix(key, root+"/") {
		return errs.ErrForbidden
	}
	return nil
}

func (s *DocumentServiceImpl) Get(ctx context.Context, c model.Claims, key string) (*model.Doc, error) {
	if err := authorize(c, key); err != nil {
		return nil, err
	}
	return s.repo.GetDoc(ctx, key)
}

func (s *DocumentServiceImpl) List(ctx context.Context, c model.Claims, prefix string) ([]model.Doc, error) {
	if err := authorize(c, prefix); err != nil {
		return nil, err
	}
	return s.repo.ListDocs(ctx, prefix)
}

// Apply validates the batch and delegates the atomic write to the repository.
// Validation rules:
// - 0 < len(writes) <= maxBatch
// - every key authorized
// - BaseVer >= 0
func (s *DocumentServiceImpl) Apply(ctx context.Context, c model.Claims, writes []model.DocWrite) ([]model.DocVersion, error) {
	if len(writes) == 0 {
		return []model.DocVersion{}, nil
	}
	if len(writes) > s.maxBatch {
		return nil, fmt.Errorf("%w: batch too large (%d > %d)", errs.ErrInvalidArgument, len(writes), s.maxBatch)
	}
	for i, w := range writes {
		if err := authorize(c, w.Key); err != nil {
			return nil, fmt.Errorf("doc[%d]: %w", i, err)
		}
		if w.BaseVer < 0 {
			return nil, fmt.Errorf("%w: doc[%d] negative base_ver", errs.ErrInvalidArgument, i)
		}
	}
	return s.repo.Apply(ctx, writes)
}

func (s *DocumentServiceImpl) ChangesSince(ctx context.Context, c model.Claims, prefix string, sinceSeq int64) ([]model.DocChange, error) {
	if err := authorize(c, prefix); err != nil {
		return nil, err
	}
	if sinceSeq < 0 {
		sinceSeq = 0
	}
	return s.repo.ChangesSince(ctx, prefix, sinceSeq)
}

func (s *DocumentServiceImpl) MaxSeq(ctx context.Context, c model.Claims) (int64, error) {
	if c.CampusID == "" {
		return 0, errs.ErrUnauthorized
	}
	return s.repo.MaxSeq(ctx)
}
