package repository

import (
	"context"

	"github.com/and161185/cc42-scan/internal/model"
)

// DocumentRepository provides versioned access to JSON documents.
//
// Tombstoned documents keep their version so that a later re-creation still
// goes through the optimistic check.
type DocumentRepository interface {
	// GetDoc returns a document (tombstones included) or errs.ErrNotFound if it was never written.
	GetDoc(ctx context.Context, key string) (*model.Doc, error)

	// ListDocs returns documents whose key equals prefix or lives under prefix+"/", ordered by key.
	// Tombstones are included.
	ListDocs(ctx context.Context, prefix string) ([]model.Doc, error)

	// Apply writes all documents atomically, failing with errs.ErrVersionConflict
	// when any base version does not match.
	Apply(ctx context.Context, writes []model.DocWrite) ([]model.DocVersion, error)

	// ChangesSince returns changes with sequence greater than sinceSeq under prefix, ordered by sequence.
	ChangesSince(ctx context.Context, prefix string, sinceSeq int64) ([]model.DocChange, error)

	// MaxSeq returns the latest change sequence.
	MaxSeq(ctx context.Context) (int64, error)
}
