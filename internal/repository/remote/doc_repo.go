package remote

import (
	"context"

	"github.com/and161185/cc42-scan/internal/api/scannerv1"
	"github.com/and161185/cc42-scan/internal/convert"
	"github.com/and161185/cc42-scan/internal/model"
)

// DocRepo implements DocumentRepository over gRPC. Retries stay with the caller's store.
type DocRepo struct{ c *Client }

// NewDocRepo constructs a document repository on top of c.
func NewDocRepo(c *Client) *DocRepo { return &DocRepo{c: c} }

func (r *DocRepo) GetDoc(ctx context.Context, key string) (*model.Doc, error) {
	in, err := convert.Struct(map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	out, err := r.c.call(ctx, scannerv1.MethodGetDoc, in)
	if err != nil {
		return nil, err
	}
	d, err := convert.FromProtoDoc(out)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocRepo) ListDocs(ctx context.Context, prefix string) ([]model.Doc, error) {
	in, err := convert.Struct(map[string]any{"prefix": prefix})
	if err != nil {
		return nil, err
	}
	out, err := r.c.call(ctx, scannerv1.MethodListDocs, in)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoDocs(out)
}

func (r *DocRepo) Apply(ctx context.Context, writes []model.DocWrite) ([]model.DocVersion, error) {
	in, err := convert.ToProtoWrites(writes)
	if err != nil {
		return nil, err
	}
	out, err := r.c.call(ctx, scannerv1.MethodApplyDocs, in)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoVersions(out)
}

func (r *DocRepo) ChangesSince(ctx context.Context, prefix string, sinceSeq int64) ([]model.DocChange, error) {
	in, err := convert.Struct(map[string]any{"prefix": prefix, "sinceSeq": float64(sinceSeq)})
	if err != nil {
		return nil, err
	}
	out, err := r.c.call(ctx, scannerv1.MethodChangesSince, in)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoChanges(out)
}

func (r *DocRepo) MaxSeq(ctx context.Context) (int64, error) {
	out, err := r.c.call(ctx, scannerv1.MethodMaxSeq, nil)
	if err != nil {
		return 0, err
	}
	return convert.From(out).Int("seq")
}
