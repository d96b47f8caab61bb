package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

// DocRepo implements DocumentRepository using PostgreSQL.
type DocRepo struct{ db *DB }

// NewDocRepo constructs a document repository.
func NewDocRepo(db *DB) *DocRepo { return &DocRepo{db: db} }

func encodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetDoc returns a single document by key, tombstones included.
func (r *DocRepo) GetDoc(ctx context.Context, key string) (*model.Doc, error) {
	const q = `
SELECT key, value, ver, seq, deleted, updated_at
FROM documents WHERE key=$1`
	var (
		d   model.Doc
		raw []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, key).Scan(&d.Key, &raw, &d.Ver, &d.Seq, &d.Deleted, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if d.Value, err = decodeValue(raw); err != nil {
		return nil, fmt.Errorf("document %q: %w", key, err)
	}
	return &d, nil
}

// ListDocs returns the document at prefix and every document below it.
func (r *DocRepo) ListDocs(ctx context.Context, prefix string) ([]model.Doc, error) {
	const q = `
SELECT key, value, ver, seq, deleted, updated_at
FROM documents
WHERE key=$1 OR starts_with(key, $2)
ORDER BY key ASC`
	rows, err := r.db.Pool.Query(ctx, q, prefix, prefix+"/")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Doc
	for rows.Next() {
		var (
			d   model.Doc
			raw []byte
		)
		if err = rows.Scan(&d.Key, &raw, &d.Ver, &d.Seq, &d.Deleted, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if d.Value, err = decodeValue(raw); err != nil {
			return nil, fmt.Errorf("document %q: %w", d.Key, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Apply writes the batch in one transaction with optimistic concurrency.
// Rows are locked in key order so concurrent batches cannot deadlock.
func (r *DocRepo) Apply(ctx context.Context, writes []model.DocWrite) (results []model.DocVersion, err error) {
	ws := append([]model.DocWrite(nil), writes...)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Key < ws[j].Key })

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT ver FROM documents WHERE key=$1 FOR UPDATE`
	const ins = `INSERT INTO documents (key, value, ver, seq, deleted) VALUES ($1,$2,1,nextval('doc_seq'),$3) RETURNING seq`
	const upd = `UPDATE documents SET value=$2, ver=$3, seq=nextval('doc_seq'), deleted=$4, updated_at=now() WHERE key=$1 RETURNING seq`

	results = make([]model.DocVersion, 0, len(ws))
	for i, w := range ws {
		if i > 0 && ws[i-1].Key == w.Key {
			return nil, fmt.Errorf("doc[%d]: duplicate key %q", i, w.Key)
		}
		raw, encErr := encodeValue(w.Value)
		if encErr != nil {
			return nil, fmt.Errorf("doc[%d]: %w", i, encErr)
		}
		deleted := w.Value == nil

		var curVer, seq int64
		scanErr := tx.QueryRow(ctx, sel, w.Key).Scan(&curVer)
		switch {
		case scanErr == nil:
			if curVer != w.BaseVer {
				return nil, fmt.Errorf("doc[%d]: %w", i, errs.ErrVersionConflict)
			}
			newVer := curVer + 1
			if err = tx.QueryRow(ctx, upd, w.Key, raw, newVer, deleted).Scan(&seq); err != nil {
				return nil, err
			}
			results = append(results, model.DocVersion{Key: w.Key, NewVer: newVer, Seq: seq})
		case errors.Is(scanErr, pgx.ErrNoRows):
			if w.BaseVer != 0 {
				return nil, fmt.Errorf("doc[%d]: %w", i, errs.ErrVersionConflict)
			}
			if err = tx.QueryRow(ctx, ins, w.Key, raw, deleted).Scan(&seq); err != nil {
				// A concurrent creator won the insert race.
				if isUniqueViolation(err) {
					return nil, fmt.Errorf("doc[%d]: %w", i, errs.ErrVersionConflict)
				}
				return nil, err
			}
			results = append(results, model.DocVersion{Key: w.Key, NewVer: 1, Seq: seq})
		default:
			return nil, scanErr
		}
	}
	return results, nil
}

// ChangesSince returns keys written after sinceSeq at or below prefix.
func (r *DocRepo) ChangesSince(ctx context.Context, prefix string, sinceSeq int64) ([]model.DocChange, error) {
	const q = `
SELECT key, seq, deleted
FROM documents
WHERE seq>$1 AND (key=$2 OR starts_with(key, $3))
ORDER BY seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, sinceSeq, prefix, prefix+"/")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DocChange
	for rows.Next() {
		var c model.DocChange
		if err = rows.Scan(&c.Key, &c.Seq, &c.Deleted); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MaxSeq returns the current maximum change sequence.
func (r *DocRepo) MaxSeq(ctx context.Context) (int64, error) {
	const q = `SELECT COALESCE(MAX(seq),0) FROM documents`
	var v int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
