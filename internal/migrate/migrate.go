// Package migrate brings the PostgreSQL schema (users, login attempts, documents and
// their change feed) up to date before the server starts serving.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/migrations"
)

// Up applies every pending embedded migration.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("dur", r.Duration),
		)
	}

	ver, err := p.GetDBVersion(ctx)
	if err != nil {
		return err
	}
	log.Info("schema ready", zap.Int64("version", ver), zap.Int("applied", len(results)))
	return nil
}
