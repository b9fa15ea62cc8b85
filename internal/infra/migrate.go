// README: Applies the embedded goose migrations over the pgx pool.
package infra

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"dukani/migrations"
)

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.s.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }

func Migrate(ctx context.Context, pool *pgxpool.Pool, lg *zap.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{s: lg.Named("migrate").Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return errors.Wrap(err, "goose up")
	}
	return nil
}
