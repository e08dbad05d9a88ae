package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/db"
)

// openPool validates cfg for mode and opens the Postgres pool. The caller
// closes it.
func openPool(ctx context.Context, mode string) (*pgxpool.Pool, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool())
	if err != nil {
		return nil, eris.Wrap(err, mode)
	}

	zap.L().Debug("connected to database", zap.String("mode", mode))
	return pool, nil
}
