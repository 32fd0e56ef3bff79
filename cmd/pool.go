package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// storePool creates a pgxpool.Pool from the configured database URL,
// honoring the --database-url override when set.
func storePool(ctx context.Context, override string) (*pgxpool.Pool, error) {
	dsn := override
	if dsn == "" {
		dsn = cfg.Store.DatabaseURL
	}
	if dsn == "" {
		return nil, eris.New("store: no database_url configured (set store.database_url or --database-url)")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse database url")
	}
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.MaxConns
	}
	if cfg.Store.MinConns > 0 {
		poolCfg.MinConns = cfg.Store.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping database")
	}
	return pool, nil
}
