package db

import (
	"context"
	"log/slog"

	"clickstonks/internal/market"
)

// Open returns the PostgreSQL store for pc.URL, migrating the schema first.
// An empty URL selects the in-memory store, which lives only as long as the
// process. The returned close func is never nil.
func Open(ctx context.Context, pc PoolConfig, logger *slog.Logger) (market.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pc.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return market.NewMemoryStore(), func() {}, nil
	}
	pool, err := Connect(ctx, pc)
	if err != nil {
		return nil, func() {}, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	return NewStore(pool, logger), pool.Close, nil
}
