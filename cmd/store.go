package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockledger/internal/config"
	"github.com/sells-group/stockledger/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
	}
}
