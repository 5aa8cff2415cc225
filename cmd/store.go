package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tolima-epi/vereda-cli/internal/resilience"
	"github.com/tolima-epi/vereda-cli/internal/store"
)

// initStore opens and migrates the configured run history store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		p := resilience.DefaultPolicy
		p.OnRetry = resilience.LogRetries("postgres connect")
		st, err = resilience.DoVal(ctx, p, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// optionalStore opens the store when a database URL is configured and
// returns nil otherwise.
func optionalStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}
	return initStore(ctx)
}
