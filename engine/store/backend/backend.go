// Package backend selects and opens the durable store a process runs on.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/engine/store/memstore"
	"github.com/combolab/combo-engine/engine/store/postgres"
	"github.com/combolab/combo-engine/engine/store/sqlite"
)

// Config names the backend. DatabaseURL wins over SQLitePath; with neither
// set the process runs on an in-memory store.
type Config struct {
	DatabaseURL string
	SQLitePath  string
	// Migrate applies the embedded Postgres migrations before connecting.
	Migrate bool
}

// Kind reports which backend cfg selects.
func (c Config) Kind() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// Open opens the configured backend and checks it is reachable.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		st  store.Store
		err error
	)
	switch cfg.Kind() {
	case "postgres":
		if cfg.Migrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		st, err = postgres.New(ctx, cfg.DatabaseURL)
	case "sqlite":
		st, err = sqlite.Open(ctx, cfg.SQLitePath)
	default:
		logger.Warn("backend: no database configured, data is kept in memory")
		st = memstore.New()
	}
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", cfg.Kind(), err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("backend: ping %s: %w", cfg.Kind(), err)
	}
	logger.Info("backend: store ready", "kind", cfg.Kind())
	return st, nil
}
