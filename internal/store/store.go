// Package store provides the persistence backends for agent records. All
// backends serialise the full agent as one JSON document; swapping backends
// never changes what is stored.
package store

import (
	"fmt"
	"log/slog"

	"github.com/openswarm-dev/swarmgate/internal/config"
	"github.com/openswarm-dev/swarmgate/internal/swarm"
)

// Open builds the store selected by cfg.Backend.
func Open(cfg config.StorageConfig, log *slog.Logger) (swarm.Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but SWARMGATE_POSTGRES_DSN is not set")
		}
		return OpenPostgres(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
