// Package setup turns configuration into the logger, store and model options
// a command needs.
package setup

import (
	"context"
	"fmt"

	"github.com/hed1ad/bdistml/internal/config"
	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	"github.com/hed1ad/bdistml/pkg/store"
	"github.com/hed1ad/bdistml/pkg/store/boltstore"
	"github.com/hed1ad/bdistml/pkg/store/sqlitestore"
)

// Env holds everything built from a configuration.
type Env struct {
	Config config.Config
	Store  store.Store
}

// ModelOptions returns the configured model options followed by extra.
func (e *Env) ModelOptions(extra ...balanced.Option) []balanced.Option {
	return append(e.Config.Model.Options(), extra...)
}

// Close releases the store.
func (e *Env) Close() error {
	if e.Store == nil {
		return nil
	}
	return e.Store.Close()
}

// Setup loads the configuration at path, installs a logger in the returned
// context and opens the configured store.
func Setup(ctx context.Context, path string) (context.Context, *Env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return ctx, nil, fmt.Errorf("config.Load: %w", err)
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	ctx = logging.WithLogger(ctx, logger)

	s, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return ctx, nil, err
	}

	logger.Debugw("configured", "backend", cfg.Store.Backend, "path", cfg.Store.Path, "model", cfg.Store.Name)
	return ctx, &Env{Config: cfg, Store: s}, nil
}

// OpenStore opens the backend named in cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		return boltstore.Open(ctx, cfg.Path)
	case config.BackendSQLite:
		return sqlitestore.Open(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
