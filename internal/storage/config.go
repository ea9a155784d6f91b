package storage

import (
	"time"

	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
)

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// Open creates an executor from the database section of the config.
// The DSN is used as given; callers expand "~" beforehand.
func Open(cfg config.DatabaseConfig, logger *logging.Logger) (*Executor, error) {
	queryTimeout, err := cfg.QueryTimeoutDuration()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid database settings")
	}

	lifetime, err := cfg.ConnMaxLifetimeDuration()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid database settings")
	}

	db, err := openDB(cfg.Driver, cfg.DSN, poolSettings{
		maxOpen:     cfg.MaxConnections,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: lifetime,
	})
	if err != nil {
		return nil, err
	}

	opts := []ExecutorOption{
		WithQueryTimeout(queryTimeout),
		WithMaxRows(cfg.MaxRows),
		WithLogger(logger),
	}
	if !cfg.GuardEnabled {
		opts = append(opts, WithGuard(nil))
	}

	return NewExecutor(db, opts...), nil
}
