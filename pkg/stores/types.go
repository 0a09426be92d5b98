package stores

import (
	"context"
	"time"

	"github.com/machshop/extension-orchestrator/pkg/compat"
	"github.com/machshop/extension-orchestrator/pkg/deploy"
)

// Store is the full persistence layer: compatibility reference data plus
// per-site deployment state, behind one connection lifecycle.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	compat.MatrixStore
	deploy.Store

	// Utility
	HealthCheck(ctx context.Context) error
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
