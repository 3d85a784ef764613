// Package storage defines the Store interface behind the audit trail and the
// PIN credential. Two backends are provided: SQLite (default, zero-config)
// and PostgreSQL.
package storage

import (
	"context"

	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
)

// Store gives access to the domain sub-stores. Both backends implement it.
type Store interface {
	// Sub-store accessors. The returned stores share one connection pool.
	Audit() audit.Store
	Credentials() credential.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns "sqlite" or "postgres".
	Driver() string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DefaultDriver  = DriverSQLite
)
