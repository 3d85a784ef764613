package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
	"github.com/jkaninda/warden/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu          sync.Mutex
	audit       audit.Store
	credentials credential.Store
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an open DB as a Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(ctx context.Context) error {
	return AutoMigrate(ctx, s.pgDB.GormDB())
}

func (s *Store) Ping(ctx context.Context) error {
	return Ping(ctx, s.pgDB.GormDB())
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

func (s *Store) Audit() audit.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.pgDB.GormDB())
	}
	return s.audit
}

func (s *Store) Credentials() credential.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credentials == nil {
		s.credentials = NewCredentialRepository(s.pgDB.GormDB())
	}
	return s.credentials
}
