package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/warden/internal/credential"
)

// CredentialRepository implements credential.Store with GORM.
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a CredentialRepository.
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

var _ credential.Store = (*CredentialRepository)(nil)

func (r *CredentialRepository) Load(ctx context.Context) (credential.Record, error) {
	var m CredentialModel
	err := r.db.WithContext(ctx).First(&m, credentialRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credential.Record{}, credential.ErrNotConfigured
	}
	if err != nil {
		return credential.Record{}, fmt.Errorf("loading credential: %w", err)
	}
	if m.Hash == "" {
		return credential.Record{}, credential.ErrNotConfigured
	}
	return toCredentialDomain(&m), nil
}

// Save upserts the single credential row.
func (r *CredentialRepository) Save(ctx context.Context, rec credential.Record) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	m := CredentialModel{ID: credentialRowID, Hash: rec.Hash, UpdatedAt: updated}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash", "updated_at"}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Delete(&CredentialModel{}, credentialRowID).Error; err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}
