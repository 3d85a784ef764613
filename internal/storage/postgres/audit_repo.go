package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/audit"
)

// AuditRepository implements audit.Store with GORM.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Store = (*AuditRepository)(nil)

// Append inserts a single audit event.
func (r *AuditRepository) Append(ctx context.Context, e audit.Event) error {
	model := toAuditModel(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Query returns events matching f, newest first.
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}

	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Scopes(FilterScope(f)).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]audit.Event, len(models))
	for i := range models {
		events[i] = toAuditDomain(&models[i])
	}
	return events, nil
}

// FilterScope returns a GORM scope applying f (except Limit).
func FilterScope(f audit.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(f.Kinds) > 0 {
			kinds := make([]string, len(f.Kinds))
			for i, k := range f.Kinds {
				kinds[i] = string(k)
			}
			db = db.Where("kind IN ?", kinds)
		}
		if f.ActionKind != "" {
			db = db.Where("action_kind = ?", string(f.ActionKind))
		}
		if !f.Since.IsZero() {
			db = db.Where("created_at >= ?", f.Since.UTC())
		}
		if !f.Until.IsZero() {
			db = db.Where("created_at < ?", f.Until.UTC())
		}
		return db
	}
}
