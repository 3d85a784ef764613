package postgres

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventModel maps to the "audit_events" table.
// No UpdatedAt or DeletedAt: the audit log is append-only.
type AuditEventModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       string    `gorm:"not null;index"`
	ActionKind string    `gorm:"index"`
	OriginText string    `gorm:"type:text"`
	Verified   bool      `gorm:"not null;default:false"`
	PendingID  string    `gorm:"index"`
	Rule       string
	Category   string
	Success    *bool
	Detail     string `gorm:"type:text"`
	Client     string
	CreatedAt  time.Time `gorm:"index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// credentialRowID is the primary key of the single credential row.
const credentialRowID = 1

// CredentialModel maps to the "credentials" table. It holds one row.
type CredentialModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	Hash      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

// Models lists every model in migration order.
func Models() []any {
	return []any{&AuditEventModel{}, &CredentialModel{}}
}
