package postgres

import (
	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
)

func toAuditModel(e audit.Event) AuditEventModel {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}
	return AuditEventModel{
		ID:         id,
		Kind:       string(e.Kind),
		ActionKind: string(e.ActionKind),
		OriginText: e.OriginText,
		Verified:   e.Verified,
		PendingID:  e.PendingID,
		Rule:       e.Rule,
		Category:   e.Category,
		Success:    e.Success,
		Detail:     e.Detail,
		Client:     e.Client,
		CreatedAt:  e.Timestamp.UTC(),
	}
}

func toAuditDomain(m *AuditEventModel) audit.Event {
	return audit.Event{
		ID:         m.ID.String(),
		Kind:       audit.Kind(m.Kind),
		Timestamp:  m.CreatedAt.UTC(),
		ActionKind: action.Kind(m.ActionKind),
		OriginText: m.OriginText,
		Verified:   m.Verified,
		PendingID:  m.PendingID,
		Rule:       m.Rule,
		Category:   m.Category,
		Success:    m.Success,
		Detail:     m.Detail,
		Client:     m.Client,
	}
}

func toCredentialDomain(m *CredentialModel) credential.Record {
	return credential.Record{Hash: m.Hash, UpdatedAt: m.UpdatedAt.UTC()}
}
