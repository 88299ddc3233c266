package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants name the workflow facts recorded in the audit trail.
const (
	AuditActionDocumentCreate   = "DOCUMENT_CREATE"
	AuditActionDocumentUpdate   = "DOCUMENT_UPDATE"
	AuditActionDocumentDelete   = "DOCUMENT_DELETE"
	AuditActionDocumentSend     = "DOCUMENT_SEND_FOR_APPROVAL"
	AuditActionApprovalApprove  = "APPROVAL_APPROVE"
	AuditActionDocumentApprove  = "DOCUMENT_APPROVE"
	AuditActionDocumentReject   = "DOCUMENT_REJECT"
	AuditActionDocumentComplete = "DOCUMENT_COMPLETE"
	AuditActionCommentAdd       = "COMMENT_ADD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// MarshalJSON renders the stored jsonb snapshots inline instead of base64.
func (a AuditLog) MarshalJSON() ([]byte, error) {
	type plain AuditLog
	return json.Marshal(struct {
		plain
		OldValues json.RawMessage `json:"old_values,omitempty"`
		NewValues json.RawMessage `json:"new_values,omitempty"`
	}{plain: plain(a), OldValues: a.OldValues, NewValues: a.NewValues})
}
