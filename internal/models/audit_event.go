package models

import (
	"time"
)

// Audit event types
const (
	AuditConsentDenied = "consent_denied"
	AuditCodeIssued    = "code_issued"
	AuditCodeReused    = "code_reused"
	AuditTokenIssued   = "token_issued"
	AuditTokenRefresh  = "token_refreshed"
	AuditExchangeFail  = "exchange_failed"
)

// AuditEvent records a protocol event. Codes and tokens are only ever
// stored as short prefixes.
type AuditEvent struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Type      string    `json:"type" gorm:"index;not null"`
	ClientID  string    `json:"client_id" gorm:"index"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "oauth_audit_events"
}
