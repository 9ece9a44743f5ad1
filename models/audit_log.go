package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditAction represents the type of operation performed
type AuditAction string

const (
	AuditActionCreate    AuditAction = "CREATE"
	AuditActionUpdate    AuditAction = "UPDATE"
	AuditActionArchive   AuditAction = "ARCHIVE"
	AuditActionProvision AuditAction = "PROVISION"
	AuditActionDownload  AuditAction = "DOWNLOAD"
	AuditActionDelete    AuditAction = "DELETE"
	AuditActionPayment   AuditAction = "PAYMENT"
	AuditActionLogin     AuditAction = "LOGIN"
	AuditActionSecurity  AuditAction = "SECURITY"
)

// SystemActor is recorded when no authenticated caller is involved (intake, triggers, webhooks).
const SystemActor = "system"

// AuditLog is an append-only record of a data operation
type AuditLog struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_audit_created_at" json:"createdAt"`

	ActorID   string `gorm:"not null;index:idx_audit_actor" json:"actorId"`
	ActorRole string `json:"actorRole,omitempty"`
	TenantID  string `gorm:"index:idx_audit_tenant" json:"tenantId,omitempty"`

	ResourceType string      `gorm:"not null;index:idx_audit_resource" json:"resourceType"`
	ResourceID   string      `gorm:"not null;index:idx_audit_resource" json:"resourceId"`
	Action       AuditAction `gorm:"not null;index:idx_audit_action" json:"action"`
	Description  string      `gorm:"type:text" json:"description,omitempty"`
	Details      string      `gorm:"type:text" json:"details,omitempty"` // JSON encoded

	IPAddress string `json:"ipAddress,omitempty"`
}

// BeforeCreate generates UUID
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate prevents modification of audit logs
func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrRecordNotFound
}

// BeforeDelete prevents deletion of audit logs
func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return gorm.ErrRecordNotFound
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
