package services

import (
	"context"
	"encoding/json"
	"sync"

	"tls_portal_go/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditEntry describes one audited operation
type AuditEntry struct {
	ActorID      string
	ActorRole    string
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       models.AuditAction
	Description  string
	Details      interface{}
	IPAddress    string
}

// AuditService writes audit_logs rows off the request path.
// A nil *AuditService is valid and records nothing.
type AuditService struct {
	db  *gorm.DB
	log *zap.Logger
	wg  sync.WaitGroup
}

func NewAuditService(db *gorm.DB, log *zap.Logger) *AuditService {
	return &AuditService{db: db, log: log}
}

// Record persists entry asynchronously
func (a *AuditService) Record(entry AuditEntry) {
	if a == nil {
		return
	}
	if entry.ActorID == "" {
		entry.ActorID = models.SystemActor
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		var details string
		if entry.Details != nil {
			if b, err := json.Marshal(entry.Details); err == nil {
				details = string(b)
			}
		}

		row := models.AuditLog{
			ActorID:      entry.ActorID,
			ActorRole:    entry.ActorRole,
			TenantID:     entry.TenantID,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Action:       entry.Action,
			Description:  entry.Description,
			Details:      details,
			IPAddress:    entry.IPAddress,
		}
		if err := a.db.Create(&row).Error; err != nil {
			a.log.Warn("Failed to create audit log", zap.String("resource_id", entry.ResourceID), zap.Error(err))
		}
	}()
}

// Security logs a security event immediately and persists it as an audit row
func (a *AuditService) Security(eventType, actorID, details string) {
	if a == nil {
		return
	}
	a.log.Warn("Security event",
		zap.String("event", eventType),
		zap.String("actor_id", actorID),
		zap.String("details", details),
	)
	a.Record(AuditEntry{
		ActorID:      actorID,
		ResourceType: "SECURITY_EVENT",
		ResourceID:   eventType,
		Action:       models.AuditActionSecurity,
		Description:  details,
	})
}

// Wait blocks until pending writes finish; used on shutdown and in tests.
func (a *AuditService) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

// History returns the audit trail of one resource, newest first
func (a *AuditService) History(ctx context.Context, resourceType, resourceID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := a.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// TenantLogs returns a page of a tenant's audit logs, newest first
func (a *AuditService) TenantLogs(ctx context.Context, tenantID string, action string, page, pageSize int) ([]models.AuditLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := a.db.WithContext(ctx).Model(&models.AuditLog{}).Where("tenant_id = ?", tenantID)
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error
	return logs, total, err
}
