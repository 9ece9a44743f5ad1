package services

import (
	"context"
	"errors"
	"strings"

	"tls_portal_go/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewStaffMember describes a firm user created by an operator
type NewStaffMember struct {
	TenantID    string
	Email       string
	DisplayName string
	Password    string
	Role        string
}

// CreateStaffMember creates a staff or admin identity bound to a tenant together
// with its user record
func CreateStaffMember(ctx context.Context, db *gorm.DB, auth *AuthService, in NewStaffMember) (*models.AuthIdentity, error) {
	if in.Role != models.RoleStaff && in.Role != models.RoleAdmin {
		return nil, InvalidArgument("role must be staff or admin")
	}
	email, err := normalizeIntakeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	var tenant models.Tenant
	if err := db.WithContext(ctx).First(&tenant, "id = ?", in.TenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("tenant not found")
		}
		return nil, Internal(err, "failed to load tenant")
	}

	if _, err := auth.GetIdentityByEmail(ctx, email); err == nil {
		return nil, FailedPrecondition("an account with email %s already exists", email)
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, Internal(err, "failed to check existing account")
	}

	identity, err := auth.CreateIdentity(ctx, NewIdentity{
		Email:       email,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Password:    in.Password,
		Claims:      models.IdentityClaims{Role: in.Role, TenantID: tenant.ID},
	})
	if err != nil {
		return nil, Internal(err, "failed to create identity")
	}

	user := models.User{ID: identity.ID, TenantID: tenant.ID, Email: email, Role: in.Role}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		// Leave no login without a role record
		if disableErr := auth.DisableIdentity(ctx, identity.ID); disableErr != nil {
			auth.log.Error("Failed to disable orphaned identity", zap.String("identity_id", identity.ID), zap.Error(disableErr))
		}
		return nil, Internal(err, "failed to create user record")
	}

	auth.audit.Record(AuditEntry{
		ActorID:      models.SystemActor,
		TenantID:     tenant.ID,
		ResourceType: "user",
		ResourceID:   identity.ID,
		Description:  email,
		Action:       models.AuditActionCreate,
	})
	return identity, nil
}

// SyncPortalURLs rewrites stored portal URLs that no longer match the portal
// domain, for example after PORTAL_DOMAIN changes. With dryRun nothing is written.
func SyncPortalURLs(ctx context.Context, db *gorm.DB, domain string, dryRun bool, log *zap.Logger) (int, error) {
	var clients []models.Client
	if err := db.WithContext(ctx).Unscoped().Select("id", "subdomain", "portal_url").Find(&clients).Error; err != nil {
		return 0, Internal(err, "failed to load clients")
	}

	changed := 0
	for _, c := range clients {
		want := PortalURL(c.Subdomain, domain)
		if c.PortalURL == want {
			continue
		}
		changed++
		if dryRun {
			log.Info("Portal URL would change", zap.String("client_id", c.ID), zap.String("from", c.PortalURL), zap.String("to", want))
			continue
		}
		if err := db.WithContext(ctx).Unscoped().Model(&models.Client{}).Where("id = ?", c.ID).
			UpdateColumn("portal_url", want).Error; err != nil {
			return changed - 1, Internal(err, "failed to update portal url for client %s", c.ID)
		}
		log.Info("Portal URL updated", zap.String("client_id", c.ID), zap.String("portal_url", want))
	}
	return changed, nil
}
