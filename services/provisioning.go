package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/models"
	"tls_portal_go/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Provisioner builds and tears down client portals in reaction to client triggers
type Provisioner struct {
	db       *gorm.DB
	cfg      *config.Config
	auth     IdentityProvider
	email    *EmailService
	resolver *ClientResolver
	log      *zap.Logger
	audit    *AuditService
}

// NewProvisioner wires the portal provisioner. email and resolver may be nil.
func NewProvisioner(db *gorm.DB, cfg *config.Config, auth IdentityProvider, email *EmailService, resolver *ClientResolver, log *zap.Logger, audit *AuditService) *Provisioner {
	return &Provisioner{db: db, cfg: cfg, auth: auth, email: email, resolver: resolver, log: log, audit: audit}
}

// Register hooks provisioning to ClientCreated and deprovisioning to ClientDeleted
func (p *Provisioner) Register(t *Triggers) {
	t.On(ClientCreated, "provision-portal", func(ctx context.Context, ev ClientEvent) error {
		return p.Provision(ctx, ev.Client.ID)
	})
	t.On(ClientDeleted, "deprovision-portal", func(ctx context.Context, ev ClientEvent) error {
		return p.Deprovision(ctx, ev.Client)
	})
}

// Provision moves a client's portal from pending to active. It is safe to run
// repeatedly: an active client is skipped and every step is idempotent.
func (p *Provisioner) Provision(ctx context.Context, clientID string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "portal.provision")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	var client models.Client
	if err := p.db.WithContext(ctx).First(&client, "id = ?", clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFound("client %s not found", clientID)
		}
		return fmt.Errorf("failed to load client: %w", err)
	}
	if client.PortalStatus == models.PortalStatusActive {
		p.log.Debug("Portal already active", zap.String("client_id", client.ID))
		return nil
	}

	identity, err := p.provision(ctx, &client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.markError(ctx, &client, err)
		return err
	}

	p.log.Info("Portal provisioned",
		zap.String("client_id", client.ID),
		zap.String("subdomain", client.Subdomain),
		zap.String("identity_id", identity.ID))
	p.audit.Record(AuditEntry{
		TenantID:     client.TenantID,
		ResourceType: "portal",
		ResourceID:   client.Subdomain,
		Action:       models.AuditActionProvision,
		Description:  "portal activated",
	})

	p.sendWelcome(ctx, &client, identity)
	return nil
}

func (p *Provisioner) provision(ctx context.Context, client *models.Client) (*models.AuthIdentity, error) {
	companyName := p.companyName(ctx, client.TenantID)
	now := time.Now()

	// 1. identity get-or-create, refusing accounts owned elsewhere
	identity, err := p.auth.GetIdentityByEmail(ctx, client.Profile.Email)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		password, err := GenerateTemporaryPassword()
		if err != nil {
			return nil, err
		}
		identity, err = p.auth.CreateIdentity(ctx, NewIdentity{
			Email:       client.Profile.Email,
			DisplayName: client.FullName(),
			Password:    password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auth identity: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up auth identity: %w", err)
	default:
		if err := p.checkIdentityOwner(ctx, identity, client); err != nil {
			return nil, err
		}
		if identity.Disabled {
			if err := p.auth.EnableIdentity(ctx, identity.ID); err != nil {
				return nil, fmt.Errorf("failed to re-enable auth identity: %w", err)
			}
		}
	}

	// 2. portal config, keyed by subdomain
	portal := models.PortalConfig{
		Subdomain: client.Subdomain,
		ClientID:  client.ID,
		TenantID:  client.TenantID,
		Status:    models.PortalConfigActive,
		Features:  models.DefaultPortalFeatures(),
		Branding: models.PortalBranding{
			PrimaryColor: models.DefaultPrimaryColor,
			CompanyName:  companyName,
		},
		ActivatedAt: &now,
	}
	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subdomain"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "tenant_id", "status", "activated_at", "deactivated_at", "updated_at"}),
	}).Create(&portal).Error; err != nil {
		return nil, fmt.Errorf("failed to create portal config: %w", err)
	}

	// 3. claims and role record
	claims := models.IdentityClaims{
		Role:      models.RoleClient,
		TenantID:  client.TenantID,
		ClientID:  client.ID,
		Subdomain: client.Subdomain,
	}
	if err := p.auth.SetCustomClaims(ctx, identity.ID, claims); err != nil {
		return nil, fmt.Errorf("failed to set identity claims: %w", err)
	}
	identity.Claims = claims

	clientID := client.ID
	user := models.User{
		ID:       identity.ID,
		TenantID: client.TenantID,
		ClientID: &clientID,
		Email:    client.Profile.Email,
		Role:     models.RoleClient,
	}
	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "client_id", "email", "role", "updated_at"}),
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to write user record: %w", err)
	}

	// 4. default folders, only for a client without any
	if err := p.createDefaultFolders(ctx, client); err != nil {
		return nil, err
	}

	// 5. mark active
	if err := p.db.WithContext(ctx).Model(client).Updates(map[string]interface{}{
		"portal_status":         models.PortalStatusActive,
		"portal_error":          "",
		"portal_provisioned_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to mark portal active: %w", err)
	}
	client.PortalStatus = models.PortalStatusActive
	client.PortalProvisionedAt = &now

	if p.resolver != nil {
		p.resolver.Invalidate(ctx, client.Subdomain)
	}
	return identity, nil
}

// checkIdentityOwner refuses an existing identity held by staff or by another live client
func (p *Provisioner) checkIdentityOwner(ctx context.Context, identity *models.AuthIdentity, client *models.Client) error {
	if identity.Claims.Role == models.RoleStaff || identity.Claims.Role == models.RoleAdmin {
		return fmt.Errorf("%w: %s is a %s account", ErrIdentityInUse, identity.Email, identity.Claims.Role)
	}

	var user models.User
	err := p.db.WithContext(ctx).First(&user, "id = ?", identity.ID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load user record: %w", err)
	}
	hasUser := err == nil
	if hasUser && user.Role != models.RoleClient {
		return fmt.Errorf("%w: %s is a %s account", ErrIdentityInUse, identity.Email, user.Role)
	}

	owner := identity.Claims.ClientID
	if owner == "" && hasUser && user.ClientID != nil {
		owner = *user.ClientID
	}
	if owner == "" || owner == client.ID {
		return nil
	}

	var other models.Client
	err = p.db.WithContext(ctx).Select("id", "status").First(&other, "id = ?", owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load owning client: %w", err)
	}
	if other.IsArchived() {
		return nil
	}
	return fmt.Errorf("%w: %s already signs in to another client's portal", ErrIdentityInUse, identity.Email)
}

func (p *Provisioner) createDefaultFolders(ctx context.Context, client *models.Client) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Folder{}).Where("client_id = ?", client.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count folders: %w", err)
		}
		if count > 0 {
			return nil
		}
		folders := make([]models.Folder, len(models.DefaultFolders))
		for i, f := range models.DefaultFolders {
			f.TenantID = client.TenantID
			f.ClientID = client.ID
			folders[i] = f
		}
		if err := tx.Create(&folders).Error; err != nil {
			return fmt.Errorf("failed to create folders: %w", err)
		}
		return nil
	})
}

func (p *Provisioner) companyName(ctx context.Context, tenantID string) string {
	var tenant models.Tenant
	if err := p.db.WithContext(ctx).Select("name").First(&tenant, "id = ?", tenantID).Error; err == nil && tenant.Name != "" {
		return tenant.Name
	}
	if p.cfg.DefaultBrand != "" {
		return p.cfg.DefaultBrand
	}
	return "The Law Shop"
}

func (p *Provisioner) markError(ctx context.Context, client *models.Client, cause error) {
	err := p.db.WithContext(context.WithoutCancel(ctx)).Model(client).Updates(map[string]interface{}{
		"portal_status": models.PortalStatusError,
		"portal_error":  cause.Error(),
	}).Error
	if err != nil {
		p.log.Error("Failed to record provisioning error", zap.String("client_id", client.ID), zap.Error(err))
	}
	p.log.Error("Portal provisioning failed", zap.String("client_id", client.ID), zap.Error(cause))
}

// sendWelcome queues the welcome email; failures are logged only
func (p *Provisioner) sendWelcome(ctx context.Context, client *models.Client, identity *models.AuthIdentity) {
	if p.email == nil {
		return
	}
	token, err := CreateResetToken(ctx, p.db, identity.ID, WelcomeTokenExpiration)
	if err != nil {
		p.log.Warn("Failed to create welcome password link", zap.String("client_id", client.ID), zap.Error(err))
		return
	}
	email, err := p.email.BuildPortalWelcomeEmail(client.Profile.Email, PortalWelcomeEmailData{
		ClientName:  client.FullName(),
		CompanyName: p.companyName(ctx, client.TenantID),
		PortalURL:   client.PortalURL,
		SetupLink:   p.cfg.AppURL + "/reset-password?token=" + token.Token,
	})
	if err != nil {
		p.log.Warn("Failed to build welcome email", zap.String("client_id", client.ID), zap.Error(err))
		return
	}
	p.email.SendAsync(email)
}

// Deprovision deactivates the portal config and disables every identity bound to
// the client. It keeps going past individual failures and returns them joined.
func (p *Provisioner) Deprovision(ctx context.Context, client *models.Client) error {
	ctx, span := telemetry.Tracer().Start(ctx, "portal.deprovision")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", client.ID))

	var errs []error
	now := time.Now()
	if err := p.db.WithContext(ctx).Model(&models.PortalConfig{}).
		Where("subdomain = ?", client.Subdomain).
		Updates(map[string]interface{}{
			"status":         models.PortalConfigInactive,
			"deactivated_at": now,
		}).Error; err != nil {
		p.log.Error("Failed to deactivate portal config", zap.String("subdomain", client.Subdomain), zap.Error(err))
		errs = append(errs, err)
	}

	var users []models.User
	if err := p.db.WithContext(ctx).Where("client_id = ?", client.ID).Find(&users).Error; err != nil {
		errs = append(errs, fmt.Errorf("failed to list client users: %w", err))
	}
	for _, u := range users {
		if err := p.auth.DisableIdentity(ctx, u.ID); err != nil {
			p.log.Error("Failed to disable client identity",
				zap.String("client_id", client.ID),
				zap.String("identity_id", u.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("identity %s: %w", u.ID, err))
		}
	}

	if p.resolver != nil {
		p.resolver.Invalidate(ctx, client.Subdomain)
	}

	p.log.Info("Portal deprovisioned",
		zap.String("client_id", client.ID),
		zap.Int("identities", len(users)),
		zap.Int("failures", len(errs)))
	p.audit.Record(AuditEntry{
		TenantID:     client.TenantID,
		ResourceType: "portal",
		ResourceID:   client.Subdomain,
		Action:       models.AuditActionArchive,
		Description:  "portal deactivated",
	})

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// RetryStuck re-runs provisioning for clients left pending or errored for longer
// than minAge. It returns how many portals became active.
func (p *Provisioner) RetryStuck(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	var clients []models.Client
	if err := p.db.WithContext(ctx).
		Where("portal_status IN ? AND status <> ? AND updated_at < ?",
			[]string{models.PortalStatusPending, models.PortalStatusError},
			models.ClientStatusArchived,
			time.Now().Add(-minAge)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&clients).Error; err != nil {
		return 0, fmt.Errorf("failed to list stuck portals: %w", err)
	}

	provisioned := 0
	for _, c := range clients {
		if ctx.Err() != nil {
			return provisioned, ctx.Err()
		}
		if err := p.Provision(ctx, c.ID); err != nil {
			continue
		}
		provisioned++
	}
	return provisioned, nil
}
