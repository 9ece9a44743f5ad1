package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/models"
	"tls_portal_go/telemetry"

	"github.com/microcosm-cc/bluemonday"
	"github.com/nyaruka/phonenumbers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Matter types accepted at intake
var MatterTypes = []string{
	"personal-injury",
	"family-law",
	"criminal-defense",
	"estate-planning",
	"business-law",
	"real-estate",
	"employment-law",
	"immigration",
	"other",
}

const (
	maxNameLength        = 50
	maxDescriptionLength = 5000
)

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	zipPattern  = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	stripHTML   = bluemonday.StrictPolicy()
)

// IntakeRequest is the public client intake payload
type IntakeRequest struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Mobile       string `json:"mobile"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode"`
	MatterType   string `json:"matterType"`
	Description  string `json:"description"`
	Source       string `json:"source"`
	TenantSlug   string `json:"tenantSlug"`
	CaptchaToken string `json:"captchaToken"`
}

// ClientUpdate carries the editable fields of a client; nil fields are left unchanged
type ClientUpdate struct {
	FirstName   *string  `json:"firstName"`
	LastName    *string  `json:"lastName"`
	Email       *string  `json:"email"`
	Mobile      *string  `json:"mobile"`
	Address     *string  `json:"address"`
	City        *string  `json:"city"`
	State       *string  `json:"state"`
	ZipCode     *string  `json:"zipCode"`
	MatterType  *string  `json:"matterType"`
	Description *string  `json:"description"`
	Notes       *string  `json:"notes"`
	Tags        []string `json:"tags"`
	Status      *string  `json:"status"`
}

// ClientListFilter narrows the staff client listing
type ClientListFilter struct {
	Status       string
	PortalStatus string
	Search       string
	Page         int
	PageSize     int
}

// ClientService owns the client record lifecycle and fires client triggers
type ClientService struct {
	db       *gorm.DB
	cfg      *config.Config
	triggers *Triggers
	captcha  CaptchaVerifier
	log      *zap.Logger
	audit    *AuditService
}

// NewClientService wires the client writer. captcha may be nil when no secret is configured.
func NewClientService(db *gorm.DB, cfg *config.Config, triggers *Triggers, captcha CaptchaVerifier, log *zap.Logger, audit *AuditService) *ClientService {
	return &ClientService{db: db, cfg: cfg, triggers: triggers, captcha: captcha, log: log, audit: audit}
}

// PortalURL builds the canonical portal address for subdomain
func PortalURL(subdomain, domain string) string {
	return "https://" + subdomain + "." + domain
}

func validateName(field, value string) error {
	if value == "" {
		return InvalidArgument("%s is required", field)
	}
	if len(value) > maxNameLength {
		return InvalidArgument("%s must be at most %d characters", field, maxNameLength)
	}
	if !namePattern.MatchString(value) {
		return InvalidArgument("%s may only contain letters, spaces, apostrophes and hyphens", field)
	}
	return nil
}

func normalizeIntakeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", InvalidArgument("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", InvalidArgument("email must be a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizeMobile validates a US phone number and returns it in national format
func NormalizeMobile(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", InvalidArgument("mobile is required")
	}
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil || !phonenumbers.IsPossibleNumber(num) || num.GetCountryCode() != 1 {
		return "", InvalidArgument("mobile must be a valid US phone number")
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL), nil
}

func isMatterType(v string) bool {
	for _, m := range MatterTypes {
		if m == v {
			return true
		}
	}
	return false
}

func isClientSource(v string) bool {
	switch v {
	case models.ClientSourceWebForm, models.ClientSourceAdminEntry, models.ClientSourceImport, models.ClientSourceIntakeForm:
		return true
	}
	return false
}

func sanitizeText(v string) string {
	return strings.TrimSpace(stripHTML.Sanitize(v))
}

// ValidateIntake checks req and normalises it in place
func ValidateIntake(req *IntakeRequest) error {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validateName("firstName", req.FirstName); err != nil {
		return err
	}
	if err := validateName("lastName", req.LastName); err != nil {
		return err
	}

	email, err := normalizeIntakeEmail(req.Email)
	if err != nil {
		return err
	}
	req.Email = email

	mobile, err := NormalizeMobile(req.Mobile)
	if err != nil {
		return err
	}
	req.Mobile = mobile

	req.Address = sanitizeText(req.Address)
	req.City = sanitizeText(req.City)
	req.State = strings.ToUpper(sanitizeText(req.State))
	req.ZipCode = strings.TrimSpace(req.ZipCode)
	if req.ZipCode != "" && !zipPattern.MatchString(req.ZipCode) {
		return InvalidArgument("zipCode must be a 5 or 9 digit ZIP code")
	}

	req.MatterType = strings.TrimSpace(req.MatterType)
	if req.MatterType != "" && !isMatterType(req.MatterType) {
		return InvalidArgument("matterType must be one of %s", strings.Join(MatterTypes, ", "))
	}

	req.Description = sanitizeText(req.Description)
	if len(req.Description) > maxDescriptionLength {
		return InvalidArgument("description must be at most %d characters", maxDescriptionLength)
	}

	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		req.Source = models.ClientSourceWebForm
	}
	if !isClientSource(req.Source) {
		return InvalidArgument("invalid source: %s", req.Source)
	}
	return nil
}

// TenantBySlug loads an active tenant; an empty slug means the default tenant
func (s *ClientService) TenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		slug = s.cfg.DefaultTenant
	}
	var tenant models.Tenant
	err := s.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("tenant %q not found", slug)
	}
	if err != nil {
		return nil, Internal(err, "failed to load tenant")
	}
	return &tenant, nil
}

// EnsureDefaultTenant creates the configured default tenant when it does not exist
func (s *ClientService) EnsureDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	return s.CreateTenant(ctx, s.cfg.DefaultBrand, s.cfg.DefaultTenant, "")
}

// CreateTenant returns the tenant with slug, creating it when missing
func (s *ClientService) CreateTenant(ctx context.Context, name, slug, billingEmail string) (*models.Tenant, error) {
	tenant := models.Tenant{Name: name, Slug: strings.ToLower(strings.TrimSpace(slug)), BillingEmail: billingEmail, IsActive: true}
	if tenant.Slug != "" {
		var existing models.Tenant
		err := s.db.WithContext(ctx).Where("slug = ?", tenant.Slug).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Internal(err, "failed to load tenant")
		}
	}
	if err := s.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, Internal(err, "failed to create tenant")
	}
	s.log.Info("Tenant created", zap.String("tenant_id", tenant.ID), zap.String("slug", tenant.Slug))
	return &tenant, nil
}

// CreateClient runs intake: captcha, derivation, validation, allocation, persistence,
// then ClientCreated triggers. Nothing is written when any check fails.
func (s *ClientService) CreateClient(ctx context.Context, req IntakeRequest, actorID, remoteIP string) (*models.Client, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "client.intake")
	defer span.End()

	if s.captcha != nil {
		if err := s.captcha.Verify(ctx, req.CaptchaToken, remoteIP); err != nil {
			s.log.Warn("Intake captcha rejected", zap.String("ip", remoteIP), zap.Error(err))
			return nil, InvalidArgument("captcha verification failed")
		}
	}

	tenant, err := s.TenantBySlug(ctx, req.TenantSlug)
	if err != nil {
		return nil, err
	}

	client, err := s.createForTenant(ctx, tenant, req, actorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("client.id", client.ID),
		attribute.String("client.subdomain", client.Subdomain),
	)
	return client, nil
}

// CreateClientForTenant is staff entry: no captcha, tenant taken from the caller
func (s *ClientService) CreateClientForTenant(ctx context.Context, tenantID string, req IntakeRequest, actorID string) (*models.Client, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Tenant not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load tenant")
	}
	if req.Source == "" {
		req.Source = models.ClientSourceAdminEntry
	}
	return s.createForTenant(ctx, &tenant, req, actorID)
}

func (s *ClientService) createForTenant(ctx context.Context, tenant *models.Tenant, req IntakeRequest, actorID string) (*models.Client, error) {
	candidate, err := DeriveSubdomain(req.LastName, req.Mobile)
	if err != nil {
		return nil, err
	}
	if err := ValidateIntake(&req); err != nil {
		return nil, err
	}
	if actorID == "" {
		actorID = models.SystemActor
	}

	used, err := UsedSubdomains(ctx, s.db, candidate)
	if err != nil {
		return nil, Internal(err, "failed to check subdomain availability")
	}

	client := &models.Client{
		TenantID: tenant.ID,
		Profile: models.ClientProfile{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Mobile:    req.Mobile,
			Address:   req.Address,
			City:      req.City,
			State:     req.State,
			ZipCode:   req.ZipCode,
		},
		Metadata: models.ClientMetadata{
			Source:      req.Source,
			MatterType:  req.MatterType,
			Description: req.Description,
		},
		Status:         models.ClientStatusActive,
		PortalStatus:   models.PortalStatusPending,
		CreatedBy:      actorID,
		LastModifiedBy: actorID,
	}

	_, err = AllocateSubdomain(candidate, used, s.cfg.SubdomainMaxTry, func(subdomain string) error {
		client.Subdomain = subdomain
		client.PortalURL = PortalURL(subdomain, s.cfg.PortalDomain)
		return s.db.WithContext(ctx).Create(client).Error
	})
	if err != nil {
		return nil, Internal(err, "failed to create client")
	}

	s.log.Info("Client created",
		zap.String("client_id", client.ID),
		zap.String("tenant_id", client.TenantID),
		zap.String("subdomain", client.Subdomain),
		zap.String("source", client.Metadata.Source))
	s.audit.Record(AuditEntry{
		ActorID:      actorID,
		TenantID:     client.TenantID,
		ResourceType: "client",
		ResourceID:   client.ID,
		Action:       models.AuditActionCreate,
		Description:  client.FullName(),
	})

	if err := s.triggers.Fire(ctx, ClientCreated, ClientEvent{Client: client}); err != nil {
		// The record is committed; trigger failures surface on the client's portal status
		s.log.Warn("Client created triggers reported errors", zap.String("client_id", client.ID), zap.Error(err))
	}
	return client, nil
}

// GetClient loads a live (non-archived) client of a tenant
func (s *ClientService) GetClient(ctx context.Context, tenantID, clientID string) (*models.Client, error) {
	var client models.Client
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", clientID, tenantID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("client not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load client")
	}
	return &client, nil
}

// Normalize applies the default page and page size
func (f *ClientListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 25
	}
}

func (s *ClientService) ListClients(ctx context.Context, tenantID string, filter ClientListFilter) ([]models.Client, int64, error) {
	filter.Normalize()

	query := s.db.WithContext(ctx).Model(&models.Client{}).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PortalStatus != "" {
		query = query.Where("portal_status = ?", filter.PortalStatus)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ? OR subdomain LIKE ?)",
			like, like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, Internal(err, "failed to count clients")
	}

	var clients []models.Client
	if err := query.Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&clients).Error; err != nil {
		return nil, 0, Internal(err, "failed to list clients")
	}
	return clients, total, nil
}

// UpdateClient applies the non-nil fields of update and fires ClientUpdated
func (s *ClientService) UpdateClient(ctx context.Context, tenantID, clientID string, update ClientUpdate, actorID string) (*models.Client, error) {
	client, err := s.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	previous := *client
	columns := []string{"last_modified_by", "updated_at"}

	if update.FirstName != nil {
		v := strings.TrimSpace(*update.FirstName)
		if err := validateName("firstName", v); err != nil {
			return nil, err
		}
		client.Profile.FirstName = v
		columns = append(columns, "first_name")
	}
	if update.LastName != nil {
		v := strings.TrimSpace(*update.LastName)
		if err := validateName("lastName", v); err != nil {
			return nil, err
		}
		client.Profile.LastName = v
		columns = append(columns, "last_name")
	}
	if update.Email != nil {
		v, err := normalizeIntakeEmail(*update.Email)
		if err != nil {
			return nil, err
		}
		client.Profile.Email = v
		columns = append(columns, "email")
	}
	if update.Mobile != nil {
		v, err := NormalizeMobile(*update.Mobile)
		if err != nil {
			return nil, err
		}
		client.Profile.Mobile = v
		columns = append(columns, "mobile")
	}
	if update.Address != nil {
		client.Profile.Address = sanitizeText(*update.Address)
		columns = append(columns, "address")
	}
	if update.City != nil {
		client.Profile.City = sanitizeText(*update.City)
		columns = append(columns, "city")
	}
	if update.State != nil {
		client.Profile.State = strings.ToUpper(sanitizeText(*update.State))
		columns = append(columns, "state")
	}
	if update.ZipCode != nil {
		v := strings.TrimSpace(*update.ZipCode)
		if v != "" && !zipPattern.MatchString(v) {
			return nil, InvalidArgument("zipCode must be a 5 or 9 digit ZIP code")
		}
		client.Profile.ZipCode = v
		columns = append(columns, "zip_code")
	}
	if update.MatterType != nil {
		v := strings.TrimSpace(*update.MatterType)
		if v != "" && !isMatterType(v) {
			return nil, InvalidArgument("matterType must be one of %s", strings.Join(MatterTypes, ", "))
		}
		client.Metadata.MatterType = v
		columns = append(columns, "meta_matter_type")
	}
	if update.Description != nil {
		client.Metadata.Description = sanitizeText(*update.Description)
		columns = append(columns, "meta_description")
	}
	if update.Notes != nil {
		client.Metadata.Notes = sanitizeText(*update.Notes)
		columns = append(columns, "meta_notes")
	}
	if update.Tags != nil {
		client.Metadata.Tags = update.Tags
		columns = append(columns, "meta_tags")
	}
	if update.Status != nil {
		switch *update.Status {
		case models.ClientStatusActive, models.ClientStatusInactive:
			client.Status = *update.Status
			columns = append(columns, "status")
		default:
			return nil, InvalidArgument("status must be active or inactive")
		}
	}
	client.LastModifiedBy = actorID
	client.UpdatedAt = time.Now()

	// Portal and billing columns belong to the triggers; write only what was edited
	if err := s.db.WithContext(ctx).Model(client).Select(columns).Updates(client).Error; err != nil {
		return nil, Internal(err, "failed to update client")
	}
	if fresh, err := s.GetClient(ctx, tenantID, clientID); err == nil {
		client = fresh
	}

	s.audit.Record(AuditEntry{
		ActorID:      actorID,
		TenantID:     tenantID,
		ResourceType: "client",
		ResourceID:   client.ID,
		Action:       models.AuditActionUpdate,
		Details:      map[string]interface{}{"before": previous.Profile, "after": client.Profile},
	})

	if err := s.triggers.Fire(ctx, ClientUpdated, ClientEvent{Client: client, Previous: &previous}); err != nil {
		s.log.Warn("Client updated triggers reported errors", zap.String("client_id", client.ID), zap.Error(err))
	}
	return client, nil
}

// ArchiveClient marks the client archived and soft deletes it. Its subdomain stays reserved.
func (s *ClientService) ArchiveClient(ctx context.Context, tenantID, clientID, actorID string) error {
	client, err := s.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(client).Updates(map[string]interface{}{
			"status":           models.ClientStatusArchived,
			"last_modified_by": actorID,
		}).Error; err != nil {
			return err
		}
		return tx.Delete(client).Error
	})
	if err != nil {
		return Internal(err, "failed to archive client")
	}
	client.Status = models.ClientStatusArchived

	s.log.Info("Client archived", zap.String("client_id", client.ID), zap.String("actor", actorID))
	s.audit.Record(AuditEntry{
		ActorID:      actorID,
		TenantID:     tenantID,
		ResourceType: "client",
		ResourceID:   client.ID,
		Action:       models.AuditActionArchive,
	})

	if err := s.triggers.Fire(ctx, ClientDeleted, ClientEvent{Client: client}); err != nil {
		s.log.Warn("Client deleted triggers reported errors", zap.String("client_id", client.ID), zap.Error(err))
	}
	return nil
}

// CheckSubdomainAvailability reports whether subdomain is free across all tenants
func (s *ClientService) CheckSubdomainAvailability(ctx context.Context, subdomain string) (bool, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" {
		return false, InvalidArgument("Subdomain is required")
	}
	taken, err := IsSubdomainTaken(ctx, s.db, subdomain)
	if err != nil {
		return false, Internal(err, "failed to check subdomain availability")
	}
	return !taken, nil
}

// FindBySubdomain loads a client by exact subdomain, archived included
func (s *ClientService) FindBySubdomain(ctx context.Context, subdomain string) (*models.Client, error) {
	var client models.Client
	err := s.db.WithContext(ctx).Unscoped().Where("subdomain = ?", strings.ToLower(subdomain)).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("no client with subdomain %s", subdomain)
	}
	if err != nil {
		return nil, Internal(err, "failed to load client")
	}
	return &client, nil
}
