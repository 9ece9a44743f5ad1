package models

import "time"

// Portal config states
const (
	PortalConfigActive   = "active"
	PortalConfigInactive = "inactive"
	PortalConfigError    = "error"
)

// DefaultPrimaryColor is the branding colour applied to new portals.
const DefaultPrimaryColor = "#1e40af"

type PortalFeatures struct {
	Documents  bool `json:"documents"`
	Billing    bool `json:"billing"`
	Messages   bool `json:"messages"`
	Scheduling bool `json:"scheduling"`
}

type PortalBranding struct {
	PrimaryColor string  `json:"primaryColor"`
	LogoURL      *string `json:"logoUrl"`
	CompanyName  string  `json:"companyName"`
}

// PortalConfig is keyed by subdomain and doubles as the resolution index.
type PortalConfig struct {
	Subdomain string    `gorm:"primaryKey" json:"subdomain"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ClientID string `gorm:"type:uuid;not null;index" json:"clientId"`
	TenantID string `gorm:"type:uuid;not null;index" json:"tenantId"`
	Status   string `gorm:"not null;index" json:"status"`

	Features PortalFeatures `gorm:"embedded;embeddedPrefix:feature_" json:"features"`
	Branding PortalBranding `gorm:"embedded;embeddedPrefix:brand_" json:"branding"`

	ActivatedAt   *time.Time `json:"activatedAt,omitempty"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// DefaultPortalFeatures is the feature set enabled on provisioning.
func DefaultPortalFeatures() PortalFeatures {
	return PortalFeatures{
		Documents:  true,
		Billing:    true,
		Messages:   true,
		Scheduling: false,
	}
}

func (p *PortalConfig) IsActive() bool {
	return p.Status == PortalConfigActive
}

func (PortalConfig) TableName() string {
	return "portal_configs"
}
