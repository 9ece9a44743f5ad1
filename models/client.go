package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client lifecycle
const (
	ClientStatusActive   = "active"
	ClientStatusInactive = "inactive"
	ClientStatusArchived = "archived"
)

// Portal provisioning state carried on the client record
const (
	PortalStatusPending = "pending"
	PortalStatusActive  = "active"
	PortalStatusError   = "error"
)

// Intake sources
const (
	ClientSourceWebForm    = "web_form"
	ClientSourceAdminEntry = "admin_entry"
	ClientSourceImport     = "import"
	ClientSourceIntakeForm = "intake_form"
)

// ClientProfile holds the contact fields collected at intake.
type ClientProfile struct {
	FirstName string `gorm:"not null" json:"firstName"`
	LastName  string `gorm:"not null" json:"lastName"`
	Email     string `gorm:"not null;index" json:"email"`
	Mobile    string `gorm:"not null" json:"mobile"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	ZipCode   string `json:"zipCode,omitempty"`
}

type ClientMetadata struct {
	Source      string   `gorm:"not null;default:web_form" json:"source"`
	MatterType  string   `json:"matterType,omitempty"`
	Description string   `gorm:"type:text" json:"description,omitempty"`
	Tags        []string `gorm:"serializer:json" json:"tags,omitempty"`
	Notes       string   `gorm:"type:text" json:"notes,omitempty"`
}

type Client struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID string         `gorm:"type:uuid;not null;index" json:"tenantId"`
	Profile  ClientProfile  `gorm:"embedded" json:"profile"`
	Metadata ClientMetadata `gorm:"embedded;embeddedPrefix:meta_" json:"metadata"`

	// Subdomain is unique across all tenants, archived clients included.
	Subdomain string `gorm:"uniqueIndex;not null" json:"subdomain"`
	PortalURL string `gorm:"index;not null" json:"portalUrl"`
	Status    string `gorm:"not null;default:active;index" json:"status"`

	PortalStatus        string     `gorm:"not null;default:pending;index" json:"portalStatus"`
	PortalError         string     `gorm:"type:text" json:"portalError,omitempty"`
	PortalProvisionedAt *time.Time `json:"portalProvisionedAt,omitempty"`

	StripeCustomerID string `gorm:"index" json:"stripeCustomerId,omitempty"`

	CreatedBy      string `json:"createdBy"`
	LastModifiedBy string `json:"lastModifiedBy"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func (c *Client) FullName() string {
	return strings.TrimSpace(c.Profile.FirstName + " " + c.Profile.LastName)
}

func (c *Client) IsArchived() bool {
	return c.Status == ClientStatusArchived || c.DeletedAt.Valid
}

func (Client) TableName() string {
	return "clients"
}
