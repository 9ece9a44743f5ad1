package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdentityClaims are the custom claims embedded in issued tokens.
type IdentityClaims struct {
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
}

// AuthIdentity is a login credential managed by the portal's auth service.
type AuthIdentity struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Email       string         `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string         `json:"displayName"`
	Password    string         `gorm:"not null" json:"-"`
	Disabled    bool           `gorm:"not null;index" json:"disabled"`
	Claims      IdentityClaims `gorm:"embedded;embeddedPrefix:claim_" json:"claims"`

	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	FailedLoginAttempts int        `gorm:"not null" json:"-"`
	LockoutUntil        *time.Time `json:"-"`
}

// BeforeCreate hook to generate UUID
func (a *AuthIdentity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

func (a *AuthIdentity) IsLockedOut() bool {
	return a.LockoutUntil != nil && time.Now().Before(*a.LockoutUntil)
}

func (AuthIdentity) TableName() string {
	return "auth_identities"
}
