package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PasswordResetToken struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	IdentityID string    `gorm:"type:uuid;not null;index" json:"identityId"`
	Token      string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expiresAt"`

	Identity *AuthIdentity `gorm:"foreignKey:IdentityID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (p *PasswordResetToken) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (p *PasswordResetToken) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}
