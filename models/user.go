package models

import "time"

// Roles carried in identity claims and user records
const (
	RoleClient = "client"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// User is the per-identity role record. Its ID is the auth identity ID.
type User struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID string  `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID *string `gorm:"type:uuid;index" json:"clientId,omitempty"` // nil for staff
	Email    string  `gorm:"not null" json:"email"`
	Role     string  `gorm:"not null;default:client" json:"role"`
}

func (User) TableName() string {
	return "users"
}
