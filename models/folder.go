package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Folder groups a client's documents.
type Folder struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID  string  `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID  string  `gorm:"type:uuid;not null;index" json:"clientId"`
	ParentID  *string `gorm:"type:uuid" json:"parentId"`
	Name      string  `gorm:"not null" json:"name"`
	Type      string  `gorm:"not null" json:"type"`
	SortOrder int     `gorm:"not null" json:"order"`
}

// DefaultFolders are created for every newly provisioned portal, in display order.
var DefaultFolders = []Folder{
	{Name: "Contracts", Type: "contracts", SortOrder: 1},
	{Name: "Correspondence", Type: "correspondence", SortOrder: 2},
	{Name: "Court Documents", Type: "court", SortOrder: 3},
	{Name: "Financial Records", Type: "financial", SortOrder: 4},
}

// BeforeCreate hook to generate UUID
func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

func (Folder) TableName() string {
	return "folders"
}
