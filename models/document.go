package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document categories
const (
	DocumentCategoryContract       = "contract"
	DocumentCategoryCorrespondence = "correspondence"
	DocumentCategoryCourtFiling    = "court-filing"
	DocumentCategoryEvidence       = "evidence"
	DocumentCategoryInvoice        = "invoice"
	DocumentCategoryIdentification = "identification"
	DocumentCategoryOther          = "other"
)

// Uploader kinds
const (
	UploadedByClient = "client"
	UploadedByStaff  = "staff"
)

const DocumentStatusActive = "active"

// IsValidDocumentCategory reports whether category is one of the known categories
func IsValidDocumentCategory(category string) bool {
	switch category {
	case DocumentCategoryContract, DocumentCategoryCorrespondence, DocumentCategoryCourtFiling,
		DocumentCategoryEvidence, DocumentCategoryInvoice, DocumentCategoryIdentification,
		DocumentCategoryOther:
		return true
	}
	return false
}

// Document is the metadata half of a stored file. StorageKey points at the object half.
type Document struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"uploadedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID string  `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID string  `gorm:"type:uuid;not null;index" json:"clientId"`
	FolderID *string `gorm:"type:uuid;index" json:"folderId,omitempty"`
	MatterID string  `gorm:"index" json:"matterId,omitempty"`

	FileName   string `gorm:"not null" json:"fileName"`
	FileType   string `gorm:"not null" json:"fileType"`
	FileSize   int64  `gorm:"not null" json:"fileSize"`
	StorageKey string `gorm:"not null;uniqueIndex" json:"-"`

	Category       string   `gorm:"not null;index" json:"category"`
	Description    string   `gorm:"type:text" json:"description,omitempty"`
	Tags           []string `gorm:"serializer:json" json:"tags,omitempty"`
	UploadedBy     string   `gorm:"not null" json:"uploadedBy"`
	UploadedByType string   `gorm:"not null;index" json:"uploadedByType"`
	Status         string   `gorm:"not null;default:active" json:"status"`
}

// BeforeCreate hook to generate UUID
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (Document) TableName() string {
	return "documents"
}
