package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is a law firm operating portals for its clients.
type Tenant struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name         string `gorm:"not null" json:"name"`
	Slug         string `gorm:"uniqueIndex;not null" json:"slug"`
	BillingEmail string `json:"billingEmail,omitempty"`
	IsActive     bool   `gorm:"not null" json:"isActive"`
}

// BeforeCreate hook to generate UUID and slug
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Slug == "" {
		t.Slug = generateSlug(tx, t.Name)
	}
	return nil
}

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashes       = regexp.MustCompile(`-+`)
)

// generateSlug creates a URL-friendly slug from the tenant name
func generateSlug(tx *gorm.DB, name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugDashes.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		slug = "tenant"
	}

	original := slug
	counter := 1
	for {
		var count int64
		tx.Model(&Tenant{}).Unscoped().Where("slug = ?", slug).Count(&count)
		if count == 0 {
			break
		}
		slug = original + "-" + strconv.Itoa(counter)
		counter++
	}

	return slug
}

func (Tenant) TableName() string {
	return "tenants"
}
