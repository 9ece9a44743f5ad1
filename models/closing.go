package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transaction types
const (
	TransactionPurchase  = "purchase"
	TransactionSale      = "sale"
	TransactionRefinance = "refinance"
)

// Closing payment states
const (
	ClosingPaymentUnpaid   = "unpaid"
	ClosingPaymentPending  = "pending"
	ClosingPaymentPartial  = "partial"
	ClosingPaymentPaid     = "paid"
	ClosingPaymentRefunded = "refunded"
)

const (
	ClosingStatusScheduled  = "scheduled"
	ClosingStatusInProgress = "in_progress"
	ClosingStatusCompleted  = "completed"
	ClosingStatusCancelled  = "cancelled"
)

type PropertyAddress struct {
	Street  string `gorm:"not null" json:"street"`
	City    string `gorm:"not null" json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

// Closing is a real-estate closing billed as a flat fee (in cents).
type Closing struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID string `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID string `gorm:"type:uuid;not null;index" json:"clientId"`

	PropertyAddress PropertyAddress `gorm:"embedded;embeddedPrefix:property_" json:"propertyAddress"`
	PropertyType    string          `json:"propertyType,omitempty"`
	TransactionType string          `gorm:"not null" json:"transactionType"`
	FixedFee        int64           `gorm:"not null" json:"fixedFee"`
	ClosingDate     *time.Time      `json:"closingDate,omitempty"`

	Status        string     `gorm:"not null;default:scheduled" json:"status"`
	PaymentStatus string     `gorm:"not null;default:unpaid;index" json:"paymentStatus"`
	InvoiceID     *string    `gorm:"type:uuid" json:"invoiceId,omitempty"`
	AmountPaid    int64      `gorm:"not null" json:"amountPaid"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
}

// BeforeCreate hook to generate UUID
func (c *Closing) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func IsValidTransactionType(t string) bool {
	return t == TransactionPurchase || t == TransactionSale || t == TransactionRefinance
}

func (Closing) TableName() string {
	return "closings"
}
