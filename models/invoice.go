package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Invoice states mirror the payment processor's invoice lifecycle
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

type InvoiceLineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unitAmount"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type,omitempty"`
}

// Invoice amounts are in the smallest currency unit.
type Invoice struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID  string  `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID  string  `gorm:"type:uuid;not null;index" json:"clientId"`
	ClosingID *string `gorm:"type:uuid;index" json:"closingId,omitempty"`

	StripeInvoiceID  string `gorm:"uniqueIndex;not null" json:"stripeInvoiceId"`
	Number           string `json:"invoiceNumber,omitempty"`
	Status           string `gorm:"not null;index" json:"status"`
	Description      string `json:"description,omitempty"`
	Currency         string `gorm:"not null;default:usd" json:"currency"`
	Total            int64  `gorm:"not null" json:"total"`
	AmountPaid       int64  `gorm:"not null" json:"amountPaid"`
	AmountDue        int64  `gorm:"not null" json:"amountDue"`
	HostedInvoiceURL string `json:"hostedInvoiceUrl,omitempty"`
	InvoicePDF       string `json:"invoicePdf,omitempty"`

	LineItems []InvoiceLineItem `gorm:"serializer:json" json:"lineItems"`
	Metadata  map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`

	DueDate *time.Time `json:"dueDate,omitempty"`
	PaidAt  *time.Time `json:"paidAt,omitempty"`
}

// BeforeCreate hook to generate UUID
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	i.Recalculate()
	return nil
}

// Recalculate keeps AmountDue = Total - AmountPaid, floored at zero.
func (i *Invoice) Recalculate() {
	due := i.Total - i.AmountPaid
	if due < 0 {
		due = 0
	}
	i.AmountDue = due
}

// IsFinal reports whether status and amounts are frozen.
func (i *Invoice) IsFinal() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusVoid
}

func (Invoice) TableName() string {
	return "invoices"
}
