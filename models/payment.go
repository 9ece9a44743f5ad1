package models

import "time"

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment is keyed by the processor's payment intent ID, so one intent maps to one record.
type Payment struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TenantID  string `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID  string `gorm:"type:uuid;not null;index" json:"clientId"`
	InvoiceID string `gorm:"type:uuid;index" json:"invoiceId"`

	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"not null" json:"currency"`
	Status            string     `gorm:"not null" json:"status"`
	PaymentMethodType string     `json:"paymentMethodType,omitempty"`
	CardBrand         string     `json:"cardBrand,omitempty"`
	CardLast4         string     `json:"cardLast4,omitempty"`
	StripeChargeID    string     `json:"stripeChargeId,omitempty"`
	ReceiptURL        string     `json:"receiptUrl,omitempty"`
	SucceededAt       *time.Time `json:"succeededAt,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}
