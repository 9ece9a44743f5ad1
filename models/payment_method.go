package models

import "time"

// PaymentMethod is a card saved with the processor; ID is the processor's method ID.
type PaymentMethod struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	TenantID  string `gorm:"type:uuid;not null;index" json:"tenantId"`
	ClientID  string `gorm:"type:uuid;not null;index" json:"clientId"`
	Type      string `gorm:"not null" json:"type"`
	CardBrand string `json:"brand,omitempty"`
	CardLast4 string `json:"last4,omitempty"`
	ExpMonth  int64  `json:"expMonth,omitempty"`
	ExpYear   int64  `json:"expYear,omitempty"`
	IsDefault bool   `gorm:"not null" json:"isDefault"`
}

func (PaymentMethod) TableName() string {
	return "payment_methods"
}
