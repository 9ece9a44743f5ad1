package models

import "time"

// WebhookEvent records every verified provider event for replay deduplication.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"providerEventId"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"eventType"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"-"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processingError,omitempty"`
	Attempts        int        `gorm:"not null" json:"attempts"`
	CreatedAt       time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
