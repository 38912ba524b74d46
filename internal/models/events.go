package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent journals a provider webhook delivery.
type WebhookEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider        string `gorm:"type:varchar(32);not null;uniqueIndex:idx_webhook_events_provider_event"`  // Payment provider name.
	ProviderEventID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_webhook_events_provider_event"` // Delivery identifier.
	EventType       string `gorm:"type:varchar(64);not null;index"`                                          // Provider event type.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Raw event body.

	ProcessedAt *time.Time `gorm:"index"`     // When processing finished.
	Error       *string    `gorm:"type:text"` // Last processing error.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Notification is a message delivered to a subscriber.
type Notification struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriberID uint64         `gorm:"not null;index"`            // Receiving subscriber.
	Kind         string         `gorm:"type:varchar(64);not null"` // Notification category.
	Message      string         `gorm:"type:text;not null"`        // Message body.
	Metadata     datatypes.JSON `gorm:"type:jsonb"`                // Structured context.
	ReadAt       *time.Time     // When the subscriber read it.
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// Setting stores a runtime-tunable configuration value. Value is a text
// column so SQLite keeps scalar JSON such as 365 as text.
type Setting struct {
	Key       string         `gorm:"type:varchar(255);primaryKey"` // Setting key.
	Value     datatypes.JSON `gorm:"type:text"`                    // JSON-encoded value.
	UpdatedAt time.Time      `gorm:"not null"`                     // Last update timestamp.
}
