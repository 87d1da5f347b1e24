package models

import "time"

// Webhook event processing statuses. An event is appended once as received
// and only its own status/result fields are written afterwards.
const (
	WebhookEventStatusReceived   = "received"
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusCompleted  = "completed"
	WebhookEventStatusFailed     = "failed"
)

// WebhookEvent stores every inbound provider delivery with deduplication
// metadata. The (provider, provider_event_id) unique index makes redelivery
// detection a conditional insert instead of a read-then-write.
type WebhookEvent struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Provider             string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID      string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType            string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON          string     `gorm:"type:longtext;not null" json:"payload_json"`
	SenderAddr           string     `gorm:"type:varchar(64);not null;default:''" json:"sender_addr"`
	SenderHeaders        string     `gorm:"type:text" json:"sender_headers"`
	SignatureValid       bool       `gorm:"default:false;index" json:"signature_valid"`
	Status               string     `gorm:"type:varchar(16);not null;default:'received';index" json:"status"`
	TransactionID        *uint      `gorm:"index" json:"transaction_id,omitempty"`
	ErrorMessage         string     `gorm:"type:text" json:"error_message"`
	ProcessingDurationMS int64      `gorm:"not null;default:0" json:"processing_duration_ms"`
	ProcessedAt          *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
