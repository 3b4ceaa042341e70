package models

import (
	"encoding/json"
	"time"
)

// Known webhook providers. Anything else is rejected at the HTTP boundary.
const (
	ProviderStripe = "stripe"
	ProviderTwilio = "twilio"
	ProviderVapi   = "vapi"
)

// Event lifecycle. Events are never deleted by this subsystem; retention is
// an external concern.
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
)

// KnownProvider reports whether the given provider has a webhook integration.
func KnownProvider(provider string) bool {
	switch provider {
	case ProviderStripe, ProviderTwilio, ProviderVapi:
		return true
	}
	return false
}

// WebhookEvent stores one inbound provider notification with deduplication
// metadata for idempotent processing. The (provider, external_event_id) pair
// is the idempotency key across provider retries of the same physical event.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ExternalEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Payload decodes the stored raw body into a generic document. Only called
// after signature verification succeeded; the raw bytes stay authoritative.
func (e *WebhookEvent) Payload() (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
