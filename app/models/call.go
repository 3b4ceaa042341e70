package models

import "time"

const (
	CallDirectionInbound  = "inbound"
	CallDirectionOutbound = "outbound"

	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
	CallStatusNoAnswer  = "no_answer"
)

// Owner kinds for the polymorphic call owner reference.
const (
	OwnerTypeBusiness = "business"
	OwnerTypeTrial    = "trial"
)

// Call is the durable side effect of a reconciled call-completion event.
// ExternalID is the provider call id and is unique when present; it is the
// idempotency key for reconciliation, so a Call is created at most once per
// external call id regardless of duplicate webhook delivery.
type Call struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ExternalID          *string    `gorm:"type:varchar(191);uniqueIndex:ux_calls_external_id;default:null" json:"external_id,omitempty"`
	OwnerType           string     `gorm:"type:varchar(20);not null;index:idx_calls_owner,priority:1" json:"owner_type"`
	OwnerID             uint       `gorm:"not null;index:idx_calls_owner,priority:2" json:"owner_id"`
	Direction           string     `gorm:"type:varchar(20);not null;default:'inbound'" json:"direction"`
	Status              string     `gorm:"type:varchar(20);not null;default:'completed'" json:"status"`
	StartedAt           *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	EndedAt             *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	DurationSeconds     int        `gorm:"not null;default:0" json:"duration_seconds"`
	RecordingURL        string     `gorm:"type:varchar(512)" json:"recording_url"`
	Transcript          string     `gorm:"type:longtext" json:"transcript"`
	Intent              string     `gorm:"type:varchar(50);index" json:"intent"`
	ExtractedFieldsJSON string     `gorm:"type:longtext" json:"extracted_fields_json"`
	CostCents           int        `gorm:"not null;default:0" json:"cost_cents"`
	CostBreakdownJSON   string     `gorm:"type:text" json:"cost_breakdown_json"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
