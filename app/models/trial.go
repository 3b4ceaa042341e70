package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TrialStatusActive    = "active"
	TrialStatusExpired   = "expired"
	TrialStatusConverted = "converted"
)

// Trial is a prospective tenant evaluating the product with a capped call
// budget. A completed Stripe checkout converts a Trial into a Business.
type Trial struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Email               string     `gorm:"type:varchar(200);not null;index" json:"email" validate:"required,email,max=200"`
	BusinessName        string     `gorm:"type:varchar(150)" json:"business_name" validate:"max=150"`
	VapiAssistantID     string     `gorm:"type:varchar(191);index" json:"vapi_assistant_id"`
	TwilioPhoneNumber   string     `gorm:"type:varchar(30)" json:"twilio_phone_number"`
	TwilioPhoneSID      string     `gorm:"type:varchar(64)" json:"twilio_phone_sid"`
	Status              string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"omitempty,oneof=active expired converted"`
	CallsAllowed        int        `gorm:"not null;default:10" json:"calls_allowed"`
	CallsUsed           int        `gorm:"not null;default:0" json:"calls_used"`
	ExpiresAt           *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	ConvertedBusinessID *uint      `gorm:"default:null" json:"converted_business_id,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Trial) Validate() error {
	v := validator.New()

	return v.Struct(t)
}
