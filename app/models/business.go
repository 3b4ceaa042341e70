package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusTrialing = "trialing"
)

// Business is a paying tenant. It owns a voice assistant and a phone number
// and is billed through Stripe. CallsUsedThisPeriod is incremented exactly
// once per reconciled call; the check-then-increment runs under a row lock.
type Business struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email                string     `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	StripeCustomerID     string     `gorm:"type:varchar(191);uniqueIndex:ux_businesses_stripe_customer;default:null" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);index" json:"stripe_subscription_id"`
	SubscriptionStatus   string     `gorm:"type:varchar(30);default:'trialing'" json:"subscription_status" validate:"omitempty,oneof=active past_due canceled trialing"`
	VapiAssistantID      string     `gorm:"type:varchar(191);index" json:"vapi_assistant_id"`
	TwilioPhoneNumber    string     `gorm:"type:varchar(30)" json:"twilio_phone_number"`
	TwilioPhoneSID       string     `gorm:"type:varchar(64)" json:"twilio_phone_sid"`
	CallsIncluded        int        `gorm:"not null;default:200" json:"calls_included"`
	CallsUsedThisPeriod  int        `gorm:"not null;default:0" json:"calls_used_this_period"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Business) Validate() error {
	v := validator.New()

	return v.Struct(b)
}
