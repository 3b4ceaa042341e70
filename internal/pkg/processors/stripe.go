package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/apiclient"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
)

// BillingAPI is the slice of the Stripe client the processors call outbound.
// Every implementation routes through the circuit breaker + retry composition.
type BillingAPI interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*apiclient.StripeSubscription, error)
}

// TelephonyAPI is the slice of the Twilio client used on trial conversion to
// repoint the provisioned number's voice webhook at the business route.
type TelephonyAPI interface {
	UpdatePhoneNumber(ctx context.Context, phoneNumberSID, voiceURL string) error
}

// stripeEvent is the envelope shared by the Stripe event types we process.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSession is the slice of a Stripe checkout.session object the
// conversion path reads.
type checkoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
}

// StripeProcessor converts completed checkouts into Business tenants and
// keeps subscription state in sync.
type StripeProcessor struct {
	db           *gorm.DB
	billing      BillingAPI
	telephony    TelephonyAPI
	voiceBaseURL string
	sink         observability.Sink
}

// NewStripeProcessor wires the billing processor's collaborators. A nil
// telephony client skips webhook repointing on conversion.
func NewStripeProcessor(db *gorm.DB, billing BillingAPI, telephony TelephonyAPI, voiceBaseURL string, sink observability.Sink) *StripeProcessor {
	return &StripeProcessor{db: db, billing: billing, telephony: telephony, voiceBaseURL: strings.TrimRight(voiceBaseURL, "/"), sink: sink}
}

// HandleCheckoutCompleted converts the referenced Trial into a Business.
// Conversion is idempotent on the Stripe customer id: replays and duplicate
// deliveries find the business already present and no-op.
func (p *StripeProcessor) HandleCheckoutCompleted(ctx context.Context, event *models.WebhookEvent) (err error) {
	defer func() {
		if err != nil {
			p.sink.CaptureException(err, map[string]interface{}{"event_id": event.ID, "provider": event.Provider})
		}
	}()

	var envelope stripeEvent
	if parseErr := json.Unmarshal([]byte(event.PayloadJSON), &envelope); parseErr != nil {
		return fmt.Errorf("failed to parse stripe event %d: %w", event.ID, parseErr)
	}

	var session checkoutSession
	if parseErr := json.Unmarshal(envelope.Data.Object, &session); parseErr != nil {
		return fmt.Errorf("failed to parse checkout session in event %d: %w", event.ID, parseErr)
	}
	if session.Customer == "" {
		log.Warnf("[Stripe] Checkout session %s has no customer (event %d), skipping", session.ID, event.ID)
		return nil
	}

	var existing models.Business
	lookupErr := p.db.WithContext(ctx).Where("stripe_customer_id = ?", session.Customer).First(&existing).Error
	if lookupErr == nil {
		log.Infof("[Stripe] Customer %s already converted to business %d (event %d)", session.Customer, existing.ID, event.ID)
		return nil
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("business lookup failed for customer %s: %w", session.Customer, lookupErr)
	}

	trialID, _ := strconv.ParseUint(strings.TrimSpace(session.ClientReferenceID), 10, 64)
	if trialID == 0 {
		log.Warnf("[Stripe] Checkout session %s has no usable trial reference (event %d), skipping", session.ID, event.ID)
		return nil
	}

	// Subscription details come from a verification fetch rather than the
	// webhook body; the outbound call is breaker+retry guarded.
	status := models.SubscriptionStatusActive
	var sub *apiclient.StripeSubscription
	if session.Subscription != "" {
		sub, err = p.billing.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return fmt.Errorf("subscription fetch failed for %s: %w", session.Subscription, err)
		}
		status = normalizeSubscriptionStatus(sub.Status)
	}

	var converted *models.Business
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trial models.Trial
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&trial, uint(trialID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[Stripe] Trial %d not found for checkout %s (event %d), skipping", trialID, session.ID, event.ID)
				return nil
			}
			return err
		}
		if trial.Status == models.TrialStatusConverted {
			log.Infof("[Stripe] Trial %d already converted (event %d)", trial.ID, event.ID)
			return nil
		}

		business, buildErr := buildBusiness(&trial, session, status, sub)
		if buildErr != nil {
			// Malformed tenant data is permanent; retries would fail the
			// same way, so log it for the operator and acknowledge.
			log.Errorf("[Stripe] Checkout %s produced an invalid business for trial %d (event %d): %v", session.ID, trial.ID, event.ID, buildErr)
			p.sink.CaptureException(buildErr, map[string]interface{}{
				"event_id": event.ID,
				"trial_id": trial.ID,
				"session":  session.ID,
			})
			return nil
		}
		if err := tx.Create(business).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Concurrent delivery converted this customer first.
				log.Infof("[Stripe] Customer %s converted concurrently (event %d)", session.Customer, event.ID)
				return nil
			}
			return err
		}
		converted = business

		// The trial's assistant now answers for the business; detach it so
		// tenant resolution is unambiguous.
		return tx.Model(&trial).Updates(map[string]interface{}{
			"status":                models.TrialStatusConverted,
			"converted_business_id": business.ID,
			"vapi_assistant_id":     "",
		}).Error
	})
	if txErr != nil {
		return txErr
	}

	// The conversion is committed; a failed repoint is logged and left for
	// the operator, never retried through the event.
	p.repointPhoneNumber(ctx, converted)
	return nil
}

// repointPhoneNumber moves the converted tenant's number onto the business
// voice route. The outbound call is breaker+retry guarded by the client.
func (p *StripeProcessor) repointPhoneNumber(ctx context.Context, business *models.Business) {
	if p.telephony == nil || business == nil || business.TwilioPhoneSID == "" || p.voiceBaseURL == "" {
		return
	}

	voiceURL := fmt.Sprintf("%s/voice/business/%d", p.voiceBaseURL, business.ID)
	if err := p.telephony.UpdatePhoneNumber(ctx, business.TwilioPhoneSID, voiceURL); err != nil {
		log.Errorf("[Stripe] Failed to repoint number %s for business %d: %v", business.TwilioPhoneSID, business.ID, err)
		p.sink.CaptureException(err, map[string]interface{}{
			"business_id":      business.ID,
			"twilio_phone_sid": business.TwilioPhoneSID,
		})
		return
	}
	log.Infof("[Stripe] Number %s repointed to business %d voice route", business.TwilioPhoneSID, business.ID)
}

// HandleSubscriptionEvent syncs customer.subscription.* updates onto the
// owning business. A deleted subscription cancels; a new billing period
// resets the usage counter.
func (p *StripeProcessor) HandleSubscriptionEvent(ctx context.Context, event *models.WebhookEvent) (err error) {
	defer func() {
		if err != nil {
			p.sink.CaptureException(err, map[string]interface{}{"event_id": event.ID, "provider": event.Provider})
		}
	}()

	var envelope stripeEvent
	if parseErr := json.Unmarshal([]byte(event.PayloadJSON), &envelope); parseErr != nil {
		return fmt.Errorf("failed to parse stripe event %d: %w", event.ID, parseErr)
	}

	var sub apiclient.StripeSubscription
	if parseErr := json.Unmarshal(envelope.Data.Object, &sub); parseErr != nil {
		return fmt.Errorf("failed to parse subscription in event %d: %w", event.ID, parseErr)
	}
	if sub.Customer == "" {
		log.Warnf("[Stripe] Subscription event %d has no customer, skipping", event.ID)
		return nil
	}

	status := normalizeSubscriptionStatus(sub.Status)
	if envelope.Type == "customer.subscription.deleted" {
		status = models.SubscriptionStatusCanceled
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var business models.Business
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("stripe_customer_id = ?", sub.Customer).First(&business).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Infof("[Stripe] No business for customer %s (event %d), skipping", sub.Customer, event.ID)
				return nil
			}
			return err
		}

		updates := map[string]interface{}{
			"subscription_status":    status,
			"stripe_subscription_id": sub.ID,
		}
		if end := sub.PeriodEndTime(); end != nil {
			if business.CurrentPeriodEnd == nil || end.After(*business.CurrentPeriodEnd) {
				updates["current_period_end"] = end
				updates["calls_used_this_period"] = 0
			}
		}
		return tx.Model(&business).Updates(updates).Error
	})
}

func normalizeSubscriptionStatus(stripeStatus string) string {
	switch strings.ToLower(strings.TrimSpace(stripeStatus)) {
	case "active":
		return models.SubscriptionStatusActive
	case "past_due", "unpaid", "incomplete":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	case "trialing":
		return models.SubscriptionStatusTrialing
	default:
		return models.SubscriptionStatusActive
	}
}

// buildBusiness assembles the Business row for a converting trial and rejects
// it if the result would violate the model's validation rules.
func buildBusiness(trial *models.Trial, session checkoutSession, status string, sub *apiclient.StripeSubscription) (*models.Business, error) {
	business := &models.Business{
		Name:                 businessName(trial),
		Email:                firstNonEmpty(session.CustomerEmail, trial.Email),
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		SubscriptionStatus:   status,
		VapiAssistantID:      trial.VapiAssistantID,
		TwilioPhoneNumber:    trial.TwilioPhoneNumber,
		TwilioPhoneSID:       trial.TwilioPhoneSID,
	}
	if sub != nil {
		business.CurrentPeriodEnd = sub.PeriodEndTime()
	}
	if err := business.Validate(); err != nil {
		return nil, fmt.Errorf("business for trial %d failed validation: %w", trial.ID, err)
	}
	return business, nil
}

func businessName(trial *models.Trial) string {
	if name := strings.TrimSpace(trial.BusinessName); name != "" {
		return name
	}
	return trial.Email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
