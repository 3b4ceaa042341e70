package processors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
)

// Twilio terminal statuses that never produced an assistant conversation.
// These are recorded for the tenant's call history but consume no quota.
var twilioFailureStatuses = map[string]string{
	"failed":    models.CallStatusFailed,
	"busy":      models.CallStatusNoAnswer,
	"no-answer": models.CallStatusNoAnswer,
}

// TwilioStatusProcessor records unanswered and failed calls from telephony
// status callbacks. Completed calls are reconciled from the assistant's
// end-of-call report instead, which carries the transcript and analysis.
type TwilioStatusProcessor struct {
	db   *gorm.DB
	sink observability.Sink
}

// NewTwilioStatusProcessor wires the telephony processor's collaborators.
func NewTwilioStatusProcessor(db *gorm.DB, sink observability.Sink) *TwilioStatusProcessor {
	return &TwilioStatusProcessor{db: db, sink: sink}
}

// HandleCallStatus records one terminal failure callback, keyed idempotently
// on the Twilio call SID.
func (p *TwilioStatusProcessor) HandleCallStatus(ctx context.Context, event *models.WebhookEvent) (err error) {
	defer func() {
		if err != nil {
			p.sink.CaptureException(err, map[string]interface{}{"event_id": event.ID, "provider": event.Provider})
		}
	}()

	// Twilio status callbacks are form-encoded; PayloadJSON holds the raw
	// body verbatim.
	values, parseErr := url.ParseQuery(event.PayloadJSON)
	if parseErr != nil {
		return fmt.Errorf("failed to parse twilio callback for event %d: %w", event.ID, parseErr)
	}

	callSID := strings.TrimSpace(values.Get("CallSid"))
	callStatus, terminal := twilioFailureStatuses[strings.TrimSpace(values.Get("CallStatus"))]
	if callSID == "" || !terminal {
		log.Debugf("[Twilio] Ignoring callback for event %d (sid=%q status=%q)", event.ID, callSID, values.Get("CallStatus"))
		return nil
	}

	owner, found, lookupErr := p.resolveByPhoneNumber(ctx, strings.TrimSpace(values.Get("To")))
	if lookupErr != nil {
		return fmt.Errorf("tenant lookup failed for call %s: %w", callSID, lookupErr)
	}
	if !found {
		log.Infof("[Twilio] No tenant for number %q (event %d), skipping", values.Get("To"), event.ID)
		return nil
	}

	duration, _ := strconv.Atoi(values.Get("CallDuration"))
	call := &models.Call{
		ExternalID:      &callSID,
		OwnerType:       owner.ownerType,
		OwnerID:         owner.ownerID,
		Direction:       models.CallDirectionInbound,
		Status:          callStatus,
		DurationSeconds: duration,
	}
	if createErr := p.db.WithContext(ctx).Create(call).Error; createErr != nil {
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			log.Infof("[Twilio] Call %s already recorded (event %d)", callSID, event.ID)
			return nil
		}
		return fmt.Errorf("failed to persist call %s: %w", callSID, createErr)
	}
	return nil
}

type phoneOwner struct {
	ownerType string
	ownerID   uint
}

func (p *TwilioStatusProcessor) resolveByPhoneNumber(ctx context.Context, number string) (phoneOwner, bool, error) {
	if number == "" {
		return phoneOwner{}, false, nil
	}

	var business models.Business
	err := p.db.WithContext(ctx).Where("twilio_phone_number = ?", number).First(&business).Error
	if err == nil {
		return phoneOwner{ownerType: models.OwnerTypeBusiness, ownerID: business.ID}, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return phoneOwner{}, false, err
	}

	var trial models.Trial
	err = p.db.WithContext(ctx).Where("twilio_phone_number = ?", number).First(&trial).Error
	if err == nil {
		return phoneOwner{ownerType: models.OwnerTypeTrial, ownerID: trial.ID}, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return phoneOwner{}, false, err
	}
	return phoneOwner{}, false, nil
}
