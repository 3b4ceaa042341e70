package webhook

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ringlinehq/ringline/app/models"
)

// TwilioIdempotencyHeader carries Twilio's per-delivery idempotency token.
const TwilioIdempotencyHeader = "I-Twilio-Idempotency-Token"

// EventIdentity derives the provider-assigned event id and event type from a
// verified payload. An empty event id is allowed; the event store falls back
// to a payload hash in that case.
func EventIdentity(provider string, rawBody []byte, header HeaderGetter) (externalEventID, eventType string) {
	switch provider {
	case models.ProviderStripe:
		return stripeIdentity(rawBody)
	case models.ProviderTwilio:
		return twilioIdentity(rawBody, header)
	case models.ProviderVapi:
		return vapiIdentity(rawBody)
	}
	return "", ""
}

func stripeIdentity(rawBody []byte) (string, string) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return "", ""
	}
	return envelope.ID, envelope.Type
}

// twilioIdentity reads the idempotency token header (Twilio repeats it on
// retries of the same delivery) and derives the event type from the
// form-encoded call status.
func twilioIdentity(rawBody []byte, header HeaderGetter) (string, string) {
	eventID := strings.TrimSpace(header(TwilioIdempotencyHeader))

	eventType := "call.status"
	if values, err := url.ParseQuery(string(rawBody)); err == nil {
		if status := strings.TrimSpace(values.Get("CallStatus")); status != "" {
			eventType = "call.status." + status
		}
		if eventID == "" {
			// Older deliveries without the token: CallSid+status is stable
			// across retries of the same status callback.
			if sid := strings.TrimSpace(values.Get("CallSid")); sid != "" {
				eventID = sid + ":" + eventType
			}
		}
	}
	return eventID, eventType
}

// vapiIdentity reads the server-message envelope. Vapi sends no event id, so
// the call id plus message type stands in: each (call, message type) pair is
// delivered as one logical event.
func vapiIdentity(rawBody []byte) (string, string) {
	var envelope struct {
		Message struct {
			Type string `json:"type"`
			Call struct {
				ID string `json:"id"`
			} `json:"call"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return "", ""
	}

	eventType := envelope.Message.Type
	if eventType == "" {
		return "", ""
	}
	if envelope.Message.Call.ID == "" {
		return "", eventType
	}
	return envelope.Message.Call.ID + ":" + eventType, eventType
}
