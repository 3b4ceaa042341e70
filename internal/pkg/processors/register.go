package processors

import (
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/dispatch"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
	"github.com/ringlinehq/ringline/internal/pkg/realtime"
)

// BuildRegistry assembles the startup dispatch table mapping
// (provider, event type) to handlers. Event types outside this table are
// acknowledged no-ops by the job queue.
func BuildRegistry(db *gorm.DB, billing BillingAPI, telephony TelephonyAPI, assistants AssistantAPI, voiceBaseURL string, publisher realtime.Publisher, sink observability.Sink) *dispatch.Registry {
	stripe := NewStripeProcessor(db, billing, telephony, voiceBaseURL, sink)
	twilio := NewTwilioStatusProcessor(db, sink)
	calls := NewCallCompletionProcessor(db, publisher, assistants, sink)

	registry := dispatch.NewRegistry()
	registry.Register(models.ProviderStripe, "checkout.session.completed", stripe.HandleCheckoutCompleted)
	registry.Register(models.ProviderStripe, "customer.subscription.*", stripe.HandleSubscriptionEvent)
	registry.Register(models.ProviderTwilio, "call.status.*", twilio.HandleCallStatus)
	registry.Register(models.ProviderVapi, EndOfCallReportType, calls.Process)
	return registry
}
