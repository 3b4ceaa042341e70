package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/events"
	"github.com/ringlinehq/ringline/internal/pkg/jobqueue"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
	"github.com/ringlinehq/ringline/internal/pkg/webhook"
)

const ingestTimeout = 15 * time.Second

// Enqueuer schedules processing for a newly stored event.
type Enqueuer interface {
	EnqueueWebhookEvent(event *models.WebhookEvent) (*jobqueue.Job, error)
}

// WebhookController is the synchronous ingestion path: verify the signature
// over the exact request bytes, record the event if unseen, enqueue once.
// Everything heavier runs in workers so this path never blocks on a
// third-party API.
type WebhookController struct {
	verifier *webhook.Verifier
	store    *events.Store
	queue    Enqueuer
	sink     observability.Sink
}

// NewWebhookController wires the ingestion dependencies.
func NewWebhookController(verifier *webhook.Verifier, store *events.Store, queue Enqueuer, sink observability.Sink) *WebhookController {
	return &WebhookController{
		verifier: verifier,
		store:    store,
		queue:    queue,
		sink:     sink,
	}
}

// HandleProviderWebhook accepts POST /webhooks/:provider.
func (wc *WebhookController) HandleProviderWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	if !models.KnownProvider(provider) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	}

	// Copy the raw bytes before fiber reuses the buffer; signature schemes
	// and the stored payload both need them verbatim.
	rawBody := append([]byte(nil), c.BodyRaw()...)

	getHeader := func(key string) string { return c.Get(key) }

	if err := wc.verifier.Verify(provider, rawBody, getHeader); err != nil {
		if errors.Is(err, webhook.ErrUnknownProvider) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
		}
		log.Warnf("[Webhook] Rejected %s delivery: %v", provider, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	externalEventID, eventType := webhook.EventIdentity(provider, rawBody, getHeader)

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	created, stored, err := wc.store.RecordIfNew(ctx, events.RecordInput{
		Provider:        provider,
		ExternalEventID: externalEventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		wc.sink.CaptureException(err, map[string]interface{}{"provider": provider, "event_type": eventType})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		// Duplicate delivery: acknowledge without re-enqueueing.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if _, err := wc.queue.EnqueueWebhookEvent(stored); err != nil {
		// The event is durably recorded; an operator reprocess recovers it.
		// Failing the request here would only trigger a provider retry that
		// dedup would then ignore.
		wc.sink.CaptureException(err, map[string]interface{}{"event_id": stored.ID, "provider": provider})
		log.Errorf("[Webhook] Failed to enqueue event %d: %v", stored.ID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
