package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/internal/pkg/dispatch"
)

// errDiscard marks conditions where retrying can never succeed; the job is
// dropped without counting as a failure.
var errDiscard = errors.New("discard job")

// processWebhookEventJob runs one stored event through the dispatch table.
func (q *Queue) processWebhookEventJob(ctx context.Context, job *Job) error {
	err := runWebhookEventJob(ctx, q.events, q.registry, job)
	if errors.Is(err, errDiscard) {
		return nil
	}
	return err
}

// runWebhookEventJob holds the core claim-resolve-process sequence,
// separated from the Queue so it is testable without Redis.
func runWebhookEventJob(ctx context.Context, events EventStore, registry *dispatch.Registry, job *Job) error {
	payload, err := WebhookEventJobPayloadFromMap(job.Payload)
	if err != nil {
		// The payload will never deserialize on a later attempt either.
		log.Errorf("[JobQueue] Discarding job %s with undecodable payload: %v", job.ID, err)
		return errDiscard
	}

	event, err := events.Get(ctx, payload.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The referenced event row is gone; retrying forever is pointless.
			log.Warnf("[JobQueue] Discarding job %s: event %d no longer exists", job.ID, payload.EventID)
			return errDiscard
		}
		return fmt.Errorf("failed to load event %d: %w", payload.EventID, err)
	}

	// Claim the event for this worker.
	if err := events.BeginProcessing(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to claim event %d: %w", event.ID, err)
	}

	processor, found := registry.Resolve(event.Provider, event.EventType)
	if !found {
		// Unrecognized combinations complete as no-ops so they cannot
		// poison the queue.
		log.Infof("[JobQueue] No processor for %s:%s, completing event %d as no-op", event.Provider, event.EventType, event.ID)
		return events.Complete(ctx, event.ID)
	}

	if err := processor(ctx, event); err != nil {
		return err
	}
	return events.Complete(ctx, event.ID)
}
