package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/internal/pkg/circuitbreaker"
	"github.com/ringlinehq/ringline/internal/pkg/events"
)

// EventAdminController is the operator surface: inspect stored events and
// re-enqueue failed ones. Manual reprocessing is the only supported
// retry-after-exhaustion path.
type EventAdminController struct {
	store    *events.Store
	queue    Enqueuer
	breakers *circuitbreaker.Registry
}

// NewEventAdminController wires the operator endpoints' dependencies.
func NewEventAdminController(store *events.Store, queue Enqueuer, breakers *circuitbreaker.Registry) *EventAdminController {
	return &EventAdminController{
		store:    store,
		queue:    queue,
		breakers: breakers,
	}
}

// HandleListEvents serves GET /admin/events?status=&limit=&offset=.
func (ac *EventAdminController) HandleListEvents(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := ac.store.List(ctx, c.Query("status"), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_list_failed"})
	}
	return c.JSON(fiber.Map{"events": rows, "count": len(rows)})
}

// HandleReprocessEvent serves POST /admin/events/:id/reprocess. The event's
// status and retry counter reset before it is enqueued again.
func (ac *EventAdminController) HandleReprocessEvent(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_event_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event, err := ac.store.Reprocess(ctx, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_found"})
		}
		if errors.Is(err, events.ErrNotReprocessable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_not_reprocessable"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reprocess_failed"})
	}

	if _, err := ac.queue.EnqueueWebhookEvent(event); err != nil {
		log.Errorf("[Admin] Failed to enqueue event %d for reprocessing: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}

	log.Infof("[Admin] Event %d re-enqueued for processing", event.ID)
	return c.JSON(fiber.Map{"ok": true, "event": event})
}

// HandleCircuitStates serves GET /admin/circuits for outage diagnosis.
func (ac *EventAdminController) HandleCircuitStates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"circuits": ac.breakers.States()})
}
