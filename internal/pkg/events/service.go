// Package events is the idempotent store of inbound webhook events. The
// unique (provider, external_event_id) constraint is the sole authority on
// "have we seen this before"; no in-memory cache participates in dedup.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
)

// ErrNotReprocessable is returned when an operator tries to re-enqueue an
// event that is still completed or in flight.
var ErrNotReprocessable = errors.New("event is not in a reprocessable state")

// RecordInput is the normalized input for event persistence.
type RecordInput struct {
	Provider        string
	ExternalEventID string
	EventType       string
	PayloadJSON     string
}

// Store provides the event persistence operations used by the ingestion path
// and the job queue.
type Store struct {
	repo Repository
}

// NewStore creates an event store from an injected repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// NewStoreFromDB creates an event store from a GORM DB handle.
func NewStoreFromDB(db *gorm.DB) *Store {
	return NewStore(NewRepository(db))
}

// RecordIfNew persists the event if its idempotency key is unseen and reports
// whether this call was the inserter. Providers without event ids get a
// payload-hash key so byte-identical redeliveries still deduplicate.
func (s *Store) RecordIfNew(ctx context.Context, in RecordInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ExternalEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ExternalEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		Status:          models.EventStatusPending,
	}
	return s.repo.CreateIfNotExists(ctx, event)
}

// Get returns one event by internal id.
func (s *Store) Get(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// BeginProcessing claims the event for the worker that holds its job.
func (s *Store) BeginProcessing(ctx context.Context, id uint) error {
	return s.repo.UpdateStatus(ctx, id, models.EventStatusProcessing)
}

// Complete marks the event processed, clearing any earlier attempt's error.
func (s *Store) Complete(ctx context.Context, id uint) error {
	return s.repo.MarkCompleted(ctx, id)
}

// FailAttempt records one processing failure. final=true means the job
// queue's retries are exhausted and only operator reprocessing remains.
func (s *Store) FailAttempt(ctx context.Context, id uint, procErr error, final bool) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	return s.repo.RecordFailure(ctx, id, msg, final)
}

// Reprocess resets a failed or pending event for re-enqueueing. This is the
// only supported retry-after-exhaustion path.
func (s *Store) Reprocess(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusFailed && event.Status != models.EventStatusPending {
		return nil, fmt.Errorf("%w: event %d is %s", ErrNotReprocessable, id, event.Status)
	}
	if err := s.repo.ResetForReprocess(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// List returns events for the operator view, newest first, optionally
// filtered by status.
func (s *Store) List(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, strings.TrimSpace(status), limit, offset)
}
