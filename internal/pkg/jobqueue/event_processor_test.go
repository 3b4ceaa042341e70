package jobqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/dispatch"
)

// fakeEventStore records the status transitions the job run applies.
type fakeEventStore struct {
	events     map[uint]*models.WebhookEvent
	processing []uint
	completed  []uint
	failed     []uint
}

func newFakeEventStore(events ...*models.WebhookEvent) *fakeEventStore {
	f := &fakeEventStore{events: make(map[uint]*models.WebhookEvent)}
	for _, e := range events {
		f.events[e.ID] = e
	}
	return f
}

func (f *fakeEventStore) Get(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	event, ok := f.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return event, nil
}

func (f *fakeEventStore) BeginProcessing(ctx context.Context, id uint) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeEventStore) Complete(ctx context.Context, id uint) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeEventStore) FailAttempt(ctx context.Context, id uint, procErr error, final bool) error {
	f.failed = append(f.failed, id)
	return nil
}

func webhookJob(eventID uint) *Job {
	payload := WebhookEventJobPayload{EventID: eventID, Provider: "vapi", EventType: "end-of-call-report"}
	return &Job{
		ID:         "job-1",
		Type:       JobTypeProcessWebhookEvent,
		Status:     JobStatusPending,
		Payload:    payload.ToMap(),
		MaxRetries: DefaultMaxRetries,
	}
}

func TestRunWebhookEventJobSuccess(t *testing.T) {
	event := &models.WebhookEvent{ID: 5, Provider: "vapi", EventType: "end-of-call-report"}
	store := newFakeEventStore(event)

	var processed []uint
	registry := dispatch.NewRegistry()
	registry.Register("vapi", "end-of-call-report", func(ctx context.Context, e *models.WebhookEvent) error {
		processed = append(processed, e.ID)
		return nil
	})

	err := runWebhookEventJob(context.Background(), store, registry, webhookJob(5))
	assert.NoError(t, err)
	assert.Equal(t, []uint{5}, store.processing)
	assert.Equal(t, []uint{5}, processed)
	assert.Equal(t, []uint{5}, store.completed)
}

func TestRunWebhookEventJobPropagatesProcessorError(t *testing.T) {
	event := &models.WebhookEvent{ID: 6, Provider: "stripe", EventType: "checkout.session.completed"}
	store := newFakeEventStore(event)

	procErr := errors.New("db timeout")
	registry := dispatch.NewRegistry()
	registry.Register("stripe", "checkout.session.completed", func(ctx context.Context, e *models.WebhookEvent) error {
		return procErr
	})

	job := webhookJob(6)
	err := runWebhookEventJob(context.Background(), store, registry, job)
	assert.ErrorIs(t, err, procErr)
	// Failure bookkeeping happens in the queue's retry path, not here.
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

func TestRunWebhookEventJobDiscardsMissingEvent(t *testing.T) {
	store := newFakeEventStore()
	registry := dispatch.NewRegistry()

	err := runWebhookEventJob(context.Background(), store, registry, webhookJob(999))
	assert.ErrorIs(t, err, errDiscard)
	assert.Empty(t, store.processing)
}

func TestRunWebhookEventJobDiscardsUndecodablePayload(t *testing.T) {
	store := newFakeEventStore()
	registry := dispatch.NewRegistry()
	job := &Job{
		ID:      "job-bad",
		Type:    JobTypeProcessWebhookEvent,
		Payload: map[string]interface{}{"event_id": "not a number"},
	}

	err := runWebhookEventJob(context.Background(), store, registry, job)
	assert.ErrorIs(t, err, errDiscard)
}

func TestRunWebhookEventJobUnknownTypeCompletesAsNoOp(t *testing.T) {
	event := &models.WebhookEvent{ID: 7, Provider: "vapi", EventType: "speech-update"}
	store := newFakeEventStore(event)
	registry := dispatch.NewRegistry()

	err := runWebhookEventJob(context.Background(), store, registry, webhookJob(7))
	assert.NoError(t, err)
	assert.Equal(t, []uint{7}, store.completed)
}
