package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/events"
	"github.com/ringlinehq/ringline/internal/pkg/jobqueue"
	"github.com/ringlinehq/ringline/internal/pkg/webhook"
)

const webhookTestSecret = "whsec_controller_test"

// memoryRepository backs the event store for handler tests.
type memoryRepository struct {
	nextID uint
	byID   map[uint]*models.WebhookEvent
	byKey  map[string]uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{nextID: 1, byID: map[uint]*models.WebhookEvent{}, byKey: map[string]uint{}}
}

func (m *memoryRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "|" + event.ExternalEventID
	if id, exists := m.byKey[key]; exists {
		copied := *m.byID[id]
		return false, &copied, nil
	}
	event.ID = m.nextID
	m.nextID++
	stored := *event
	m.byID[event.ID] = &stored
	m.byKey[key] = event.ID
	copied := stored
	return true, &copied, nil
}

func (m *memoryRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	event, ok := m.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (m *memoryRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	if e, ok := m.byID[id]; ok {
		e.Status = status
	}
	return nil
}

func (m *memoryRepository) MarkCompleted(ctx context.Context, id uint) error {
	return m.UpdateStatus(ctx, id, models.EventStatusCompleted)
}

func (m *memoryRepository) RecordFailure(ctx context.Context, id uint, errorMessage string, final bool) error {
	if e, ok := m.byID[id]; ok {
		e.RetryCount++
		e.ErrorMessage = errorMessage
		if final {
			e.Status = models.EventStatusFailed
		} else {
			e.Status = models.EventStatusPending
		}
	}
	return nil
}

func (m *memoryRepository) ResetForReprocess(ctx context.Context, id uint) error {
	if e, ok := m.byID[id]; ok {
		e.Status = models.EventStatusPending
		e.RetryCount = 0
		e.ErrorMessage = ""
	}
	return nil
}

func (m *memoryRepository) List(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	var rows []models.WebhookEvent
	for _, e := range m.byID {
		if status == "" || e.Status == status {
			rows = append(rows, *e)
		}
	}
	return rows, nil
}

// recordingEnqueuer counts enqueue calls instead of touching Redis.
type recordingEnqueuer struct {
	enqueued []uint
	fail     error
}

func (r *recordingEnqueuer) EnqueueWebhookEvent(event *models.WebhookEvent) (*jobqueue.Job, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	r.enqueued = append(r.enqueued, event.ID)
	return &jobqueue.Job{ID: "job-test", Type: jobqueue.JobTypeProcessWebhookEvent}, nil
}

// silentSink drops captures; handler tests only assert HTTP behavior.
type silentSink struct{}

func (silentSink) CaptureException(err error, extras map[string]interface{})    {}
func (silentSink) CaptureMessage(message string, extras map[string]interface{}) {}

func newWebhookTestApp(t *testing.T) (*fiber.App, *memoryRepository, *recordingEnqueuer) {
	t.Helper()

	repo := newMemoryRepository()
	enqueuer := &recordingEnqueuer{}
	verifier := &webhook.Verifier{StripeWebhookSecret: webhookTestSecret}
	wc := NewWebhookController(verifier, events.NewStore(repo), enqueuer, silentSink{})

	app := fiber.New()
	app.Post("/webhooks/:provider", wc.HandleProviderWebhook)
	return app, repo, enqueuer
}

func stripeSignature(body []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(app *fiber.App, provider string, body []byte, signature string) (int, map[string]interface{}, error) {
	req := httptest.NewRequest("POST", "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.StripeSignatureHeader, signature)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded, nil
}

func TestWebhookUnknownProviderIs404(t *testing.T) {
	app, _, enqueuer := newWebhookTestApp(t)

	status, body, err := postWebhook(app, "github", []byte("{}"), "")
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "unknown_provider", body["error"])
	assert.Empty(t, enqueuer.enqueued)
}

func TestWebhookInvalidSignatureIs401AndRecordsNothing(t *testing.T) {
	app, repo, enqueuer := newWebhookTestApp(t)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	status, body, err := postWebhook(app, "stripe", payload, "t=1,v1=deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])
	assert.Empty(t, repo.byID)
	assert.Empty(t, enqueuer.enqueued)
}

func TestWebhookValidDeliveryRecordsAndEnqueuesOnce(t *testing.T) {
	app, repo, enqueuer := newWebhookTestApp(t)
	payload := []byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"object":{}}}`)

	status, body, err := postWebhook(app, "stripe", payload, stripeSignature(payload))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.NotContains(t, body, "duplicate")

	assert.Len(t, repo.byID, 1)
	stored := repo.byID[1]
	assert.Equal(t, "stripe", stored.Provider)
	assert.Equal(t, "evt_2", stored.ExternalEventID)
	assert.Equal(t, "checkout.session.completed", stored.EventType)
	assert.Equal(t, models.EventStatusPending, stored.Status)
	assert.JSONEq(t, string(payload), stored.PayloadJSON)

	assert.Equal(t, []uint{1}, enqueuer.enqueued)
}

func TestWebhookDuplicateDeliveryIsAckedWithoutReEnqueue(t *testing.T) {
	app, repo, enqueuer := newWebhookTestApp(t)
	payload := []byte(`{"id":"evt_3","type":"customer.subscription.updated"}`)

	_, _, err := postWebhook(app, "stripe", payload, stripeSignature(payload))
	assert.NoError(t, err)

	status, body, err := postWebhook(app, "stripe", payload, stripeSignature(payload))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["duplicate"])

	assert.Len(t, repo.byID, 1)
	assert.Equal(t, []uint{1}, enqueuer.enqueued)
}

func TestWebhookEnqueueFailureStillAcks(t *testing.T) {
	app, repo, enqueuer := newWebhookTestApp(t)
	enqueuer.fail = assert.AnError
	payload := []byte(`{"id":"evt_4","type":"checkout.session.completed"}`)

	status, body, err := postWebhook(app, "stripe", payload, stripeSignature(payload))
	assert.NoError(t, err)
	// The event is durably recorded; acknowledging stops provider retries
	// that dedup would discard anyway.
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Len(t, repo.byID, 1)
}
