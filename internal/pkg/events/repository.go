package events

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringlinehq/ringline/app/models"
)

// Repository provides DB operations used by the event store. Every method
// takes the caller's context so handler timeouts bound the queries.
type Repository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	MarkCompleted(ctx context.Context, id uint) error
	RecordFailure(ctx context.Context, id uint, errorMessage string, final bool) error
	ResetForReprocess(ctx context.Context, id uint) error
	List(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an event repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateIfNotExists is the atomic check-and-insert on the unique
// (provider, external_event_id) constraint. Exactly one of any set of
// concurrent duplicate deliveries observes created=true; the rest get the
// already-existing row.
func (r *gormRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND external_event_id = ?", event.Provider, event.ExternalEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *gormRepository) MarkCompleted(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        models.EventStatusCompleted,
		"processed_at":  &now,
		"error_message": "",
	}).Error
}

// RecordFailure increments the retry counter and stores the failure. A final
// failure parks the event as failed for operator reprocessing; otherwise the
// event goes back to pending for the job queue's next attempt.
func (r *gormRepository) RecordFailure(ctx context.Context, id uint, errorMessage string, final bool) error {
	status := models.EventStatusPending
	if final {
		status = models.EventStatusFailed
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"retry_count":   gorm.Expr("retry_count + ?", 1),
		"error_message": errorMessage,
	}).Error
}

func (r *gormRepository) ResetForReprocess(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        models.EventStatusPending,
		"retry_count":   0,
		"error_message": "",
	}).Error
}

func (r *gormRepository) List(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var rows []models.WebhookEvent
	err := query.Find(&rows).Error
	return rows, err
}
