// Package tenant resolves the owning entity of a voice assistant and guards
// its usage counters. A call belongs to either a Business or a Trial; both
// are exposed through the Owner interface so the reconciliation engine never
// branches on the concrete type.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringlinehq/ringline/app/models"
)

// ErrNoOwner means no tenant claims the assistant; the assistant may belong
// to a deleted or expired entity and the event is a no-op.
var ErrNoOwner = errors.New("no tenant owns this assistant")

// UsageStats is the refreshed aggregate published alongside a new call.
type UsageStats struct {
	CallsUsed    int `json:"calls_used"`
	CallsAllowed int `json:"calls_allowed"`
}

// Owner is the uniform capability of a call-owning tenant. Implementations
// carry their own DB handle; callers pass only the request context.
type Owner interface {
	Kind() string // models.OwnerTypeBusiness or models.OwnerTypeTrial
	OwnerID() uint
	// ChannelKey identifies the tenant's realtime update channel.
	ChannelKey() string
	// IncrementCallUsage adds exactly one call to the tenant's usage
	// counter. It must only be called on true first-time call creation.
	IncrementCallUsage(ctx context.Context) error
	// Stats re-reads the tenant's usage aggregate.
	Stats(ctx context.Context) (UsageStats, error)
}

// Resolver maps provider assistant ids onto owning tenants.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a tenant resolver backed by GORM.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveByAssistantID finds the tenant owning a provider assistant id,
// preferring an active Business and falling back to a Trial.
func (r *Resolver) ResolveByAssistantID(ctx context.Context, assistantID string) (Owner, error) {
	if assistantID == "" {
		return nil, ErrNoOwner
	}

	var business models.Business
	err := r.db.WithContext(ctx).Where("vapi_assistant_id = ?", assistantID).First(&business).Error
	if err == nil {
		return &businessOwner{db: r.db, id: business.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var trial models.Trial
	err = r.db.WithContext(ctx).Where("vapi_assistant_id = ?", assistantID).First(&trial).Error
	if err == nil {
		return &trialOwner{db: r.db, id: trial.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return nil, ErrNoOwner
}

type businessOwner struct {
	db *gorm.DB
	id uint
}

func (o *businessOwner) Kind() string {
	return models.OwnerTypeBusiness
}

func (o *businessOwner) OwnerID() uint {
	return o.id
}

func (o *businessOwner) ChannelKey() string {
	return ChannelKey(models.OwnerTypeBusiness, o.id)
}

func (o *businessOwner) IncrementCallUsage(ctx context.Context) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Exclusive row lock for the check-then-increment sequence so two
		// concurrent reconciliations on the same tenant cannot double-spend.
		var row models.Business
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, o.id).Error; err != nil {
			return err
		}
		return tx.Model(&models.Business{}).Where("id = ?", o.id).
			UpdateColumn("calls_used_this_period", gorm.Expr("calls_used_this_period + ?", 1)).Error
	})
}

func (o *businessOwner) Stats(ctx context.Context) (UsageStats, error) {
	var row models.Business
	if err := o.db.WithContext(ctx).First(&row, o.id).Error; err != nil {
		return UsageStats{}, err
	}
	return UsageStats{CallsUsed: row.CallsUsedThisPeriod, CallsAllowed: row.CallsIncluded}, nil
}

type trialOwner struct {
	db *gorm.DB
	id uint
}

func (o *trialOwner) Kind() string {
	return models.OwnerTypeTrial
}

func (o *trialOwner) OwnerID() uint {
	return o.id
}

func (o *trialOwner) ChannelKey() string {
	return ChannelKey(models.OwnerTypeTrial, o.id)
}

func (o *trialOwner) IncrementCallUsage(ctx context.Context) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Trial
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, o.id).Error; err != nil {
			return err
		}
		return tx.Model(&models.Trial{}).Where("id = ?", o.id).
			UpdateColumn("calls_used", gorm.Expr("calls_used + ?", 1)).Error
	})
}

func (o *trialOwner) Stats(ctx context.Context) (UsageStats, error) {
	var row models.Trial
	if err := o.db.WithContext(ctx).First(&row, o.id).Error; err != nil {
		return UsageStats{}, err
	}
	return UsageStats{CallsUsed: row.CallsUsed, CallsAllowed: row.CallsAllowed}, nil
}

// ChannelKey formats the realtime channel identity of a tenant.
func ChannelKey(kind string, id uint) string {
	return fmt.Sprintf("tenant:%s:%d", kind, id)
}
