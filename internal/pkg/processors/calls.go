package processors

import (
	"context"

	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/tenant"
)

// CallRepository is the call-row persistence slice the reconciler needs. The
// unique external_id index backs both methods: FindByExternalID spots
// duplicate deliveries up front and Create surfaces gorm.ErrDuplicatedKey
// when two workers race past the find.
type CallRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Call, error)
	Create(ctx context.Context, call *models.Call) error
}

// OwnerResolver maps a provider assistant id onto the owning tenant.
type OwnerResolver interface {
	ResolveByAssistantID(ctx context.Context, assistantID string) (tenant.Owner, error)
}

type gormCallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a call repository backed by GORM.
func NewCallRepository(db *gorm.DB) CallRepository {
	return &gormCallRepository{db: db}
}

func (r *gormCallRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Call, error) {
	var call models.Call
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&call).Error; err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *gormCallRepository) Create(ctx context.Context, call *models.Call) error {
	return r.db.WithContext(ctx).Create(call).Error
}
