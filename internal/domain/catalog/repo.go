package catalog

import (
	"context"

	"github.com/google/uuid"
)

type ScaleDefinitionRepository interface {
	Create(ctx context.Context, d *ScaleDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScaleDefinition, error)
	GetByScaleVersion(ctx context.Context, scaleID, version string) (*ScaleDefinition, error)
	Latest(ctx context.Context, scaleID string) (*ScaleDefinition, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ScaleDefinition, int, error)
	Retire(ctx context.Context, id uuid.UUID) error
}
