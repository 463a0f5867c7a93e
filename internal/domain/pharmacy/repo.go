package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

// Repository provides access to pharmacy profiles.
type Repository interface {
	Upsert(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	List(ctx context.Context, limit, offset int) ([]*Profile, int, error)
}
