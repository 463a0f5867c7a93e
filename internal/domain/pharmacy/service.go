package pharmacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meditatva/connect/internal/platform/geo"
)

type Service struct {
	profiles Repository
}

func NewService(profiles Repository) *Service {
	return &Service{profiles: profiles}
}

// SaveProfile creates or replaces the caller's pharmacy profile.
func (s *Service) SaveProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !(geo.Point{Lat: p.Lat, Lon: p.Lon}).Valid() {
		return fmt.Errorf("invalid coordinates: lat=%v lon=%v", p.Lat, p.Lon)
	}
	return s.profiles.Upsert(ctx, p)
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func (s *Service) GetProfileByUser(ctx context.Context, userID string) (*Profile, error) {
	return s.profiles.GetByUserID(ctx, userID)
}

func (s *Service) ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, int, error) {
	return s.profiles.List(ctx, limit, offset)
}
