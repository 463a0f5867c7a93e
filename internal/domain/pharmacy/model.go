package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Profile is a pharmacy's registered storefront. UserID ties the profile to
// the authenticated pharmacy account; one profile per account.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
