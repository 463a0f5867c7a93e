package matching

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meditatva/connect/internal/platform/geo"
)

// Repository provides access to requests and their child entities. GetByID
// loads responses and messages along with the request.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)

	// UpdateStatus moves the request to the given status. When cancelReason
	// is non-empty it is recorded alongside the status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancelReason string) error

	// MarkExpired transitions the request to expired only if it is still
	// open, so a concurrent acceptance is never clobbered.
	MarkExpired(ctx context.Context, id uuid.UUID) error

	// AddResponse appends a pharmacy's offer. Returns ErrDuplicateResponse
	// if the pharmacy already responded to this request.
	AddResponse(ctx context.Context, resp *Response) error

	// Accept atomically moves an open request to accepted, records the
	// chosen response and deactivates all others. Returns ErrRequestClosed
	// if the request is no longer open.
	Accept(ctx context.Context, requestID, responseID uuid.UUID) error

	AddMessage(ctx context.Context, m *Message) error

	// FindNearby returns open, unexpired requests within radiusKm of p,
	// nearest first.
	FindNearby(ctx context.Context, p geo.Point, radiusKm float64, limit, offset int) ([]*Request, int, error)

	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Request, int, error)
	ListByPharmacy(ctx context.Context, pharmacyID string, limit, offset int) ([]*Request, int, error)

	// ExpireOpenBefore transitions every open request whose TTL elapsed
	// before cutoff. Returns the number of requests expired.
	ExpireOpenBefore(ctx context.Context, cutoff time.Time) (int, error)
}
