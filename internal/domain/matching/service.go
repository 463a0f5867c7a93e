package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meditatva/connect/internal/domain/pharmacy"
	"github.com/meditatva/connect/internal/platform/geo"
)

// Service is the lifecycle controller. It serializes all mutating operations
// on a given request behind a per-request lock, enforces the state machine
// and its invariants, and emits notifications strictly after the state
// mutation they describe. Notification failure never fails an operation.
type Service struct {
	requests   Repository
	pharmacies pharmacy.Repository
	notifier   Notifier
	ttl        time.Duration
	logger     zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(requests Repository, pharmacies pharmacy.Repository, notifier Notifier, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		requests:   requests,
		pharmacies: pharmacies,
		notifier:   notifier,
		ttl:        ttl,
		locks:      make(map[uuid.UUID]*sync.Mutex),
		logger:     logger,
	}
}

func (s *Service) lockFor(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateRequestInput carries the patient's submission.
type CreateRequestInput struct {
	Medicines       []Medicine `json:"medicines"`
	Urgency         Urgency    `json:"urgency"`
	Origin          geo.Point  `json:"origin"`
	Address         string     `json:"address"`
	PrescriptionRef string     `json:"prescriptionRef"`
}

// CreateRequest opens a new request and notifies pharmacies in the origin
// cell; urgent and emergency requests additionally fan out to all pharmacies.
func (s *Service) CreateRequest(ctx context.Context, patientID string, in CreateRequestInput) (*Request, error) {
	if len(in.Medicines) == 0 {
		return nil, fmt.Errorf("%w: at least one medicine is required", ErrValidation)
	}
	for i, m := range in.Medicines {
		if m.Name == "" {
			return nil, fmt.Errorf("%w: medicine %d missing name", ErrValidation, i)
		}
		if m.Quantity < 1 {
			return nil, fmt.Errorf("%w: medicine %q quantity must be at least 1", ErrValidation, m.Name)
		}
	}
	if in.Urgency == "" {
		in.Urgency = UrgencyNormal
	}
	if !in.Urgency.Valid() {
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrValidation, in.Urgency)
	}
	if !in.Origin.Valid() || (in.Origin.Lat == 0 && in.Origin.Lon == 0) {
		return nil, fmt.Errorf("%w: origin coordinates are required", ErrValidation)
	}

	req := &Request{
		ID:              uuid.New(),
		PatientID:       patientID,
		Medicines:       in.Medicines,
		Urgency:         in.Urgency,
		Origin:          in.Origin,
		Address:         in.Address,
		PrescriptionRef: in.PrescriptionRef,
		Status:          StatusOpen,
		ExpiresAt:       time.Now().Add(s.ttl),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	payload := NewRequestPayload{
		RequestID: req.ID,
		PatientID: req.PatientID,
		Medicines: req.Medicines,
		Urgency:   req.Urgency,
		Origin:    req.Origin,
		Address:   req.Address,
		ExpiresAt: req.ExpiresAt,
	}
	s.notifier.NotifyCell(req.Origin, EventNewRequest, payload)
	if req.Urgency.Broadcast() {
		s.notifier.NotifyAllPharmacies(EventUrgentRequest, payload)
	}

	s.logger.Info().
		Str("request_id", req.ID.String()).
		Str("patient_id", patientID).
		Str("urgency", string(req.Urgency)).
		Msg("request created")
	return req, nil
}

// GetRequest loads a request, applying lazy expiry: an open request whose
// TTL has elapsed is transitioned to expired before being returned.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ExpiredAt(time.Now()) {
		if err := s.requests.MarkExpired(ctx, id); err != nil {
			return nil, err
		}
		req.Status = StatusExpired
	}
	return req, nil
}

// loadOpen loads a request under the caller-held lock and enforces that it
// is still open, expiring it first if the TTL has elapsed.
func (s *Service) loadOpen(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusOpen {
		return nil, fmt.Errorf("%w: status is %s", ErrRequestClosed, req.Status)
	}
	return req, nil
}

// SubmitResponseInput carries a pharmacy's offer.
type SubmitResponseInput struct {
	Items         []ResponseItem `json:"items"`
	EstimatedTime string         `json:"estimatedTime"`
	Notes         string         `json:"notes"`
}

// SubmitResponse appends a pharmacy's offer to an open request. Each
// pharmacy may respond at most once; duplicates are rejected, not merged.
func (s *Service) SubmitResponse(ctx context.Context, pharmacyID string, requestID uuid.UUID, in SubmitResponseInput) (*Response, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, item := range in.Items {
		if item.Available && item.UnitPrice <= 0 {
			return nil, fmt.Errorf("%w: available item %q needs a positive unit price", ErrValidation, item.MedicineName)
		}
	}

	l := s.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	req, err := s.loadOpen(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ResponseByPharmacy(pharmacyID) != nil {
		return nil, fmt.Errorf("%w: pharmacy %s", ErrDuplicateResponse, pharmacyID)
	}

	resp := &Response{
		ID:            uuid.New(),
		RequestID:     requestID,
		PharmacyID:    pharmacyID,
		Items:         in.Items,
		EstimatedTime: in.EstimatedTime,
		Notes:         in.Notes,
		IsActive:      true,
	}
	resp.ComputePricing()

	if err := s.requests.AddResponse(ctx, resp); err != nil {
		return nil, err
	}

	payload := RespondedPayload{
		RequestID:     requestID,
		ResponseID:    resp.ID,
		PharmacyID:    pharmacyID,
		FinalPrice:    resp.FinalPrice,
		EstimatedTime: resp.EstimatedTime,
	}
	if profile, err := s.pharmacies.GetByUserID(ctx, pharmacyID); err == nil {
		payload.PharmacyName = profile.Name
		d := geo.Distance(geo.Point{Lat: profile.Lat, Lon: profile.Lon}, req.Origin)
		payload.DistanceKm = &d
	}
	s.notifier.NotifyUser(req.PatientID, EventPharmacyResponded, payload)

	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("pharmacy_id", pharmacyID).
		Float64("final_price", resp.FinalPrice).
		Msg("response submitted")
	return resp, nil
}

// AcceptResponse closes the competition on an open request: exactly one
// response becomes the accepted one and every other response is deactivated.
// Losing pharmacies are told the request is closed.
func (s *Service) AcceptResponse(ctx context.Context, patientID string, requestID uuid.UUID, pharmacyID string) (*Request, error) {
	l := s.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	req, err := s.loadOpen(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		return nil, fmt.Errorf("%w: not the request owner", ErrUnauthorized)
	}

	chosen := req.ResponseByPharmacy(pharmacyID)
	if chosen == nil || !chosen.IsActive {
		return nil, fmt.Errorf("%w: no active response from pharmacy %s", ErrResponseNotFound, pharmacyID)
	}

	if err := s.requests.Accept(ctx, requestID, chosen.ID); err != nil {
		return nil, err
	}

	req.Status = StatusAccepted
	req.AcceptedResponseID = &chosen.ID
	for _, other := range req.Responses {
		if other.ID != chosen.ID {
			other.IsActive = false
		}
	}

	s.notifier.NotifyUser(pharmacyID, EventRequestAccepted, AcceptedPayload{
		RequestID:  requestID,
		ResponseID: chosen.ID,
		PatientID:  req.PatientID,
		Origin:     req.Origin,
		Address:    req.Address,
	})
	for _, other := range req.Responses {
		if other.ID != chosen.ID {
			s.notifier.NotifyUser(other.PharmacyID, EventRequestClosed, ClosedPayload{
				RequestID: requestID,
				Reason:    "another pharmacy selected",
			})
		}
	}

	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("pharmacy_id", pharmacyID).
		Msg("response accepted")
	return req, nil
}

// UpdateStatus moves a request along an allowed edge of the state machine.
// Only the patient and the accepted pharmacy may update status; each update
// notifies the counterpart.
func (s *Service) UpdateStatus(ctx context.Context, actorID string, requestID uuid.UUID, newStatus Status, reason string) (*Request, error) {
	l := s.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	accepted := req.AcceptedResponse()
	isPatient := actorID == req.PatientID
	isAcceptedPharmacy := accepted != nil && actorID == accepted.PharmacyID
	if !isPatient && !isAcceptedPharmacy {
		return nil, fmt.Errorf("%w: only the patient or the accepted pharmacy may update status", ErrUnauthorized)
	}

	if !CanRequestStatus(req.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, newStatus)
	}

	cancelReason := ""
	if newStatus == StatusCancelled {
		cancelReason = reason
		if cancelReason == "" {
			cancelReason = "cancelled by " + actorID
		}
	}
	if err := s.requests.UpdateStatus(ctx, requestID, newStatus, cancelReason); err != nil {
		return nil, err
	}
	wasOpen := req.Status == StatusOpen
	req.Status = newStatus
	req.CancelReason = cancelReason

	statusPayload := StatusChangedPayload{
		RequestID: requestID,
		Status:    newStatus,
		Message:   StatusMessage(newStatus),
	}
	if isPatient && accepted != nil {
		s.notifier.NotifyUser(accepted.PharmacyID, EventStatusChanged, statusPayload)
	} else if isAcceptedPharmacy {
		s.notifier.NotifyUser(req.PatientID, EventStatusChanged, statusPayload)
	}

	// Cancelling an open request ends the competition for everyone who bid.
	if newStatus == StatusCancelled && wasOpen {
		for _, resp := range req.Responses {
			if resp.IsActive {
				s.notifier.NotifyUser(resp.PharmacyID, EventRequestClosed, ClosedPayload{
					RequestID: requestID,
					Reason:    "request cancelled",
				})
			}
		}
	}

	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("actor_id", actorID).
		Str("status", string(newStatus)).
		Msg("status updated")
	return req, nil
}

// AddCommunication appends to the request's message log. Messaging opens
// once a response has been accepted, and only between the patient and the
// accepted pharmacy.
func (s *Service) AddCommunication(ctx context.Context, senderID string, requestID uuid.UUID, content, kind string) (*Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	l := s.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	accepted := req.AcceptedResponse()
	if accepted == nil {
		return nil, fmt.Errorf("%w: messaging opens once a response is accepted", ErrValidation)
	}
	if senderID != req.PatientID && senderID != accepted.PharmacyID {
		return nil, fmt.Errorf("%w: only the patient or the accepted pharmacy may send messages", ErrUnauthorized)
	}

	m := &Message{
		ID:        uuid.New(),
		RequestID: requestID,
		SenderID:  senderID,
		Content:   content,
		Kind:      kind,
	}
	if err := s.requests.AddMessage(ctx, m); err != nil {
		return nil, err
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}

	recipient := req.PatientID
	if senderID == req.PatientID {
		recipient = accepted.PharmacyID
	}
	s.notifier.NotifyUser(recipient, EventNewMessage, MessagePayload{
		RequestID: requestID,
		SenderID:  senderID,
		Content:   content,
		Kind:      kind,
		SentAt:    m.SentAt,
	})
	return m, nil
}

// FindNearby returns open requests within radiusKm of p, nearest first, with
// the display distance computed for the caller's position.
func (s *Service) FindNearby(ctx context.Context, p geo.Point, radiusKm float64, limit, offset int) ([]*Request, int, error) {
	if !p.Valid() {
		return nil, 0, fmt.Errorf("%w: invalid coordinates", ErrValidation)
	}
	if radiusKm <= 0 {
		return nil, 0, fmt.Errorf("%w: radius must be positive", ErrValidation)
	}
	items, total, err := s.requests.FindNearby(ctx, p, radiusKm, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, req := range items {
		d := geo.Distance(p, req.Origin)
		req.DistanceKm = &d
	}
	return items, total, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Request, int, error) {
	return s.requests.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByPharmacy(ctx context.Context, pharmacyID string, limit, offset int) ([]*Request, int, error) {
	return s.requests.ListByPharmacy(ctx, pharmacyID, limit, offset)
}

// StartSweeper expires overdue open requests on a fixed interval until ctx
// is cancelled. Expiry stays correct without it; the sweep only makes the
// transition visible promptly.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.requests.ExpireOpenBefore(ctx, time.Now())
				if err != nil {
					s.logger.Error().Err(err).Msg("expiry sweep failed")
					continue
				}
				if n > 0 {
					s.logger.Info().Int("count", n).Msg("expired overdue requests")
				}
			}
		}
	}()
}
