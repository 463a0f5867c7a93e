package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/meditatva/connect/internal/platform/geo"
)

// Urgency controls routing fan-out only; it never affects status logic.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// Broadcast reports whether the urgency warrants notifying all pharmacies,
// not just the origin cell.
func (u Urgency) Broadcast() bool {
	return u == UrgencyUrgent || u == UrgencyEmergency
}

// Status is a request's lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var transitions = map[Status][]Status{
	StatusOpen:      {StatusAccepted, StatusCancelled, StatusExpired},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// callerTransitions are the edges a direct status update may take.
// Acceptance happens only through response selection and expiry only through
// the TTL, so neither target is reachable here.
var callerTransitions = map[Status][]Status{
	StatusOpen:      {StatusCancelled},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
}

// CanRequestStatus reports whether a patient or pharmacy may move the
// request from -> to via a direct status update.
func CanRequestStatus(from, to Status) bool {
	for _, next := range callerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

var statusMessages = map[Status]string{
	StatusAccepted:  "Pharmacy has accepted your request",
	StatusPreparing: "Pharmacy is preparing your medicines",
	StatusReady:     "Your medicines are ready for pickup",
	StatusCompleted: "Your request has been completed",
	StatusCancelled: "The request was cancelled",
	StatusExpired:   "The request expired without being accepted",
}

// StatusMessage returns the human-readable text shown alongside a status
// change notification.
func StatusMessage(s Status) string {
	return statusMessages[s]
}

// Medicine is one line of a patient's request.
type Medicine struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage,omitempty"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

// Request is a patient's posted need for medicines at a location. Responses
// and messages are child entities owned by the request; all mutation goes
// through the Service, which serializes writers per request.
type Request struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          string     `json:"patientId"`
	Medicines          []Medicine `json:"medicines"`
	Urgency            Urgency    `json:"urgency"`
	Origin             geo.Point  `json:"origin"`
	Address            string     `json:"address,omitempty"`
	PrescriptionRef    string     `json:"prescriptionRef,omitempty"`
	Status             Status     `json:"status"`
	AcceptedResponseID *uuid.UUID `json:"acceptedResponseId,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	Responses          []*Response `json:"responses,omitempty"`
	Messages           []*Message  `json:"messages,omitempty"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`

	// DistanceKm is computed per caller for proximity listings, never stored.
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// ExpiredAt reports whether the request's TTL has elapsed while still open.
func (r *Request) ExpiredAt(now time.Time) bool {
	return r.Status == StatusOpen && !r.ExpiresAt.After(now)
}

// AcceptedResponse returns the accepted response, or nil if none.
func (r *Request) AcceptedResponse() *Response {
	if r.AcceptedResponseID == nil {
		return nil
	}
	for _, resp := range r.Responses {
		if resp.ID == *r.AcceptedResponseID {
			return resp
		}
	}
	return nil
}

// ResponseByPharmacy returns the response submitted by the given pharmacy,
// or nil if it has not responded.
func (r *Request) ResponseByPharmacy(pharmacyID string) *Response {
	for _, resp := range r.Responses {
		if resp.PharmacyID == pharmacyID {
			return resp
		}
	}
	return nil
}

// ResponseItem is a pharmacy's availability and price for one requested
// medicine. UnitPrice is meaningful only when Available is true.
type ResponseItem struct {
	MedicineName string  `json:"medicineName"`
	Available    bool    `json:"available"`
	UnitPrice    float64 `json:"unitPrice,omitempty"`
	Stock        int     `json:"stock,omitempty"`
}

// Discount policy: fixed business constants, no configuration surface.
const (
	discountThreshold = 1000.0
	discountPercent   = 5.0
)

// Response is one pharmacy's priced offer against a request. A pharmacy may
// respond at most once per request.
type Response struct {
	ID            uuid.UUID      `json:"id"`
	RequestID     uuid.UUID      `json:"requestId"`
	PharmacyID    string         `json:"pharmacyId"`
	Items         []ResponseItem `json:"items"`
	TotalPrice    float64        `json:"totalPrice"`
	Discount      float64        `json:"discount"`
	FinalPrice    float64        `json:"finalPrice"`
	EstimatedTime string         `json:"estimatedTime,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	IsActive      bool           `json:"isActive"`
	RespondedAt   time.Time      `json:"respondedAt"`
}

// ComputePricing derives TotalPrice, Discount and FinalPrice from the items.
// Prices are never stored independent of this recomputation.
func (resp *Response) ComputePricing() {
	total := 0.0
	for _, item := range resp.Items {
		if item.Available {
			total += item.UnitPrice
		}
	}
	resp.TotalPrice = total
	if total > discountThreshold {
		resp.Discount = discountPercent
	} else {
		resp.Discount = 0
	}
	resp.FinalPrice = total * (1 - resp.Discount/100)
}

// Message is one entry in a request's communication log.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"requestId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}
