package matching

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meditatva/connect/internal/platform/geo"
	"github.com/meditatva/connect/internal/platform/ws"
)

// Real-time event names. Payload shapes are fixed per event; see the typed
// payload structs below.
const (
	EventNewRequest        = "new_medicine_request"
	EventUrgentRequest     = "urgent_medicine_request"
	EventPharmacyResponded = "pharmacy_responded"
	EventRequestAccepted   = "request_accepted"
	EventRequestClosed     = "request_closed"
	EventStatusChanged     = "request_status_changed"
	EventNewMessage        = "new_message"
)

type NewRequestPayload struct {
	RequestID uuid.UUID  `json:"requestId"`
	PatientID string     `json:"patientId"`
	Medicines []Medicine `json:"medicines"`
	Urgency   Urgency    `json:"urgency"`
	Origin    geo.Point  `json:"origin"`
	Address   string     `json:"address,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

type RespondedPayload struct {
	RequestID     uuid.UUID `json:"requestId"`
	ResponseID    uuid.UUID `json:"responseId"`
	PharmacyID    string    `json:"pharmacyId"`
	PharmacyName  string    `json:"pharmacyName,omitempty"`
	FinalPrice    float64   `json:"finalPrice"`
	EstimatedTime string    `json:"estimatedTime,omitempty"`
	DistanceKm    *float64  `json:"distanceKm,omitempty"`
}

type AcceptedPayload struct {
	RequestID  uuid.UUID `json:"requestId"`
	ResponseID uuid.UUID `json:"responseId"`
	PatientID  string    `json:"patientId"`
	Origin     geo.Point `json:"origin"`
	Address    string    `json:"address,omitempty"`
}

type ClosedPayload struct {
	RequestID uuid.UUID `json:"requestId"`
	Reason    string    `json:"reason"`
}

type StatusChangedPayload struct {
	RequestID uuid.UUID `json:"requestId"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

type MessagePayload struct {
	RequestID uuid.UUID `json:"requestId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// Notifier delivers domain events to interested parties. Delivery is
// best-effort: recipients without a live channel are skipped, and failures
// never surface to the caller.
type Notifier interface {
	NotifyUser(userID, event string, payload interface{})
	NotifyCell(p geo.Point, event string, payload interface{})
	NotifyAllPharmacies(event string, payload interface{})
}

// Router resolves routing targets through the connection hub and delivers
// event envelopes. Marshal failures are logged and swallowed.
type Router struct {
	hub    *ws.Hub
	logger zerolog.Logger
}

func NewRouter(hub *ws.Hub, logger zerolog.Logger) *Router {
	return &Router{hub: hub, logger: logger}
}

func (r *Router) envelope(event string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("marshal event payload")
		return nil, false
	}
	msg, err := json.Marshal(ws.Event{Event: event, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("marshal event envelope")
		return nil, false
	}
	return msg, true
}

func (r *Router) NotifyUser(userID, event string, payload interface{}) {
	msg, ok := r.envelope(event, payload)
	if !ok {
		return
	}
	r.hub.SendToUser(userID, msg)
}

func (r *Router) NotifyCell(p geo.Point, event string, payload interface{}) {
	msg, ok := r.envelope(event, payload)
	if !ok {
		return
	}
	r.hub.Broadcast(geo.CellKey(p), msg)
}

func (r *Router) NotifyAllPharmacies(event string, payload interface{}) {
	msg, ok := r.envelope(event, payload)
	if !ok {
		return
	}
	r.hub.Broadcast(ws.RoomAllPharmacies, msg)
}
