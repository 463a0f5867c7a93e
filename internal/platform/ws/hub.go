// Package ws provides the real-time delivery layer: a hub tracking live
// client connections and their room memberships (personal, global-pharmacy,
// and geographic-cell rooms), with best-effort broadcast delivery.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Room name for the global pharmacy broadcast channel. Personal rooms are
// "user:<id>" and cell rooms come from geo.CellKey.
const RoomAllPharmacies = "pharmacies"

// PersonalRoom returns the room key for a user's 1:1 delivery channel.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// Event is the wire envelope for every real-time notification.
type Event struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single live connection for an authenticated party.
type Client struct {
	UserID string
	Role   string
	Rooms  []string
	Send   chan []byte
	conn   Conn
}

// Hub is the connection registry. It maps each user to at most one live
// client and each room to its member set. All access is guarded by mu.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	byUser map[string]*Client
	logger zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		byUser: make(map[string]*Client),
		logger: logger,
	}
}

// Register adds a client and joins it to its initial rooms. A user has at
// most one live channel: an existing connection for the same user is
// unregistered first, so the newest connection wins.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if prev, ok := h.byUser[client.UserID]; ok {
		h.removeLocked(prev)
	}
	h.byUser[client.UserID] = client
	for _, room := range client.Rooms {
		h.joinLocked(client, room)
	}
	h.mu.Unlock()

	h.logger.Debug().
		Str("user_id", client.UserID).
		Str("role", client.Role).
		Strs("rooms", client.Rooms).
		Msg("client connected")
}

// Unregister removes a client from the registry and all rooms, and closes
// its Send channel. Memberships are not persisted for offline users.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	removed := h.removeLocked(client)
	h.mu.Unlock()

	if removed {
		h.logger.Debug().Str("user_id", client.UserID).Msg("client disconnected")
	}
}

func (h *Hub) removeLocked(client *Client) bool {
	current, ok := h.byUser[client.UserID]
	if !ok || current != client {
		return false
	}
	for _, room := range client.Rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.byUser, client.UserID)
	close(client.Send)
	return true
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

// SendToUser delivers to a user's personal room. No-op if the user has no
// live channel.
func (h *Hub) SendToUser(userID string, data []byte) {
	h.Broadcast(PersonalRoom(userID), data)
}

// Broadcast delivers to every member of the given room. Delivery is
// non-blocking: a client whose send buffer is full is skipped.
func (h *Hub) Broadcast(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	for client := range members {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().
				Str("user_id", client.UserID).
				Str("room", room).
				Msg("send buffer full, dropping event")
		}
	}
}

// IsOnline reports whether the user currently has a live channel.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// RoomCount returns the number of members in a room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
