package ws

import (
	"net/http"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/meditatva/connect/internal/platform/auth"
	"github.com/meditatva/connect/internal/platform/geo"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades authenticated HTTP connections to WebSocket and registers
// them with the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, joins the caller to its rooms
// (personal; plus the global pharmacy room and its geographic cell room for
// pharmacies with a registered location), and starts the pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	rooms := []string{PersonalRoom(ident.UserID)}
	if ident.Role == auth.RolePharmacy {
		rooms = append(rooms, RoomAllPharmacies)
		if ident.Location != nil {
			rooms = append(rooms, geo.CellKey(*ident.Location))
		}
	}

	client := &Client{
		UserID: ident.UserID,
		Role:   ident.Role,
		Rooms:  rooms,
		Send:   make(chan []byte, 256),
		conn:   &gorillaConnAdapter{conn},
	}

	h.hub.Register(client)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump drains inbound frames until the connection drops. Clients send
// nothing the server acts on; reads exist to detect disconnects promptly.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump writes messages from the Send channel to the connection. A
// failed write unregisters the client right away so the hub stops
// queueing onto a dead channel; Unregister tolerates the readPump racing
// it to the same cleanup.
func (h *Handler) writePump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.conn.Close()
	}()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
