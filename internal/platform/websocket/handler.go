package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/auth"
)

const sendBuffer = 256

// Handler upgrades HTTP requests to WebSocket streams on the hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates a handler bound to hub. Browser connections are only
// accepted from allowedOrigins; "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers the stream endpoint on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/growth/stream", h.HandleConnect)
}

// HandleConnect upgrades the connection, subscribes the client to any
// ?patient= values it may read and starts the read and write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	// The identity outlives the request once the connection is hijacked.
	identity := context.WithoutCancel(c.Request().Context())
	admit := func(pid string) (string, bool) { return admitPatient(identity, pid) }

	var initial, denied []string
	for _, raw := range c.QueryParams()["patient"] {
		for _, pid := range strings.Split(raw, ",") {
			if pid = strings.TrimSpace(pid); pid == "" {
				continue
			}
			if key, ok := admit(pid); ok {
				if !slices.Contains(initial, key) {
					initial = append(initial, key)
				}
			} else {
				denied = append(denied, pid)
			}
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}

	client := &Client{
		ID:       uuid.NewString(),
		Patients: initial,
		Send:     make(chan []byte, sendBuffer),
		admit:    admit,
	}
	h.hub.Register(client)
	h.hub.Reply(client, &Reply{Type: "subscribed", Patients: append([]string{}, initial...), Denied: denied})

	conn := &gorillaConnAdapter{ws}
	go h.writePump(client, conn)
	go h.readPump(client, conn)
	return nil
}

// admitPatient canonicalises pid to the lowercase UUID form events are keyed
// by. Ids that are not UUIDs, or that the caller may not read, are refused.
func admitPatient(identity context.Context, pid string) (string, bool) {
	id, err := uuid.Parse(pid)
	if err != nil {
		return "", false
	}
	key := id.String()
	return key, auth.CanAccessPatient(identity, key)
}

// readPump reads messages from the connection and applies them.
func (h *Handler) readPump(client *Client, conn Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.hub.Reply(client, &Reply{Type: "error"})
			continue
		}
		if reply := h.hub.ProcessMessage(client, msg); reply != nil {
			h.hub.Reply(client, reply)
		}
	}
}

// writePump drains the client's Send channel until the hub closes it.
func (h *Handler) writePump(client *Client, conn Conn) {
	defer conn.Close()

	for message := range client.Send {
		if err := conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
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
