package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/pkg/apperr"
)

// Close codes sent when a connection is refused.
const (
	CloseMissingEmail = 4000
	CloseUnknownUser  = 4001
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4096
)

// Client actions.
const (
	ActionGetDoctorAppointments = "get_doctor_appointments"
)

// Queries answers the reads a connected client can request.
type Queries interface {
	UserExists(ctx context.Context, email string) (bool, error)
	PatientAppointments(ctx context.Context, email string) (interface{}, error)
	DoctorAppointments(ctx context.Context, email string) (interface{}, error)
	Notifications(ctx context.Context, email string) (interface{}, error)
	AppointmentDetail(ctx context.Context, email, appointmentID string) (interface{}, error)
}

// Frame is a message written to a client.
type Frame struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type clientFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler serves the notification socket.
type Handler struct {
	hub      *Hub
	registry Registry
	queries  Queries
	logger   zerolog.Logger
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates the socket handler. An empty origins list or one
// containing "*" accepts any origin.
func NewHandler(hub *Hub, registry Registry, queries Queries, logger zerolog.Logger, origins []string) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		queries:  queries,
		logger:   logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || origin == "" || allowed[origin]
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/notifications/", h.Connect)
}

// Connect upgrades the request and serves the connection until the client
// goes away.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		return nil
	}
	ctx := c.Request().Context()

	email := c.QueryParam("email")
	if email == "" {
		h.refuse(ws, CloseMissingEmail, "email is required")
		return nil
	}
	exists, err := h.queries.UserExists(ctx, email)
	if err != nil {
		h.logger.Error().Err(err).Str("email", email).Msg("websocket user lookup failed")
		h.refuse(ws, gorillawebsocket.CloseInternalServerErr, "internal server error")
		return nil
	}
	if !exists {
		h.refuse(ws, CloseUnknownUser, "user not found")
		return nil
	}

	client := NewClient(email)
	if err := h.registry.Register(ctx, client.Email, client.ID); err != nil {
		h.logger.Error().Err(err).Str("email", client.Email).Msg("websocket register failed")
		h.refuse(ws, gorillawebsocket.CloseInternalServerErr, "internal server error")
		return nil
	}
	h.hub.Join(client)
	h.send(client, Frame{
		Type:    "connection_established",
		Message: "Connected successfully as " + client.Email,
	})
	h.logger.Debug().Str("email", client.Email).Str("channel", client.ID).Msg("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, client, ws)
	}()
	h.readPump(ctx, client, ws)

	h.hub.Leave(client)
	<-done

	cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.registry.Unregister(cleanup, client.Email, client.ID); err != nil {
		h.logger.Warn().Err(err).Str("email", client.Email).Msg("websocket unregister failed")
	}
	h.logger.Debug().Str("email", client.Email).Str("channel", client.ID).Msg("websocket disconnected")
	return nil
}

func (h *Handler) refuse(ws *gorillawebsocket.Conn, code int, reason string) {
	msg := gorillawebsocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(gorillawebsocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

func (h *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	ws.SetReadLimit(maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(client, Frame{Type: "error", Message: "Invalid JSON format"})
			continue
		}
		h.send(client, h.dispatch(ctx, client, msg.Action, msg.Data))
	}
}

func (h *Handler) writePump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				_ = ws.WriteControl(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := write(ws, frame); err != nil {
				return
			}
		case push, ok := <-client.push:
			if !ok {
				return
			}
			data, err := json.Marshal(h.resolvePush(ctx, client, push))
			if err != nil {
				continue
			}
			if err := write(ws, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func write(ws *gorillawebsocket.Conn, data []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(gorillawebsocket.TextMessage, data)
}

func (h *Handler) send(client *Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("type", frame.Type).Msg("marshal websocket frame")
		return
	}
	if !client.Enqueue(data) {
		h.logger.Warn().Str("email", client.Email).Str("type", frame.Type).Msg("websocket send buffer full, frame dropped")
	}
}

// resolvePush turns a server push into the frame written to the client.
// Refresh actions are answered with fresh data; anything else is forwarded.
func (h *Handler) resolvePush(ctx context.Context, client *Client, push Push) Frame {
	switch push.Action {
	case ActionGetNotifications, ActionGetAppointments, ActionGetAppointmentDetail:
		return h.dispatch(ctx, client, push.Action, push.Data)
	default:
		return Frame{Type: "notification", Data: push}
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, action string, raw json.RawMessage) Frame {
	var (
		typ  string
		data interface{}
		err  error
	)

	switch action {
	case ActionGetAppointments:
		typ = "appointments_data"
		data, err = h.queries.PatientAppointments(ctx, client.Email)
	case ActionGetDoctorAppointments:
		typ = "doctor_appointments_data"
		data, err = h.queries.DoctorAppointments(ctx, client.Email)
	case ActionGetNotifications:
		typ = "notifications_data"
		data, err = h.queries.Notifications(ctx, client.Email)
	case ActionGetAppointmentDetail:
		var params struct {
			AppointmentID string `json:"appointment_id"`
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &params)
		}
		if params.AppointmentID == "" {
			return Frame{Type: "error", Message: "appointment_id is required"}
		}
		typ = "appointment_detail_data"
		data, err = h.queries.AppointmentDetail(ctx, client.Email, params.AppointmentID)
	default:
		return Frame{Type: "error", Message: fmt.Sprintf("Unknown action: %s", action)}
	}

	if err != nil {
		return h.errorFrame(client, action, err)
	}
	return Frame{Type: typ, Data: data}
}

func (h *Handler) errorFrame(client *Client, action string, err error) Frame {
	if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindInternal {
		return Frame{Type: "error", Message: ae.Message}
	}
	h.logger.Error().Err(err).Str("email", client.Email).Str("action", action).Msg("websocket query failed")
	return Frame{Type: "error", Message: "internal server error"}
}
