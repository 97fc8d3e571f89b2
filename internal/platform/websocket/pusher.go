package websocket

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Refresh actions pushed after a notification is stored.
const (
	ActionGetNotifications     = "get_notifications"
	ActionGetAppointments      = "get_appointments"
	ActionGetAppointmentDetail = "get_appointment_detail"
)

// Pusher sends refresh triggers to users with an open connection. Failures
// are logged and never returned.
type Pusher struct {
	registry Registry
	broker   Broker
	logger   zerolog.Logger
}

func NewPusher(registry Registry, broker Broker, logger zerolog.Logger) *Pusher {
	return &Pusher{registry: registry, broker: broker, logger: logger}
}

// Push delivers the given pushes in order to email's group.
func (p *Pusher) Push(ctx context.Context, email string, pushes ...Push) {
	connected, err := p.registry.IsConnected(ctx, email)
	if err != nil {
		p.logger.Warn().Err(err).Str("email", email).Msg("websocket registry lookup failed")
		return
	}
	if !connected {
		return
	}

	group := GroupName(email)
	for _, push := range pushes {
		if err := p.broker.Publish(ctx, group, push); err != nil {
			p.logger.Warn().Err(err).
				Str("group", group).
				Str("action", push.Action).
				Msg("websocket push failed")
		}
	}
}

// Refresh pushes the notification and appointment refresh triggers.
func (p *Pusher) Refresh(ctx context.Context, email string) {
	p.Push(ctx, email,
		Push{Action: ActionGetNotifications},
		Push{Action: ActionGetAppointments},
	)
}

// Detail asks email's clients to reload one appointment.
func (p *Pusher) Detail(ctx context.Context, email string, appointmentID uuid.UUID) {
	data, err := json.Marshal(map[string]string{"appointment_id": appointmentID.String()})
	if err != nil {
		p.logger.Error().Err(err).Msg("marshal appointment detail push")
		return
	}
	p.Push(ctx, email, Push{Action: ActionGetAppointmentDetail, Data: data})
}
