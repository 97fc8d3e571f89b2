package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
)

type appointmentReader interface {
	ActorByEmail(ctx context.Context, email string) (appointment.Actor, error)
	PatientAppointments(ctx context.Context, patientID uuid.UUID, upcoming bool) ([]*appointment.Appointment, error)
	DoctorAppointments(ctx context.Context, doctorID uuid.UUID, f appointment.Filter) ([]*appointment.Appointment, int, error)
	Get(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
}

type inboxReader interface {
	Inbox(ctx context.Context, userID uuid.UUID) (*notification.Inbox, error)
}

type userChecker interface {
	UserExists(ctx context.Context, email string) (bool, error)
}

// socketQueries answers websocket reads on behalf of the connected email.
type socketQueries struct {
	users         userChecker
	appointments  appointmentReader
	notifications inboxReader
}

func (q *socketQueries) UserExists(ctx context.Context, email string) (bool, error) {
	return q.users.UserExists(ctx, email)
}

func (q *socketQueries) PatientAppointments(ctx context.Context, email string) (interface{}, error) {
	actor, err := q.appointments.ActorByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return q.appointments.PatientAppointments(ctx, actor.ID, true)
}

func (q *socketQueries) DoctorAppointments(ctx context.Context, email string) (interface{}, error) {
	actor, err := q.appointments.ActorByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleDoctor {
		return nil, apperr.Forbidden("only doctors can list doctor appointments")
	}
	items, _, err := q.appointments.DoctorAppointments(ctx, actor.ID, appointment.Filter{})
	return items, err
}

func (q *socketQueries) Notifications(ctx context.Context, email string) (interface{}, error) {
	actor, err := q.appointments.ActorByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return q.notifications.Inbox(ctx, actor.ID)
}

func (q *socketQueries) AppointmentDetail(ctx context.Context, email, appointmentID string) (interface{}, error) {
	id, err := uuid.Parse(appointmentID)
	if err != nil {
		return nil, apperr.Validation("invalid appointment_id")
	}
	actor, err := q.appointments.ActorByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return q.appointments.Get(ctx, actor, id)
}
