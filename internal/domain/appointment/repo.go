package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]*Appointment, int, error)
	// SetFlag sets the flag only if it is still false and reports whether
	// this call changed it.
	SetFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (bool, error)
	// UpdateStatus moves the appointment from one status to another and
	// reports whether the row was still in the from status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

type VitalRepository interface {
	Create(ctx context.Context, v *Vital) error
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Vital, error)
}
