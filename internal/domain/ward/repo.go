package ward

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateWard(ctx context.Context, w *Ward) error
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	ListWards(ctx context.Context) ([]*Ward, error)

	// CreateRoom inserts the room and beds numbered 1..BedCount.
	CreateRoom(ctx context.Context, r *Room) error

	// LockBed loads a bed with a row lock held until the transaction ends.
	LockBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	SetBedPatient(ctx context.Context, bedID uuid.UUID, patientID *uuid.UUID) error
	BedLayout(ctx context.Context) ([]*BedSlot, error)
	BedCounts(ctx context.Context) (total, occupied int, err error)

	CreateAdmission(ctx context.Context, a *Admission) error
	// LockAdmission loads an admission with a row lock.
	LockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	OpenAdmissionFor(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	CloseAdmission(ctx context.Context, id, by uuid.UUID, notes *string) error
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	ListAdmissions(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error)

	// PeriodCounts counts admissions (or discharges) since the given time,
	// grouped by date_trunc(unit, ...).
	PeriodCounts(ctx context.Context, unit string, discharged bool, since time.Time) (map[time.Time]int, error)
}
