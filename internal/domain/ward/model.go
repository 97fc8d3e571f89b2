package ward

import (
	"time"

	"github.com/google/uuid"
)

type Ward struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description"`
	RoomCount    int       `json:"room_count"`
	TotalBeds    int       `json:"total_beds"`
	OccupiedBeds int       `json:"occupied_beds"`
	CreatedAt    time.Time `json:"created_at"`
}

type Room struct {
	ID        uuid.UUID `json:"id"`
	WardID    uuid.UUID `json:"ward_id"`
	Name      string    `json:"name"`
	BedCount  int       `json:"bed_count"`
	CreatedAt time.Time `json:"created_at"`
	Beds      []*Bed    `json:"beds,omitempty"`
}

type Bed struct {
	ID         uuid.UUID  `json:"id"`
	RoomID     uuid.UUID  `json:"room_id"`
	Number     int        `json:"number"`
	IsOccupied bool       `json:"is_occupied"`
	PatientID  *uuid.UUID `json:"patient_id"`
}

type Admission struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PatientName    string     `json:"patient_name"`
	BedID          uuid.UUID  `json:"bed_id"`
	BedNumber      int        `json:"bed_number"`
	RoomName       string     `json:"room_name"`
	WardName       string     `json:"ward_name"`
	AdmittedBy     *uuid.UUID `json:"admitted_by"`
	Reason         *string    `json:"reason"`
	AdmittedAt     time.Time  `json:"admitted_at"`
	DischargedAt   *time.Time `json:"discharged_at"`
	DischargedBy   *uuid.UUID `json:"discharged_by"`
	DischargeNotes *string    `json:"discharge_notes"`
}

func (a *Admission) Open() bool { return a.DischargedAt == nil }

type AdmissionFilter struct {
	PatientID *uuid.UUID
	// Open selects current admissions when true and closed ones when false.
	Open   *bool
	Limit  int
	Offset int
}

// BedSlot is one row of the ward, room and bed layout. Wards without rooms
// appear with nil room and bed columns.
type BedSlot struct {
	WardID      uuid.UUID
	WardName    string
	RoomID      *uuid.UUID
	RoomName    *string
	BedID       *uuid.UUID
	BedNumber   *int
	Occupied    bool
	PatientName *string
}

type OccupancySummary struct {
	TotalBeds           int     `json:"total_beds"`
	OccupiedBeds        int     `json:"occupied_beds"`
	AvailableBeds       int     `json:"available_beds"`
	OccupancyPercentage float64 `json:"occupancy_percentage"`
}

type BedView struct {
	Label    string    `json:"label"`
	Number   int       `json:"number"`
	Occupied bool      `json:"occupied"`
	Patient  *string   `json:"patient"`
	BedID    uuid.UUID `json:"bed_id"`
}

type RoomView struct {
	Name string     `json:"name"`
	Beds []*BedView `json:"beds"`
}

type WardView struct {
	Name  string      `json:"name"`
	Rooms []*RoomView `json:"rooms"`
}

type Occupancy struct {
	Summary OccupancySummary `json:"summary"`
	Wards   []*WardView      `json:"wards"`
}

// PeriodCount holds admissions and discharges within one period bucket.
type PeriodCount struct {
	Period     time.Time `json:"period"`
	Admitted   int       `json:"admitted"`
	Discharged int       `json:"discharged"`
}

type CreateWardRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type CreateRoomRequest struct {
	WardID   *uuid.UUID `json:"ward_id"`
	Name     string     `json:"name"`
	BedCount int        `json:"bed_count"`
}

type AdmitRequest struct {
	PatientID *uuid.UUID `json:"patient_id"`
	BedID     *uuid.UUID `json:"bed_id"`
	Reason    *string    `json:"reason"`
}

type DischargeRequest struct {
	Notes *string `json:"discharge_notes"`
}
