package laboratory

import (
	"time"

	"github.com/google/uuid"
)

type TestRequest struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	DoctorName    string     `json:"doctor_name"`
	TestName      string     `json:"test_name"`
	Notes         *string    `json:"notes"`
	Result        *string    `json:"result"`
	IsCompleted   bool       `json:"is_completed"`
	CompletedBy   *uuid.UUID `json:"completed_by"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Listing states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusAll       = "all"
)

type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

type CreateRequest struct {
	AppointmentID *uuid.UUID `json:"appointment_id"`
	PatientID     *uuid.UUID `json:"patient_id"`
	TestName      string     `json:"test_name"`
	Notes         *string    `json:"notes"`
}

type CompleteRequest struct {
	Result string `json:"result"`
}
