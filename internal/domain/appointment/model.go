package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// DateLayout is the client-facing appointment time format.
const (
	DateLayout = "02-01-2006 15:04"
	DayLayout  = "02-01-2006"
)

// statusRules lists the allowed next statuses for each status.
var statusRules = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCancelled: nil,
	StatusCompleted: nil,
}

func validStatus(s string) bool {
	_, ok := statusRules[s]
	return ok
}

func canTransition(from, to string) bool {
	for _, s := range statusRules[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Flag names a progress column. Progress flags only ever go from false to true.
type Flag string

const (
	FlagPatientAvailable       Flag = "is_patient_available"
	FlagVitalsTaken            Flag = "is_vitals_taken"
	FlagDoctorWithPatient      Flag = "is_doctor_with_patient"
	FlagDoctorDone             Flag = "is_doctor_done_with_patient"
	FlagMedicalHistoryRecorded Flag = "is_medical_history_recorded"
	FlagPatientLeft            Flag = "has_patient_left"
)

// Party is the public view of a participant.
type Party struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (p *Party) FullName() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Appointment struct {
	ID                       uuid.UUID  `json:"id"`
	PatientID                uuid.UUID  `json:"patient_id"`
	DoctorID                 uuid.UUID  `json:"doctor_id"`
	NurseID                  *uuid.UUID `json:"nurse_id"`
	Patient                  *Party     `json:"patient,omitempty"`
	Doctor                   *Party     `json:"doctor,omitempty"`
	Nurse                    *Party     `json:"nurse,omitempty"`
	AppointmentDate          time.Time  `json:"appointment_date"`
	FormattedDate            string     `json:"formatted_date"`
	Reason                   string     `json:"reason"`
	Status                   string     `json:"status"`
	IsPatientAvailable       bool       `json:"is_patient_available"`
	IsVitalsTaken            bool       `json:"is_vitals_taken"`
	IsDoctorWithPatient      bool       `json:"is_doctor_with_patient"`
	IsDoctorDoneWithPatient  bool       `json:"is_doctor_done_with_patient"`
	IsMedicalHistoryRecorded bool       `json:"is_medical_history_recorded"`
	HasPatientLeft           bool       `json:"has_patient_left"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// Has reports whether the progress flag is set.
func (a *Appointment) Has(f Flag) bool {
	switch f {
	case FlagPatientAvailable:
		return a.IsPatientAvailable
	case FlagVitalsTaken:
		return a.IsVitalsTaken
	case FlagDoctorWithPatient:
		return a.IsDoctorWithPatient
	case FlagDoctorDone:
		return a.IsDoctorDoneWithPatient
	case FlagMedicalHistoryRecorded:
		return a.IsMedicalHistoryRecorded
	case FlagPatientLeft:
		return a.HasPatientLeft
	}
	return false
}

// Involves reports whether the user is the patient, doctor or nurse.
func (a *Appointment) Involves(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID || (a.NurseID != nil && *a.NurseID == userID)
}

// FlagUpdate sets one progress flag. NurseID and Status are applied in the
// same statement when set.
type FlagUpdate struct {
	Flag    Flag
	NurseID *uuid.UUID
	Status  string
}

type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	// From and To bound the appointment day, both inclusive.
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
	// Ascending orders by appointment date oldest first.
	Ascending bool
}

type Vital struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	AppointmentID    *uuid.UUID `json:"appointment_id"`
	RecordedBy       *uuid.UUID `json:"recorded_by"`
	RecordedByName   string     `json:"recorded_by_name,omitempty"`
	Temperature      *float64   `json:"temperature"`
	BloodPressure    *string    `json:"blood_pressure"`
	PulseRate        *int       `json:"pulse_rate"`
	RespiratoryRate  *int       `json:"respiratory_rate"`
	Weight           *float64   `json:"weight"`
	Height           *float64   `json:"height"`
	OxygenSaturation *int       `json:"oxygen_saturation"`
	Notes            *string    `json:"notes"`
	RecordedAt       time.Time  `json:"recorded_at"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  string
}

// BookRequest selects the doctor by id, or by first name when no id is given.
type BookRequest struct {
	DoctorID        *uuid.UUID `json:"doctor_id"`
	DoctorFirstName string     `json:"doctor_first_name"`
	AppointmentDate string     `json:"appointment_date"`
	Reason          string     `json:"reason"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type CreateVitalRequest struct {
	PatientID        *uuid.UUID `json:"patient_id"`
	AppointmentID    *uuid.UUID `json:"appointment_id"`
	Temperature      *float64   `json:"temperature"`
	BloodPressure    *string    `json:"blood_pressure"`
	PulseRate        *int       `json:"pulse_rate"`
	RespiratoryRate  *int       `json:"respiratory_rate"`
	Weight           *float64   `json:"weight"`
	Height           *float64   `json:"height"`
	OxygenSaturation *int       `json:"oxygen_saturation"`
	Notes            *string    `json:"notes"`
}
