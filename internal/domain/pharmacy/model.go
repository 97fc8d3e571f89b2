package pharmacy

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/money"
)

// SaleIDLength is the length of a bulk sale id.
const SaleIDLength = 8

type Drug struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Dosage       *string     `json:"dosage"`
	Form         *string     `json:"form"`
	Manufacturer *string     `json:"manufacturer"`
	Quantity     int         `json:"quantity"`
	PriceForEach money.Cents `json:"price_for_each"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DrugRequest creates a drug or, with nil fields left unchanged, updates one.
type DrugRequest struct {
	Name         *string      `json:"name"`
	Dosage       *string      `json:"dosage"`
	Form         *string      `json:"form"`
	Manufacturer *string      `json:"manufacturer"`
	Quantity     *int         `json:"quantity"`
	PriceForEach *money.Cents `json:"price_for_each"`
}

type MedicalRecord struct {
	ID                 uuid.UUID    `json:"id"`
	AppointmentID      *uuid.UUID   `json:"appointment_id"`
	PatientID          uuid.UUID    `json:"patient_id"`
	PatientName        string       `json:"patient_name"`
	DoctorID           uuid.UUID    `json:"doctor_id"`
	DoctorName         string       `json:"doctor_name"`
	Diagnosis          string       `json:"diagnosis"`
	Symptoms           *string      `json:"symptoms"`
	Notes              *string      `json:"notes"`
	IsTreatmentCreated bool         `json:"is_treatment_created"`
	CreatedAt          time.Time    `json:"created_at"`
	Treatments         []*Treatment `json:"treatments"`
}

type Treatment struct {
	ID              uuid.UUID `json:"id"`
	MedicalRecordID uuid.UUID `json:"medical_record_id"`
	DrugID          uuid.UUID `json:"drug_id"`
	DrugName        string    `json:"drug_name"`
	Dosage          *string   `json:"dosage"`
	Frequency       *string   `json:"frequency"`
	Duration        *string   `json:"duration"`
	Quantity        int       `json:"quantity"`
	Instructions    *string   `json:"instructions"`
	SentToPharmacy  bool      `json:"sent_to_pharmacy"`
	CreatedAt       time.Time `json:"created_at"`
}

type Referral struct {
	ID              uuid.UUID    `json:"id"`
	MedicalRecordID uuid.UUID    `json:"medical_record_id"`
	PatientID       uuid.UUID    `json:"patient_id"`
	PatientName     string       `json:"patient_name"`
	ReferredBy      *uuid.UUID   `json:"referred_by"`
	Diagnosis       string       `json:"diagnosis"`
	IsPaymentDone   bool         `json:"is_payment_done"`
	BulkSaleID      *string      `json:"bulk_sale_id"`
	CreatedAt       time.Time    `json:"created_at"`
	Treatments      []*Treatment `json:"treatments"`
}

type DeliveredMedication struct {
	ID          uuid.UUID   `json:"id"`
	ReferralID  *uuid.UUID  `json:"referral_id"`
	TreatmentID *uuid.UUID  `json:"treatment_id"`
	DrugID      uuid.UUID   `json:"drug_id"`
	DrugName    string      `json:"drug_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Cents `json:"unit_price"`
	TotalPrice  money.Cents `json:"total_price"`
	BulkSaleID  string      `json:"bulk_sale_id"`
	DispensedBy *uuid.UUID  `json:"dispensed_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Sale groups the medications dispensed under one bulk sale id.
type Sale struct {
	BulkSaleID string                 `json:"bulk_sale_id"`
	ReferralID *uuid.UUID             `json:"referral_id"`
	Items      []*DeliveredMedication `json:"items"`
	Total      money.Cents            `json:"total"`
	IncomeID   *uuid.UUID             `json:"income_id,omitempty"`
}

type RecordFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Limit     int
	Offset    int
}

// Referral listing states.
const (
	ReferralsPending = "pending"
	ReferralsPaid    = "paid"
	ReferralsAll     = "all"
)

type ReferralFilter struct {
	Status string
	Limit  int
	Offset int
}

type CreateMedicalRecordRequest struct {
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Diagnosis     string     `json:"diagnosis"`
	Symptoms      *string    `json:"symptoms"`
	Notes         *string    `json:"notes"`
}

type CreateTreatmentRequest struct {
	MedicalRecordID *uuid.UUID `json:"medical_record_id"`
	DrugID          *uuid.UUID `json:"drug_id"`
	Dosage          *string    `json:"dosage"`
	Frequency       *string    `json:"frequency"`
	Duration        *string    `json:"duration"`
	Quantity        int        `json:"quantity"`
	Instructions    *string    `json:"instructions"`
}

type LineItem struct {
	DrugID      *uuid.UUID `json:"drug_id"`
	Quantity    int        `json:"quantity"`
	TreatmentID *uuid.UUID `json:"treatment_id"`
}

// DispenseRequest sells drugs either against a referral or, without one,
// to a walk-in customer named by ReceivedFrom.
type DispenseRequest struct {
	ReferralID   *uuid.UUID `json:"referral_id"`
	ReceivedFrom string     `json:"received_from"`
	Items        []LineItem `json:"items"`
}
