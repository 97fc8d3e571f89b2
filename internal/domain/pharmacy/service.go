package pharmacy

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/finance"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/money"
)

// Appointments is the part of the appointment service a medical record needs.
type Appointments interface {
	GetInternal(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	MarkMedicalHistoryRecorded(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
}

type Directory interface {
	ActiveByRole(ctx context.Context, role string) ([]*accounts.User, error)
}

type Notifier interface {
	Record(ctx context.Context, sender *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error)
	Deliver(ctx context.Context, to []notification.Recipient)
}

// Ledger books sale income.
type Ledger interface {
	RecordSale(ctx context.Context, pharmacistID uuid.UUID, saleID, patient string, amount money.Cents) (*finance.Income, error)
}

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	drugs        DrugRepository
	records      RecordRepository
	referrals    ReferralRepository
	tx           db.Transactor
	appointments Appointments
	directory    Directory
	notifier     Notifier
	ledger       Ledger
	tracker      Tracker
	logger       zerolog.Logger
	newSaleID    func() (string, error)
}

type Deps struct {
	Drugs        DrugRepository
	Records      RecordRepository
	Referrals    ReferralRepository
	Tx           db.Transactor
	Appointments Appointments
	Directory    Directory
	Notifier     Notifier
	Ledger       Ledger
	Tracker      Tracker
	Logger       zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		drugs:        d.Drugs,
		records:      d.Records,
		referrals:    d.Referrals,
		tx:           d.Tx,
		appointments: d.Appointments,
		directory:    d.Directory,
		notifier:     d.Notifier,
		ledger:       d.Ledger,
		tracker:      d.Tracker,
		logger:       d.Logger,
		newSaleID:    GenerateSaleID,
	}
}

const saleAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSaleID returns a random bulk sale id of uppercase letters and digits.
func GenerateSaleID() (string, error) {
	b := make([]byte, SaleIDLength)
	max := big.NewInt(int64(len(saleAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate sale id: %w", err)
		}
		b[i] = saleAlphabet[n.Int64()]
	}
	return string(b), nil
}

// -- Drugs --

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func applyDrug(d *Drug, req DrugRequest) map[string]string {
	fields := map[string]string{}
	if req.Name != nil {
		d.Name = strings.TrimSpace(*req.Name)
	}
	if d.Name == "" {
		fields["name"] = "This field is required."
	}
	if req.Dosage != nil {
		d.Dosage = trimmed(req.Dosage)
	}
	if req.Form != nil {
		d.Form = trimmed(req.Form)
	}
	if req.Manufacturer != nil {
		d.Manufacturer = trimmed(req.Manufacturer)
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			fields["quantity"] = "Quantity cannot be negative."
		}
		d.Quantity = *req.Quantity
	}
	if req.PriceForEach != nil {
		if *req.PriceForEach < 0 {
			fields["price_for_each"] = "Price cannot be negative."
		}
		d.PriceForEach = *req.PriceForEach
	}
	return fields
}

func (s *Service) CreateDrug(ctx context.Context, actorID uuid.UUID, req DrugRequest) (*Drug, error) {
	d := &Drug{}
	fields := applyDrug(d, req)
	if req.Quantity == nil {
		fields["quantity"] = "This field is required."
	}
	if req.PriceForEach == nil {
		fields["price_for_each"] = "This field is required."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}
	if err := s.drugs.Create(ctx, d); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_drug", fmt.Sprintf("Created drug '%s'", d.Name))
	return d, nil
}

// UpdateDrug applies a partial update.
func (s *Service) UpdateDrug(ctx context.Context, actorID, id uuid.UUID, req DrugRequest) (*Drug, error) {
	var d *Drug
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.drugs.Lock(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		if d = locked[id]; d == nil {
			return apperr.NotFound("Drug not found.")
		}
		if fields := applyDrug(d, req); len(fields) > 0 {
			return apperr.ValidationFields(fields)
		}
		return s.drugs.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "update_drug", fmt.Sprintf("Updated drug '%s'", d.Name))
	return d, nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.Get(ctx, id)
}

func (s *Service) ListDrugs(ctx context.Context, search string, limit, offset int) ([]*Drug, int, error) {
	items, total, err := s.drugs.List(ctx, strings.TrimSpace(search), limit, offset)
	if items == nil && err == nil {
		items = []*Drug{}
	}
	return items, total, err
}

// -- Medical records and treatments --

// CreateMedicalRecord files a record for the doctor's appointment and sets
// the appointment's medical history flag in the same transaction.
func (s *Service) CreateMedicalRecord(ctx context.Context, actor appointment.Actor, req CreateMedicalRecordRequest) (*MedicalRecord, error) {
	fields := map[string]string{}
	if req.AppointmentID == nil {
		fields["appointment_id"] = "This field is required."
	}
	diagnosis := strings.TrimSpace(req.Diagnosis)
	if diagnosis == "" {
		fields["diagnosis"] = "This field is required."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	var rec *MedicalRecord
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetInternal(ctx, *req.AppointmentID)
		if err != nil {
			return err
		}
		if a.DoctorID != actor.ID {
			return apperr.Forbidden("only the appointment's doctor can file its medical record")
		}
		m := &MedicalRecord{
			AppointmentID: &a.ID,
			PatientID:     a.PatientID,
			DoctorID:      a.DoctorID,
			Diagnosis:     diagnosis,
			Symptoms:      trimmed(req.Symptoms),
			Notes:         trimmed(req.Notes),
		}
		if err := s.records.Create(ctx, m); err != nil {
			return err
		}
		if _, err := s.appointments.MarkMedicalHistoryRecorded(ctx, actor, a.ID); err != nil {
			return err
		}
		rec, err = s.records.Get(ctx, m.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actor.ID, "create_medical_record",
		fmt.Sprintf("Recorded diagnosis for %s", rec.PatientName))
	return rec, nil
}

func ownRecord(m *MedicalRecord, actor appointment.Actor) error {
	if m.DoctorID != actor.ID {
		return apperr.Forbidden("only the record's doctor can do this")
	}
	return nil
}

func (s *Service) CreateTreatment(ctx context.Context, actor appointment.Actor, req CreateTreatmentRequest) (*Treatment, error) {
	fields := map[string]string{}
	if req.MedicalRecordID == nil {
		fields["medical_record_id"] = "This field is required."
	}
	if req.DrugID == nil {
		fields["drug_id"] = "This field is required."
	}
	if req.Quantity <= 0 {
		fields["quantity"] = "Quantity must be greater than zero."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	t := &Treatment{
		MedicalRecordID: *req.MedicalRecordID,
		DrugID:          *req.DrugID,
		Dosage:          trimmed(req.Dosage),
		Frequency:       trimmed(req.Frequency),
		Duration:        trimmed(req.Duration),
		Quantity:        req.Quantity,
		Instructions:    trimmed(req.Instructions),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.records.Get(ctx, t.MedicalRecordID)
		if err != nil {
			return err
		}
		if err := ownRecord(m, actor); err != nil {
			return err
		}
		for _, existing := range m.Treatments {
			if existing.SentToPharmacy {
				return apperr.Conflict("medical record has already been sent to the pharmacy")
			}
		}
		drug, err := s.drugs.Get(ctx, t.DrugID)
		if err != nil {
			return err
		}
		t.DrugName = drug.Name
		if err := s.records.CreateTreatment(ctx, t); err != nil {
			return err
		}
		return s.records.SetTreatmentCreated(ctx, m.ID)
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actor.ID, "create_treatment",
		fmt.Sprintf("Prescribed %d x %s", t.Quantity, t.DrugName))
	return t, nil
}

func canViewRecords(actor appointment.Actor, patientID uuid.UUID) bool {
	switch actor.Role {
	case auth.RoleDoctor, auth.RoleNurse, auth.RolePharmacist, auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return actor.ID == patientID
	}
	return false
}

func (s *Service) GetMedicalRecord(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*MedicalRecord, error) {
	m, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canViewRecords(actor, m.PatientID) {
		return nil, apperr.Forbidden("you cannot view this medical record")
	}
	return m, nil
}

// ListMedicalRecords scopes patients to their own records and doctors to the
// records they wrote unless a patient is named.
func (s *Service) ListMedicalRecords(ctx context.Context, actor appointment.Actor, f RecordFilter) ([]*MedicalRecord, int, error) {
	switch actor.Role {
	case auth.RolePatient:
		if f.PatientID != nil && *f.PatientID != actor.ID {
			return nil, 0, apperr.Forbidden("you cannot view these medical records")
		}
		f.PatientID = &actor.ID
	case auth.RoleDoctor:
		if f.PatientID == nil {
			f.DoctorID = &actor.ID
		}
	case auth.RoleNurse, auth.RolePharmacist, auth.RoleAdmin:
	default:
		return nil, 0, apperr.Forbidden("you cannot view medical records")
	}
	items, total, err := s.records.List(ctx, f)
	if items == nil && err == nil {
		items = []*MedicalRecord{}
	}
	return items, total, err
}

// -- Referrals --

// SendToPharmacy refers a record's treatments to the pharmacy and notifies
// the active pharmacists.
func (s *Service) SendToPharmacy(ctx context.Context, actor appointment.Actor, recordID uuid.UUID) (*Referral, error) {
	var (
		ref *Referral
		to  []notification.Recipient
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.records.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := ownRecord(m, actor); err != nil {
			return err
		}
		if !m.IsTreatmentCreated || len(m.Treatments) == 0 {
			return apperr.Conflict("medical record has no treatments to send")
		}
		r := &Referral{MedicalRecordID: m.ID, PatientID: m.PatientID, ReferredBy: &actor.ID}
		if err := s.referrals.Create(ctx, r); err != nil {
			return err
		}
		if _, err := s.records.MarkSentToPharmacy(ctx, m.ID); err != nil {
			return err
		}

		pharmacists, err := s.directory.ActiveByRole(ctx, auth.RolePharmacist)
		if err != nil {
			return err
		}
		for _, p := range pharmacists {
			to = append(to, notification.Recipient{ID: p.ID, Email: p.Email})
		}
		if len(to) > 0 {
			msg := fmt.Sprintf("Dr. %s referred %s to the pharmacy with %d prescribed item(s).",
				m.DoctorName, m.PatientName, len(m.Treatments))
			if _, err := s.notifier.Record(ctx, &actor.ID, "New Pharmacy Referral", msg, to); err != nil {
				return err
			}
		}
		ref, err = s.referrals.Get(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Deliver(ctx, to)
	s.tracker.Track(ctx, actor.ID, "send_to_pharmacy", fmt.Sprintf("Referred %s to the pharmacy", ref.PatientName))
	return ref, nil
}

func (s *Service) ListReferrals(ctx context.Context, f ReferralFilter) ([]*Referral, int, error) {
	switch f.Status {
	case "":
		f.Status = ReferralsPending
	case ReferralsPending, ReferralsPaid, ReferralsAll:
	default:
		return nil, 0, apperr.Validation("status must be one of pending, paid, all")
	}
	items, total, err := s.referrals.List(ctx, f)
	if items == nil && err == nil {
		items = []*Referral{}
	}
	return items, total, err
}

func (s *Service) GetReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.referrals.Get(ctx, id)
}

// -- Sales --

func validateItems(items []LineItem) error {
	if len(items) == 0 {
		return apperr.ValidationFields(map[string]string{"items": "At least one item is required."})
	}
	fields := map[string]string{}
	for i, it := range items {
		if it.DrugID == nil {
			fields[fmt.Sprintf("items[%d].drug_id", i)] = "This field is required."
		}
		if it.Quantity <= 0 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "Quantity must be greater than zero."
		}
	}
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}
	return nil
}

// DispenseAndPay sells the requested drugs in one transaction: it locks the
// drug rows, takes stock, records the delivered medications, settles the
// referral and books the income. Any failure leaves nothing behind.
func (s *Service) DispenseAndPay(ctx context.Context, actorID uuid.UUID, req DispenseRequest) (*Sale, error) {
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	customer := strings.TrimSpace(req.ReceivedFrom)
	if req.ReferralID == nil && customer == "" {
		return nil, apperr.ValidationFields(map[string]string{"received_from": "Required for sales without a referral."})
	}

	saleID, err := s.newSaleID()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sale := &Sale{BulkSaleID: saleID, ReferralID: req.ReferralID}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if req.ReferralID != nil {
			ref, err := s.referrals.Lock(ctx, *req.ReferralID)
			if err != nil {
				return err
			}
			if ref.IsPaymentDone {
				return apperr.Conflict("referral has already been paid")
			}
			prescribed := map[uuid.UUID]bool{}
			for _, t := range ref.Treatments {
				prescribed[t.ID] = true
			}
			for _, it := range req.Items {
				if it.TreatmentID != nil && !prescribed[*it.TreatmentID] {
					return apperr.Validation("treatment %s is not part of this referral", *it.TreatmentID)
				}
			}
			if customer == "" {
				customer = ref.PatientName
			}
		}

		need := map[uuid.UUID]int{}
		var ids []uuid.UUID
		for _, it := range req.Items {
			if _, seen := need[*it.DrugID]; !seen {
				ids = append(ids, *it.DrugID)
			}
			need[*it.DrugID] += it.Quantity
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		drugs, err := s.drugs.Lock(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			d, ok := drugs[id]
			if !ok {
				return apperr.NotFound("Drug %s not found.", id)
			}
			if d.Quantity < need[id] {
				return apperr.Conflict("insufficient stock for %s: %d available, %d requested", d.Name, d.Quantity, need[id])
			}
		}
		for _, id := range ids {
			if err := s.drugs.Take(ctx, id, need[id]); err != nil {
				return err
			}
		}

		for _, it := range req.Items {
			d := drugs[*it.DrugID]
			line := &DeliveredMedication{
				ReferralID:  req.ReferralID,
				TreatmentID: it.TreatmentID,
				DrugID:      d.ID,
				DrugName:    d.Name,
				Quantity:    it.Quantity,
				UnitPrice:   d.PriceForEach,
				TotalPrice:  d.PriceForEach * money.Cents(it.Quantity),
				BulkSaleID:  saleID,
				DispensedBy: &actorID,
			}
			sale.Items = append(sale.Items, line)
			sale.Total += line.TotalPrice
		}
		if err := s.referrals.Deliver(ctx, sale.Items); err != nil {
			return err
		}

		if req.ReferralID != nil {
			paid, err := s.referrals.MarkPaid(ctx, *req.ReferralID, saleID)
			if err != nil {
				return err
			}
			if !paid {
				return apperr.Conflict("referral has already been paid")
			}
		}

		if sale.Total > 0 {
			in, err := s.ledger.RecordSale(ctx, actorID, saleID, customer, sale.Total)
			if err != nil {
				return err
			}
			sale.IncomeID = &in.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "dispense_and_pay",
		fmt.Sprintf("Sale %s to %s: %d item(s), total %s", saleID, customer, len(sale.Items), sale.Total))
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*Sale, error) {
	saleID = strings.ToUpper(strings.TrimSpace(saleID))
	items, err := s.referrals.SaleItems(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.NotFound("Sale not found.")
	}
	sale := &Sale{BulkSaleID: saleID, Items: items, ReferralID: items[0].ReferralID}
	for _, it := range items {
		sale.Total += it.TotalPrice
	}
	return sale, nil
}
