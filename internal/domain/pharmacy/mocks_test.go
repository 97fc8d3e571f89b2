package pharmacy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/finance"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/money"
)

// memStore keeps every table of the package by value so a transaction can
// snapshot and restore it.
type memStore struct {
	txMu       sync.Mutex
	drugs      map[uuid.UUID]Drug
	records    map[uuid.UUID]MedicalRecord
	treatments []Treatment
	referrals  map[uuid.UUID]Referral
	delivered  []DeliveredMedication
	incomes    []finance.Income
	names      map[uuid.UUID]string
}

func newMemStore() *memStore {
	return &memStore{
		drugs:     map[uuid.UUID]Drug{},
		records:   map[uuid.UUID]MedicalRecord{},
		referrals: map[uuid.UUID]Referral{},
		names:     map[uuid.UUID]string{},
	}
}

type snapshot struct {
	drugs      map[uuid.UUID]Drug
	records    map[uuid.UUID]MedicalRecord
	treatments []Treatment
	referrals  map[uuid.UUID]Referral
	delivered  []DeliveredMedication
	incomes    []finance.Income
}

func (s *memStore) snapshot() snapshot {
	snap := snapshot{
		drugs:      map[uuid.UUID]Drug{},
		records:    map[uuid.UUID]MedicalRecord{},
		referrals:  map[uuid.UUID]Referral{},
		treatments: append([]Treatment(nil), s.treatments...),
		delivered:  append([]DeliveredMedication(nil), s.delivered...),
		incomes:    append([]finance.Income(nil), s.incomes...),
	}
	for k, v := range s.drugs {
		snap.drugs[k] = v
	}
	for k, v := range s.records {
		snap.records[k] = v
	}
	for k, v := range s.referrals {
		snap.referrals[k] = v
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.drugs, s.records, s.referrals = snap.drugs, snap.records, snap.referrals
	s.treatments, s.delivered, s.incomes = snap.treatments, snap.delivered, snap.incomes
}

// rollbackTx undoes every change made by a failed transaction.
type rollbackTx struct{ s *memStore }

func (t rollbackTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()
	snap := t.s.snapshot()
	if err := fn(ctx); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

// -- drugs --

type memDrugs struct{ s *memStore }

func (m memDrugs) Create(_ context.Context, d *Drug) error {
	d.ID = uuid.New()
	d.CreatedAt, d.UpdatedAt = time.Now(), time.Now()
	m.s.drugs[d.ID] = *d
	return nil
}

func (m memDrugs) Update(_ context.Context, d *Drug) error {
	if _, ok := m.s.drugs[d.ID]; !ok {
		return apperr.NotFound("Drug not found.")
	}
	d.UpdatedAt = time.Now()
	m.s.drugs[d.ID] = *d
	return nil
}

func (m memDrugs) Get(_ context.Context, id uuid.UUID) (*Drug, error) {
	d, ok := m.s.drugs[id]
	if !ok {
		return nil, apperr.NotFound("Drug not found.")
	}
	return &d, nil
}

func (m memDrugs) List(_ context.Context, search string, limit, offset int) ([]*Drug, int, error) {
	var out []*Drug
	for _, d := range m.s.drugs {
		if search == "" || strings.Contains(strings.ToLower(d.Name), strings.ToLower(search)) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m memDrugs) Lock(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error) {
	out := map[uuid.UUID]*Drug{}
	for _, id := range ids {
		if d, ok := m.s.drugs[id]; ok {
			out[id] = &d
		}
	}
	return out, nil
}

func (m memDrugs) Take(_ context.Context, id uuid.UUID, qty int) error {
	d, ok := m.s.drugs[id]
	if !ok || d.Quantity < qty {
		return apperr.Conflict("insufficient stock")
	}
	d.Quantity -= qty
	m.s.drugs[id] = d
	return nil
}

// -- records --

type memRecords struct{ s *memStore }

func (m memRecords) hydrate(r MedicalRecord) *MedicalRecord {
	r.PatientName, r.DoctorName = m.s.names[r.PatientID], m.s.names[r.DoctorID]
	r.Treatments = []*Treatment{}
	for _, t := range m.s.treatments {
		if t.MedicalRecordID == r.ID {
			t := t
			t.DrugName = m.s.drugs[t.DrugID].Name
			r.Treatments = append(r.Treatments, &t)
		}
	}
	return &r
}

func (m memRecords) Create(_ context.Context, r *MedicalRecord) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.s.records[r.ID] = *r
	return nil
}

func (m memRecords) Get(_ context.Context, id uuid.UUID) (*MedicalRecord, error) {
	r, ok := m.s.records[id]
	if !ok {
		return nil, apperr.NotFound("Medical record not found.")
	}
	return m.hydrate(r), nil
}

func (m memRecords) List(_ context.Context, f RecordFilter) ([]*MedicalRecord, int, error) {
	var out []*MedicalRecord
	for _, r := range m.s.records {
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && r.DoctorID != *f.DoctorID {
			continue
		}
		out = append(out, m.hydrate(r))
	}
	return out, len(out), nil
}

func (m memRecords) SetTreatmentCreated(_ context.Context, id uuid.UUID) error {
	r := m.s.records[id]
	r.IsTreatmentCreated = true
	m.s.records[id] = r
	return nil
}

func (m memRecords) CreateTreatment(_ context.Context, t *Treatment) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.s.treatments = append(m.s.treatments, *t)
	return nil
}

func (m memRecords) MarkSentToPharmacy(_ context.Context, recordID uuid.UUID) (int64, error) {
	var n int64
	for i := range m.s.treatments {
		if m.s.treatments[i].MedicalRecordID == recordID && !m.s.treatments[i].SentToPharmacy {
			m.s.treatments[i].SentToPharmacy = true
			n++
		}
	}
	return n, nil
}

// -- referrals --

type memReferrals struct{ s *memStore }

func (m memReferrals) hydrate(r Referral) *Referral {
	rec := memRecords(m).hydrate(m.s.records[r.MedicalRecordID])
	r.PatientName, r.Diagnosis, r.Treatments = rec.PatientName, rec.Diagnosis, rec.Treatments
	return &r
}

func (m memReferrals) Create(_ context.Context, r *Referral) error {
	for _, e := range m.s.referrals {
		if e.MedicalRecordID == r.MedicalRecordID {
			return apperr.Conflict("medical record has already been sent to the pharmacy")
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.s.referrals[r.ID] = *r
	return nil
}

func (m memReferrals) Get(_ context.Context, id uuid.UUID) (*Referral, error) {
	r, ok := m.s.referrals[id]
	if !ok {
		return nil, apperr.NotFound("Referral not found.")
	}
	return m.hydrate(r), nil
}

func (m memReferrals) Lock(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return m.Get(ctx, id)
}

func (m memReferrals) List(_ context.Context, f ReferralFilter) ([]*Referral, int, error) {
	var out []*Referral
	for _, r := range m.s.referrals {
		if (f.Status == ReferralsPending && r.IsPaymentDone) || (f.Status == ReferralsPaid && !r.IsPaymentDone) {
			continue
		}
		out = append(out, m.hydrate(r))
	}
	return out, len(out), nil
}

func (m memReferrals) MarkPaid(_ context.Context, id uuid.UUID, saleID string) (bool, error) {
	r, ok := m.s.referrals[id]
	if !ok || r.IsPaymentDone {
		return false, nil
	}
	r.IsPaymentDone, r.BulkSaleID = true, &saleID
	m.s.referrals[id] = r
	return true, nil
}

func (m memReferrals) Deliver(_ context.Context, items []*DeliveredMedication) error {
	for _, it := range items {
		it.ID = uuid.New()
		it.CreatedAt = time.Now()
		m.s.delivered = append(m.s.delivered, *it)
	}
	return nil
}

func (m memReferrals) SaleItems(_ context.Context, saleID string) ([]*DeliveredMedication, error) {
	var out []*DeliveredMedication
	for _, it := range m.s.delivered {
		if it.BulkSaleID == saleID {
			it := it
			out = append(out, &it)
		}
	}
	return out, nil
}

// -- collaborators --

type memLedger struct {
	s    *memStore
	fail bool
}

func (l *memLedger) RecordSale(_ context.Context, pharmacistID uuid.UUID, saleID, patient string, amount money.Cents) (*finance.Income, error) {
	if l.fail {
		return nil, apperr.Internal(context.DeadlineExceeded)
	}
	reason := "Pharmacy sale " + saleID
	in := finance.Income{ID: uuid.New(), Reason: &reason, HandledBy: &pharmacistID, ReceivedFrom: patient, Amount: amount}
	l.s.incomes = append(l.s.incomes, in)
	return &in, nil
}

type fakeAppointments struct {
	items  map[uuid.UUID]*appointment.Appointment
	marked []uuid.UUID
}

func (f *fakeAppointments) GetInternal(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := f.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	c := *a
	return &c, nil
}

func (f *fakeAppointments) MarkMedicalHistoryRecorded(_ context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a := f.items[id]
	if !a.IsDoctorWithPatient {
		return nil, apperr.Conflict("doctor is not with the patient")
	}
	a.IsMedicalHistoryRecorded = true
	f.marked = append(f.marked, id)
	c := *a
	return &c, nil
}

type memDirectory struct {
	pharmacists []*accounts.User
}

func (d *memDirectory) ActiveByRole(_ context.Context, role string) ([]*accounts.User, error) {
	return d.pharmacists, nil
}

type sent struct {
	title, message string
	to             []notification.Recipient
}

type recordingNotifier struct {
	recorded  []sent
	delivered [][]notification.Recipient
}

func (n *recordingNotifier) Record(_ context.Context, _ *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error) {
	n.recorded = append(n.recorded, sent{title: title, message: message, to: to})
	return &notification.Notification{ID: uuid.New(), Title: title, Message: message}, nil
}

func (n *recordingNotifier) Deliver(_ context.Context, to []notification.Recipient) {
	n.delivered = append(n.delivered, to)
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, uuid.UUID, string, string) {}
