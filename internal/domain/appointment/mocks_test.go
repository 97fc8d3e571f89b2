package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/pkg/apperr"
)

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
	users *memDirectory
}

func newMemRepo(users *memDirectory) *memRepo {
	return &memRepo{items: map[uuid.UUID]*Appointment{}, users: users}
}

func (m *memRepo) party(id uuid.UUID) *Party {
	u, err := m.users.GetUser(context.Background(), id)
	if err != nil {
		return &Party{ID: id}
	}
	return &Party{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

func (m *memRepo) hydrate(a *Appointment) *Appointment {
	c := *a
	c.Patient, c.Doctor = m.party(a.PatientID), m.party(a.DoctorID)
	if a.NurseID != nil {
		c.Nurse = m.party(*a.NurseID)
	}
	c.FormattedDate = a.AppointmentDate.Format(DateLayout)
	return &c
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.DoctorID == a.DoctorID && e.AppointmentDate.Equal(a.AppointmentDate) {
			return apperr.Conflict("the doctor already has an appointment at that time")
		}
	}
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	c := *a
	m.items[a.ID] = &c
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	return m.hydrate(a), nil
}

func (m *memRepo) List(_ context.Context, f Filter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != nil && a.AppointmentDate.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.AppointmentDate.Before(f.To.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, m.hydrate(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].AppointmentDate.Before(out[j].AppointmentDate)
		}
		return out[i].AppointmentDate.After(out[j].AppointmentDate)
	})
	return out, len(out), nil
}

func (m *memRepo) SetFlag(_ context.Context, id uuid.UUID, u FlagUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Has(u.Flag) {
		return false, nil
	}
	switch u.Flag {
	case FlagPatientAvailable:
		a.IsPatientAvailable = true
	case FlagVitalsTaken:
		a.IsVitalsTaken = true
	case FlagDoctorWithPatient:
		a.IsDoctorWithPatient = true
	case FlagDoctorDone:
		a.IsDoctorDoneWithPatient = true
	case FlagMedicalHistoryRecorded:
		a.IsMedicalHistoryRecorded = true
	case FlagPatientLeft:
		a.HasPatientLeft = true
	}
	if u.NurseID != nil {
		id := *u.NurseID
		a.NurseID = &id
	}
	if u.Status != "" {
		a.Status = u.Status
	}
	return true, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

type memVitals struct {
	mu    sync.Mutex
	items []*Vital
}

func (m *memVitals) Create(_ context.Context, v *Vital) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.RecordedAt = time.Now()
	m.items = append(m.items, v)
	return nil
}

func (m *memVitals) ListForPatient(_ context.Context, patientID uuid.UUID) ([]*Vital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Vital
	for _, v := range m.items {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	return out, nil
}

type memDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*accounts.User
	depts map[uuid.UUID]uuid.UUID
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: map[uuid.UUID]*accounts.User{}, depts: map[uuid.UUID]uuid.UUID{}}
}

func (d *memDirectory) add(email, first, last, role string, dept uuid.UUID) *accounts.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &accounts.User{ID: uuid.New(), Email: email, FirstName: first, LastName: last, Role: role, IsActive: true}
	d.users[u.ID] = u
	if dept != uuid.Nil {
		d.depts[u.ID] = dept
	}
	return u
}

func (d *memDirectory) GetUser(_ context.Context, id uuid.UUID) (*accounts.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

func (d *memDirectory) GetUserByEmail(_ context.Context, email string) (*accounts.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (d *memDirectory) byRole(role string, keep func(u *accounts.User) bool) []*accounts.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*accounts.User
	for _, u := range d.users {
		if u.Role == role && u.IsActive && keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (d *memDirectory) ActiveByRole(_ context.Context, role string) ([]*accounts.User, error) {
	return d.byRole(role, func(*accounts.User) bool { return true }), nil
}

func (d *memDirectory) NursesInDepartmentOf(_ context.Context, doctorID uuid.UUID) ([]*accounts.User, error) {
	d.mu.Lock()
	dept, ok := d.depts[doctorID]
	d.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return d.byRole("nurse", func(u *accounts.User) bool { return d.depts[u.ID] == dept }), nil
}

func (d *memDirectory) ListDoctors(_ context.Context, _ *uuid.UUID) ([]*accounts.User, error) {
	return d.byRole("doctor", func(*accounts.User) bool { return true }), nil
}

type recorded struct {
	Title   string
	Message string
	To      []notification.Recipient
}

type detailPush struct {
	email string
	id    uuid.UUID
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []detailPush
}

func (p *recordingPusher) Detail(_ context.Context, email string, id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, detailPush{email: email, id: id})
}

// take returns the emails pushed since the last call.
func (p *recordingPusher) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	emails := make([]string, 0, len(p.pushes))
	for _, d := range p.pushes {
		emails = append(emails, d.email)
	}
	p.pushes = nil
	return emails
}

type recordingNotifier struct {
	mu        sync.Mutex
	recorded  []recorded
	delivered [][]notification.Recipient
}

func (r *recordingNotifier) Record(_ context.Context, _ *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, recorded{Title: title, Message: message, To: to})
	return &notification.Notification{ID: uuid.New(), Title: title, Message: message}, nil
}

func (r *recordingNotifier) Deliver(_ context.Context, to []notification.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, to)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recorded)
}

func (r *recordingNotifier) last() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded[len(r.recorded)-1]
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, uuid.UUID, string, string) {}
