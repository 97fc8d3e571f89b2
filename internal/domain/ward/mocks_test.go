package ward

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/pkg/apperr"
)

// serialTx runs each transaction under one mutex, standing in for the row
// locks the database takes.
type serialTx struct{ mu sync.Mutex }

func (t *serialTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

type memRepo struct {
	mu         sync.Mutex
	now        func() time.Time
	wards      map[uuid.UUID]*Ward
	rooms      map[uuid.UUID]*Room
	beds       map[uuid.UUID]*Bed
	admissions map[uuid.UUID]*Admission
	names      map[uuid.UUID]string
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		now:        now,
		wards:      map[uuid.UUID]*Ward{},
		rooms:      map[uuid.UUID]*Room{},
		beds:       map[uuid.UUID]*Bed{},
		admissions: map[uuid.UUID]*Admission{},
		names:      map[uuid.UUID]string{},
	}
}

func (m *memRepo) CreateWard(_ context.Context, w *Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.wards {
		if strings.EqualFold(existing.Name, w.Name) {
			return apperr.Conflict("a ward named %q already exists", w.Name)
		}
	}
	w.ID = uuid.New()
	w.CreatedAt = m.now()
	cp := *w
	m.wards[w.ID] = &cp
	return nil
}

func (m *memRepo) wardStats(w *Ward) *Ward {
	cp := *w
	for _, r := range m.rooms {
		if r.WardID != w.ID {
			continue
		}
		cp.RoomCount++
		for _, b := range m.beds {
			if b.RoomID == r.ID {
				cp.TotalBeds++
				if b.IsOccupied {
					cp.OccupiedBeds++
				}
			}
		}
	}
	return &cp
}

func (m *memRepo) GetWard(_ context.Context, id uuid.UUID) (*Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward not found")
	}
	return m.wardStats(w), nil
}

func (m *memRepo) ListWards(_ context.Context) ([]*Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ward
	for _, w := range m.wards {
		out = append(out, m.wardStats(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) CreateRoom(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rooms {
		if existing.WardID == r.WardID && strings.EqualFold(existing.Name, r.Name) {
			return apperr.Conflict("room %q already exists in this ward", r.Name)
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = m.now()
	r.Beds = nil
	for n := 1; n <= r.BedCount; n++ {
		b := &Bed{ID: uuid.New(), RoomID: r.ID, Number: n}
		m.beds[b.ID] = b
		cp := *b
		r.Beds = append(r.Beds, &cp)
	}
	cp := *r
	m.rooms[r.ID] = &cp
	return nil
}

func (m *memRepo) LockBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed not found")
	}
	cp := *b
	return &cp, nil
}

func (m *memRepo) SetBedPatient(_ context.Context, bedID uuid.UUID, patientID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if patientID != nil {
		for _, b := range m.beds {
			if b.ID != bedID && b.PatientID != nil && *b.PatientID == *patientID {
				return apperr.Conflict("patient already occupies a bed")
			}
		}
	}
	b, ok := m.beds[bedID]
	if !ok {
		return apperr.NotFound("bed not found")
	}
	b.PatientID = patientID
	b.IsOccupied = patientID != nil
	return nil
}

func (m *memRepo) BedLayout(_ context.Context) ([]*BedSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BedSlot
	for _, w := range m.wards {
		hasRoom := false
		for _, r := range m.rooms {
			if r.WardID != w.ID {
				continue
			}
			hasRoom = true
			for _, b := range m.beds {
				if b.RoomID != r.ID {
					continue
				}
				roomID, roomName, bedID, number := r.ID, r.Name, b.ID, b.Number
				sl := &BedSlot{WardID: w.ID, WardName: w.Name, RoomID: &roomID, RoomName: &roomName,
					BedID: &bedID, BedNumber: &number, Occupied: b.IsOccupied}
				if b.PatientID != nil {
					name := m.names[*b.PatientID]
					sl.PatientName = &name
				}
				out = append(out, sl)
			}
		}
		if !hasRoom {
			out = append(out, &BedSlot{WardID: w.ID, WardName: w.Name})
		}
	}
	return out, nil
}

func (m *memRepo) BedCounts(_ context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occupied := 0
	for _, b := range m.beds {
		if b.IsOccupied {
			occupied++
		}
	}
	return len(m.beds), occupied, nil
}

func (m *memRepo) CreateAdmission(_ context.Context, a *Admission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.admissions {
		if !existing.Open() {
			continue
		}
		if existing.PatientID == a.PatientID {
			return apperr.Conflict("patient is already admitted")
		}
		if existing.BedID == a.BedID {
			return apperr.Conflict("bed is already occupied")
		}
	}
	a.ID = uuid.New()
	a.AdmittedAt = m.now()
	cp := *a
	m.admissions[a.ID] = &cp
	return nil
}

func (m *memRepo) hydrate(a *Admission) *Admission {
	cp := *a
	cp.PatientName = m.names[a.PatientID]
	if b, ok := m.beds[a.BedID]; ok {
		cp.BedNumber = b.Number
		if r, ok := m.rooms[b.RoomID]; ok {
			cp.RoomName = r.Name
			if w, ok := m.wards[r.WardID]; ok {
				cp.WardName = w.Name
			}
		}
	}
	return &cp
}

func (m *memRepo) GetAdmission(_ context.Context, id uuid.UUID) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission not found")
	}
	return m.hydrate(a), nil
}

func (m *memRepo) LockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return m.GetAdmission(ctx, id)
}

func (m *memRepo) OpenAdmissionFor(_ context.Context, patientID uuid.UUID) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admissions {
		if a.PatientID == patientID && a.Open() {
			return m.hydrate(a), nil
		}
	}
	return nil, apperr.NotFound("admission not found")
}

func (m *memRepo) CloseAdmission(_ context.Context, id, by uuid.UUID, notes *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admissions[id]
	if !ok || !a.Open() {
		return apperr.Conflict("patient has already been discharged")
	}
	now := m.now()
	a.DischargedAt = &now
	a.DischargedBy = &by
	a.DischargeNotes = notes
	return nil
}

func (m *memRepo) ListAdmissions(_ context.Context, f AdmissionFilter) ([]*Admission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Admission
	for _, a := range m.admissions {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Open != nil && a.Open() != *f.Open {
			continue
		}
		out = append(out, m.hydrate(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.After(out[j].AdmittedAt) })
	total := len(out)
	if f.Offset < len(out) {
		out = out[f.Offset:]
	} else {
		out = nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func truncate(t time.Time, unit string) time.Time {
	t = t.UTC()
	switch unit {
	case "week":
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func (m *memRepo) PeriodCounts(_ context.Context, unit string, discharged bool, since time.Time) (map[time.Time]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[time.Time]int{}
	for _, a := range m.admissions {
		at := a.AdmittedAt
		if discharged {
			if a.DischargedAt == nil {
				continue
			}
			at = *a.DischargedAt
		}
		if at.Before(since) {
			continue
		}
		out[truncate(at, unit)]++
	}
	return out, nil
}

type memDirectory struct {
	users map[uuid.UUID]*accounts.User
}

func (d *memDirectory) GetUser(_ context.Context, id uuid.UUID) (*accounts.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

type recordingTracker struct {
	mu      sync.Mutex
	actions []string
}

func (t *recordingTracker) Track(_ context.Context, _ uuid.UUID, action, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, action)
}
