package laboratory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/pkg/apperr"
)

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memRepo struct {
	mu    sync.Mutex
	clock time.Time
	items map[uuid.UUID]*TestRequest
	names map[uuid.UUID]string
}

func newMemRepo(names map[uuid.UUID]string) *memRepo {
	return &memRepo{
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		items: map[uuid.UUID]*TestRequest{},
		names: names,
	}
}

func (m *memRepo) Create(_ context.Context, t *TestRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[t.PatientID]; !ok {
		return apperr.NotFound("patient not found")
	}
	m.clock = m.clock.Add(time.Minute)
	t.ID = uuid.New()
	t.CreatedAt = m.clock
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *memRepo) view(t *TestRequest) *TestRequest {
	cp := *t
	cp.PatientName = m.names[t.PatientID]
	cp.DoctorName = m.names[t.DoctorID]
	return &cp
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*TestRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("Test request not found.")
	}
	return m.view(t), nil
}

func (m *memRepo) List(_ context.Context, f Filter) ([]*TestRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TestRequest
	for _, t := range m.items {
		if f.PatientID != nil && t.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && t.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status == StatusPending && t.IsCompleted || f.Status == StatusCompleted && !t.IsCompleted {
			continue
		}
		out = append(out, m.view(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Status == StatusPending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, len(out), nil
}

func (m *memRepo) Complete(_ context.Context, id, by uuid.UUID, result string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok || t.IsCompleted {
		return false, nil
	}
	at := m.clock.Add(time.Hour)
	t.Result, t.IsCompleted, t.CompletedBy, t.CompletedAt = &result, true, &by, &at
	return true, nil
}

type fakeAppointments struct {
	items map[uuid.UUID]*appointment.Appointment
}

func (f *fakeAppointments) GetInternal(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := f.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	return a, nil
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

type sent struct {
	title   string
	message string
	to      []notification.Recipient
}

type recordingNotifier struct {
	mu        sync.Mutex
	recorded  []sent
	delivered [][]notification.Recipient
}

func (n *recordingNotifier) Record(_ context.Context, _ *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recorded = append(n.recorded, sent{title: title, message: message, to: to})
	return &notification.Notification{ID: uuid.New(), Title: title, Message: message}, nil
}

func (n *recordingNotifier) Deliver(_ context.Context, to []notification.Recipient) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, to)
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, uuid.UUID, string, string) {}
