package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/apperr"
)

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*User
	depts    map[uuid.UUID]*Department
	sessions map[uuid.UUID]*Session
	codes    map[string]*VerificationCode
	roles    map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]*User{},
		depts:    map[uuid.UUID]*Department{},
		sessions: map[uuid.UUID]*Session{},
		codes:    map[string]*VerificationCode{},
		roles:    map[string]bool{},
	}
}

func copyUser(u *User) *User {
	c := *u
	if u.Profile != nil {
		p := *u.Profile
		c.Profile = &p
	}
	return &c
}

// users

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.users {
		if e.Email == u.Email {
			return apperr.Conflict("a user with that email already exists")
		}
	}
	u.ID = uuid.New()
	u.DateJoined = time.Now()
	u.Profile = &Profile{}
	m.s.users[u.ID] = copyUser(u)
	return nil
}

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return copyUser(u), nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (m memUsers) update(id uuid.UUID, fn func(u *User)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	fn(u)
	return nil
}

func (m memUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return m.update(id, func(u *User) { u.IsActive = active })
}

func (m memUsers) SetPassword(_ context.Context, id uuid.UUID, hash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = hash })
}

func (m memUsers) SetRole(_ context.Context, id uuid.UUID, role string, staff bool) error {
	return m.update(id, func(u *User) { u.Role, u.IsStaff = role, staff })
}

func (m memUsers) UpdateProfile(_ context.Context, in *User) error {
	return m.update(in.ID, func(u *User) {
		u.FirstName, u.LastName = in.FirstName, in.LastName
		p := *in.Profile
		u.Profile = &p
	})
}

func (m memUsers) filter(keep func(u *User) bool) []*User {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*User
	for _, u := range m.s.users {
		if keep(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (m memUsers) ListActiveByRole(_ context.Context, role string) ([]*User, error) {
	return m.filter(func(u *User) bool { return u.IsActive && u.Role == role }), nil
}

func (m memUsers) ListDoctors(_ context.Context, dept *uuid.UUID) ([]*User, error) {
	return m.filter(func(u *User) bool {
		if u.Role != "doctor" || !u.IsActive {
			return false
		}
		return dept == nil || (u.Profile.DepartmentID != nil && *u.Profile.DepartmentID == *dept)
	}), nil
}

func (m memUsers) ListNursesInDepartmentOf(ctx context.Context, doctorID uuid.UUID) ([]*User, error) {
	doc, err := m.GetByID(ctx, doctorID)
	if err != nil || doc.Profile.DepartmentID == nil {
		return nil, err
	}
	dept := *doc.Profile.DepartmentID
	return m.filter(func(u *User) bool {
		return u.Role == "nurse" && u.IsActive && u.Profile.DepartmentID != nil && *u.Profile.DepartmentID == dept
	}), nil
}

func (m memUsers) ListNonSuperusers(_ context.Context, f UserFilter) ([]*User, int, error) {
	out := m.filter(func(u *User) bool {
		if u.IsSuperuser {
			return false
		}
		if f.Role != "" && u.Role != f.Role {
			return false
		}
		return f.Search == "" || strings.Contains(u.Email, f.Search)
	})
	return out, len(out), nil
}

func (m memUsers) ListRoles(_ context.Context) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []string
	for r := range m.s.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (m memUsers) EnsureRoles(_ context.Context, roles []string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, r := range roles {
		if !m.s.roles[r] {
			m.s.roles[r] = true
			n++
		}
	}
	return n, nil
}

// departments

type memDepartments struct{ s *memStore }

func (m memDepartments) Create(_ context.Context, d *Department) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.depts {
		if strings.EqualFold(e.Name, d.Name) {
			return apperr.Conflict("department %q already exists", d.Name)
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	c := *d
	m.s.depts[d.ID] = &c
	return nil
}

func (m memDepartments) GetByID(_ context.Context, id uuid.UUID) (*Department, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.depts[id]
	if !ok {
		return nil, apperr.NotFound("department not found")
	}
	c := *d
	return &c, nil
}

func (m memDepartments) List(_ context.Context) ([]*Department, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Department
	for _, d := range m.s.depts {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// sessions

type memSessions struct{ s *memStore }

func (m memSessions) Create(_ context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess.ID = uuid.New()
	sess.CreatedAt = time.Now()
	c := *sess
	m.s.sessions[sess.ID] = &c
	return nil
}

func (m memSessions) Active(_ context.Context, id uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	return ok && sess.ExpiresAt.After(time.Now()), nil
}

func (m memSessions) DeleteForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for id, sess := range m.s.sessions {
		if sess.UserID == userID {
			delete(m.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// codes

type memCodes struct {
	s   *memStore
	now func() time.Time
}

func codeKey(userID uuid.UUID, purpose string) string { return userID.String() + "/" + purpose }

func (m memCodes) Upsert(_ context.Context, c *VerificationCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c.CreatedAt = m.now()
	cp := *c
	m.s.codes[codeKey(c.UserID, c.Purpose)] = &cp
	return nil
}

func (m memCodes) Get(_ context.Context, userID uuid.UUID, purpose string) (*VerificationCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.codes[codeKey(userID, purpose)]
	if !ok {
		return nil, apperr.NotFound("verification code not found")
	}
	cp := *c
	return &cp, nil
}

func (m memCodes) Delete(_ context.Context, userID uuid.UUID, purpose string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.codes, codeKey(userID, purpose))
	return nil
}

func (m memCodes) Consume(_ context.Context, userID uuid.UUID, purpose, code string) (*VerificationCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := codeKey(userID, purpose)
	c, ok := m.s.codes[key]
	if !ok || c.Code != code {
		return nil, apperr.NotFound("verification code not found")
	}
	delete(m.s.codes, key)
	cp := *c
	return &cp, nil
}

// gatedCodes holds every Get until release is closed, so callers pass the
// pre-check together before any of them consumes the code.
type gatedCodes struct {
	CodeRepository
	arrived chan struct{}
	release chan struct{}
}

func (g gatedCodes) Get(ctx context.Context, userID uuid.UUID, purpose string) (*VerificationCode, error) {
	c, err := g.CodeRepository.Get(ctx, userID, purpose)
	g.arrived <- struct{}{}
	<-g.release
	return c, err
}

// collaborators

type sentMail struct {
	Template string
	To       string
	Data     map[string]string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (r *recordingMailer) Send(templateID, to string, data map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{Template: templateID, To: to, Data: data})
}

func (r *recordingMailer) last() sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentMail{}
	}
	return r.sent[len(r.sent)-1]
}

type recordingTracker struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingTracker) Track(_ context.Context, _ uuid.UUID, action, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}
