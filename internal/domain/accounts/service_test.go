package accounts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/email"
	"github.com/hms/hms/pkg/apperr"
)

type fixture struct {
	svc     *Service
	store   *memStore
	mailer  *recordingMailer
	tracker *recordingTracker
	tokens  *auth.TokenIssuer
}

func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store:   store,
		mailer:  &recordingMailer{},
		tracker: &recordingTracker{},
		tokens:  auth.NewTokenIssuer([]byte("accounts-test-key-accounts-test-key"), time.Hour),
	}
	f.svc = NewService(Deps{
		Users:       memUsers{s: store},
		Departments: memDepartments{s: store},
		Sessions:    memSessions{s: store},
		Codes:       memCodes{s: store, now: time.Now},
		Tx:          passTx{},
		Tokens:      f.tokens,
		Mailer:      f.mailer,
		Tracker:     f.tracker,
		CodeTTL:     10 * time.Minute,
		Logger:      zerolog.Nop(),
	})
	return f
}

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Email:                "  Jane.Doe@Example.com ",
		FirstName:            "Jane",
		LastName:             "Doe",
		Password:             "s3cret-pass",
		PasswordConfirmation: "s3cret-pass",
	}
}

// activeUser registers and verifies a patient.
func (f *fixture) activeUser(t *testing.T) *User {
	t.Helper()
	ctx := context.Background()
	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, u.Email, f.mailer.last().Data["code"])
	require.NoError(t, err)
	return u
}

func TestRegister_CreatesInactivePatientAndSendsCode(t *testing.T) {
	f := newFixture()

	u, err := f.svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	assert.Equal(t, "jane.doe@example.com", u.Email)
	assert.Equal(t, auth.RolePatient, u.Role)
	assert.False(t, u.IsActive)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)

	sent := f.mailer.last()
	assert.Equal(t, email.TemplateVerificationCode, sent.Template)
	assert.Equal(t, u.Email, sent.To)
	assert.Len(t, sent.Data["code"], 6)
	assert.Contains(t, f.tracker.actions, "register")
}

func TestRegister_AcceptsPassword2(t *testing.T) {
	f := newFixture()
	req := validRegistration()
	req.PasswordConfirmation = ""
	req.Password2 = "s3cret-pass"

	_, err := f.svc.Register(context.Background(), req)
	require.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(r *RegisterRequest)
		field string
	}{
		{"missing email", func(r *RegisterRequest) { r.Email = "" }, "email"},
		{"bad email", func(r *RegisterRequest) { r.Email = "not-an-email" }, "email"},
		{"missing first name", func(r *RegisterRequest) { r.FirstName = " " }, "first_name"},
		{"short password", func(r *RegisterRequest) {
			r.Password, r.PasswordConfirmation = "short", "short"
		}, "password"},
		{"mismatch", func(r *RegisterRequest) { r.PasswordConfirmation = "different-pass" }, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := validRegistration()
			tt.mut(&req)

			_, err := f.svc.Register(context.Background(), req)
			ae, ok := apperr.As(err)
			require.True(t, ok, "expected apperr, got %v", err)
			assert.Equal(t, apperr.KindValidation, ae.Kind)
			assert.Contains(t, ae.Fields, tt.field)
		})
	}
}

func TestRegister_RejectsStaffRoles(t *testing.T) {
	f := newFixture()
	req := validRegistration()
	req.Role = auth.RoleDoctor

	_, err := f.svc.Register(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	req.Role = "wizard"
	_, err = f.svc.Register(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), validRegistration())
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestVerifyCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, u.Email, "000000x")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	verified, err := f.svc.VerifyCode(ctx, u.Email, f.mailer.last().Data["code"])
	require.NoError(t, err)
	assert.True(t, verified.IsActive)
	assert.Equal(t, email.TemplateAccountVerified, f.mailer.last().Template)

	_, err = f.svc.VerifyCode(ctx, u.Email, "123456")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "already verified")
}

func TestVerifyCode_Expired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	code := f.mailer.last().Data["code"]

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = f.svc.VerifyCode(ctx, u.Email, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	// the expired code is gone
	_, err = f.svc.VerifyCode(ctx, u.Email, code)
	assert.Contains(t, err.Error(), "no active code")
}

func TestVerifyCode_TTLBoundary(t *testing.T) {
	f := newFixture()
	f.svc.codeTTL = 60 * time.Second
	ctx := context.Background()

	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	assert.Equal(t, "60 seconds", f.mailer.last().Data["ttl"])

	f.svc.now = func() time.Time { return time.Now().Add(61 * time.Second) }
	_, err = f.svc.VerifyCode(ctx, u.Email, f.mailer.last().Data["code"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.Empty(t, f.store.codes, "expired code is deleted")

	require.NoError(t, f.svc.RegenerateCode(ctx, u.Email))
	f.svc.now = func() time.Time { return time.Now().Add(59 * time.Second) }
	verified, err := f.svc.VerifyCode(ctx, u.Email, f.mailer.last().Data["code"])
	require.NoError(t, err)
	assert.True(t, verified.IsActive)
	assert.Empty(t, f.store.codes)
}

func TestRegenerateCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	require.NoError(t, f.svc.RegenerateCode(ctx, "JANE.DOE@example.com"))
	assert.Len(t, f.mailer.sent, 2)

	_, err = f.svc.VerifyCode(ctx, u.Email, f.mailer.last().Data["code"])
	require.NoError(t, err)

	err = f.svc.RegenerateCode(ctx, u.Email)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = f.svc.RegenerateCode(ctx, "nobody@example.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLogin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)

	res, err := f.svc.Login(ctx, LoginRequest{Email: "Jane.Doe@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)

	claims, err := f.tokens.Parse(res.Token)
	require.NoError(t, err)
	sessionID, err := uuid.Parse(claims.ID)
	require.NoError(t, err)

	active, err := f.svc.SessionActive(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, active)

	// a second login revokes the first session
	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret-pass"})
	require.NoError(t, err)
	active, _ = f.svc.SessionActive(ctx, sessionID)
	assert.False(t, active)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: "whatever1"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	u, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret-pass"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "unverified account")

	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong-pass"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Contains(t, f.tracker.actions, "login_failed")

	_, err = f.svc.Login(ctx, LoginRequest{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestLogout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	_, err := f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret-pass"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, u.ID))
	assert.Empty(t, f.store.sessions)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	_, err := f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret-pass"})
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, u.Email))
	sent := f.mailer.last()
	assert.Equal(t, email.TemplatePasswordReset, sent.Template)

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{
		Email: u.Email, Code: sent.Data["code"], NewPassword: "brand-new-pass", ConfirmPassword: "other-pass",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{
		Email: u.Email, Code: sent.Data["code"], NewPassword: "brand-new-pass", ConfirmPassword: "brand-new-pass",
	})
	require.NoError(t, err)
	assert.Empty(t, f.store.sessions, "reset revokes sessions")

	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "brand-new-pass"})
	require.NoError(t, err)

	// the code is single use
	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{
		Email: u.Email, Code: sent.Data["code"], NewPassword: "another-pass", ConfirmPassword: "another-pass",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestResetPassword_ConcurrentSameCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	require.NoError(t, f.svc.ForgotPassword(ctx, u.Email))
	code := f.mailer.last().Data["code"]

	const callers = 4
	gate := gatedCodes{
		CodeRepository: f.svc.codes,
		arrived:        make(chan struct{}, callers),
		release:        make(chan struct{}),
	}
	f.svc.codes = gate

	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		pass := fmt.Sprintf("new-pass-%d", i)
		go func() {
			errs <- f.svc.ResetPassword(ctx, ResetPasswordRequest{
				Email: u.Email, Code: code, NewPassword: pass, ConfirmPassword: pass,
			})
		}()
	}
	for i := 0; i < callers; i++ {
		<-gate.arrived
	}
	close(gate.release)

	var ok, rejected int
	for i := 0; i < callers; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindValidation):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, rejected)
	assert.Empty(t, f.store.codes)
}

func TestChangePassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)

	err := f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{
		OldPassword: "wrong-pass", NewPassword: "next-pass-1", ConfirmPassword: "next-pass-1",
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, ae.Fields, "old_password")

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{
		OldPassword: "s3cret-pass", NewPassword: "next-pass-1", ConfirmPassword: "next-pass-1",
	}))
	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "next-pass-1"})
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	dept, err := f.svc.CreateDepartment(ctx, uuid.New(), CreateDepartmentRequest{Name: "Cardiology"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{
		FirstName:    strPtr("Janet"),
		PhoneNumber:  strPtr("+15550100"),
		DateOfBirth:  strPtr("1990-04-12"),
		Gender:       strPtr("Female"),
		DepartmentID: &dept.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Janet", updated.FirstName)
	assert.Equal(t, "Doe", updated.LastName)
	require.NotNil(t, updated.Profile.DateOfBirth)
	assert.Equal(t, 1990, updated.Profile.DateOfBirth.Year())
	assert.Equal(t, "female", *updated.Profile.Gender)
	assert.Equal(t, dept.ID, *updated.Profile.DepartmentID)
}

func TestUpdateProfile_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	missing := uuid.New()
	future := time.Now().AddDate(1, 0, 0).Format("2006-01-02")

	_, err := f.svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{
		FirstName:    strPtr(""),
		DateOfBirth:  strPtr(future),
		Gender:       strPtr("robot"),
		DepartmentID: &missing,
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	for _, field := range []string{"first_name", "date_of_birth", "gender", "department_id"} {
		assert.Contains(t, ae.Fields, field)
	}
}

func TestDepartments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateDepartment(ctx, uuid.New(), CreateDepartmentRequest{Name: " "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.CreateDepartment(ctx, uuid.New(), CreateDepartmentRequest{Name: "Radiology"})
	require.NoError(t, err)
	_, err = f.svc.CreateDepartment(ctx, uuid.New(), CreateDepartmentRequest{Name: "radiology"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	items, err := f.svc.ListDepartments(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestListDepartments_EmptyIsNotNil(t *testing.T) {
	items, err := newFixture().svc.ListDepartments(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
}

func TestUpdateUserRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)
	_, err := f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret-pass"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateUserRole(ctx, uuid.New(), u.ID, "Nurse")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleNurse, updated.Role)
	assert.True(t, updated.IsStaff)
	assert.Empty(t, f.store.sessions, "role change revokes sessions")

	nurses, err := f.svc.ActiveByRole(ctx, auth.RoleNurse)
	require.NoError(t, err)
	assert.Len(t, nurses, 1)

	back, err := f.svc.UpdateUserRole(ctx, uuid.New(), u.ID, auth.RolePatient)
	require.NoError(t, err)
	assert.False(t, back.IsStaff)

	_, err = f.svc.UpdateUserRole(ctx, uuid.New(), u.ID, "janitor")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateUserRole_Superuser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	admin, err := f.svc.CreateAdmin(ctx, "root@hms.test", "Root", "Admin", "admin-pass-1")
	require.NoError(t, err)
	assert.True(t, admin.IsSuperuser)
	assert.True(t, admin.IsActive)

	_, err = f.svc.UpdateUserRole(ctx, uuid.New(), admin.ID, auth.RoleDoctor)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	users, total, err := f.svc.ListNonSuperusers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, users)
}

func TestListDoctorsAndNurses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cardio, err := f.svc.CreateDepartment(ctx, uuid.New(), CreateDepartmentRequest{Name: "Cardiology"})
	require.NoError(t, err)

	mk := func(emailAddr, role string, dept *uuid.UUID) *User {
		u := &User{Email: emailAddr, FirstName: "X", LastName: "Y", Role: role, IsActive: true}
		require.NoError(t, memUsers{s: f.store}.Create(ctx, u))
		u.Profile.DepartmentID = dept
		require.NoError(t, memUsers{s: f.store}.UpdateProfile(ctx, u))
		return u
	}
	doc := mk("doc@hms.test", auth.RoleDoctor, &cardio.ID)
	mk("doc2@hms.test", auth.RoleDoctor, nil)
	mk("nurse@hms.test", auth.RoleNurse, &cardio.ID)
	mk("nurse2@hms.test", auth.RoleNurse, nil)

	all, err := f.svc.ListDoctors(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inDept, err := f.svc.ListDoctors(ctx, &cardio.ID)
	require.NoError(t, err)
	require.Len(t, inDept, 1)
	assert.Equal(t, doc.ID, inDept[0].ID)

	nurses, err := f.svc.NursesInDepartmentOf(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, nurses, 1)
	assert.Equal(t, "nurse@hms.test", nurses[0].Email)
}

func TestSeedRoles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, err := f.svc.SeedRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(auth.AllRoles)), n)

	n, err = f.svc.SeedRoles(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	roles, err := f.svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(auth.AllRoles))
}

func TestUserExists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.activeUser(t)

	ok, err := f.svc.UserExists(ctx, u.Email)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.UserExists(ctx, "nobody@hms.test")
	require.NoError(t, err)
	assert.False(t, ok)
}
