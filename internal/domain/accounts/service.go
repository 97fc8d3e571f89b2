package accounts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/email"
	"github.com/hms/hms/pkg/apperr"
)

// Mailer queues templated email.
type Mailer interface {
	Send(templateID, to string, data map[string]string)
}

// Tracker records audit activities.
type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

type Service struct {
	users       UserRepository
	departments DepartmentRepository
	sessions    SessionRepository
	codes       CodeRepository
	tx          db.Transactor
	tokens      *auth.TokenIssuer
	mailer      Mailer
	tracker     Tracker
	codeTTL     time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

type Deps struct {
	Users       UserRepository
	Departments DepartmentRepository
	Sessions    SessionRepository
	Codes       CodeRepository
	Tx          db.Transactor
	Tokens      *auth.TokenIssuer
	Mailer      Mailer
	Tracker     Tracker
	CodeTTL     time.Duration
	Logger      zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		users:       d.Users,
		departments: d.Departments,
		sessions:    d.Sessions,
		codes:       d.Codes,
		tx:          d.Tx,
		tokens:      d.Tokens,
		mailer:      d.Mailer,
		tracker:     d.Tracker,
		codeTTL:     d.CodeTTL,
		now:         time.Now,
		logger:      d.Logger,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validatePasswordPair(fields map[string]string, key, password, confirm string) {
	switch {
	case password == "":
		fields[key] = "This field is required."
	case len(password) < auth.MinPasswordLength:
		fields[key] = fmt.Sprintf("Password must be at least %d characters.", auth.MinPasswordLength)
	case password != confirm:
		fields[key] = "Passwords do not match."
	}
}

// -- Registration and verification --

// Register creates an inactive account and emails a verification code.
// Self-registration only creates patients; staff roles are assigned by an
// administrator.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	fields := map[string]string{}
	if req.Email == "" {
		fields["email"] = "This field is required."
	} else if !validEmail(req.Email) {
		fields["email"] = "Enter a valid email address."
	}
	if req.FirstName == "" {
		fields["first_name"] = "This field is required."
	}
	if req.LastName == "" {
		fields["last_name"] = "This field is required."
	}
	validatePasswordPair(fields, "password", req.Password, req.Confirmation())
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = auth.RolePatient
	}
	if !auth.ValidRole(role) {
		return nil, apperr.ValidationFields(map[string]string{
			"role": fmt.Sprintf("Invalid role %q. Available roles: %s", role, strings.Join(auth.AllRoles, ", ")),
		})
	}
	if role != auth.RolePatient {
		return nil, apperr.Forbidden("only patients can self-register; staff accounts are created by an administrator")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	u := &User{
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
		PasswordHash: hash,
	}

	var code string
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		code, err = s.issueCode(ctx, u.ID, PurposeVerify)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sendCode(email.TemplateVerificationCode, u, code)
	s.tracker.Track(ctx, u.ID, "register", "Registered "+u.Email)
	return u, nil
}

func (s *Service) issueCode(ctx context.Context, userID uuid.UUID, purpose string) (string, error) {
	code, err := auth.GenerateCode(6)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if err := s.codes.Upsert(ctx, &VerificationCode{UserID: userID, Purpose: purpose, Code: code}); err != nil {
		return "", err
	}
	return code, nil
}

func (s *Service) sendCode(template string, u *User, code string) {
	s.mailer.Send(template, u.Email, map[string]string{
		"first_name": u.FirstName,
		"code":       code,
		"ttl":        fmt.Sprintf("%d seconds", int(s.codeTTL.Seconds())),
	})
}

// checkCode validates a code and deletes it once it is expired. It does not
// consume the code; see consumeCode.
func (s *Service) checkCode(ctx context.Context, userID uuid.UUID, purpose, code string) error {
	vc, err := s.codes.Get(ctx, userID, purpose)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.Validation("no active code, request a new one")
	}
	if err != nil {
		return err
	}
	if s.expired(vc) {
		if err := s.codes.Delete(ctx, userID, purpose); err != nil {
			s.logger.Warn().Err(err).Msg("delete expired code")
		}
		return apperr.Validation("code has expired, request a new one")
	}
	if strings.TrimSpace(code) != vc.Code {
		return apperr.Validation("invalid code")
	}
	return nil
}

// consumeCode removes the code inside the caller's transaction. Only one of
// several requests presenting the same code gets past it.
func (s *Service) consumeCode(ctx context.Context, userID uuid.UUID, purpose, code string) error {
	vc, err := s.codes.Consume(ctx, userID, purpose, strings.TrimSpace(code))
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.Validation("invalid code")
	}
	if err != nil {
		return err
	}
	if s.expired(vc) {
		return apperr.Validation("code has expired, request a new one")
	}
	return nil
}

func (s *Service) expired(vc *VerificationCode) bool {
	return s.now().Sub(vc.CreatedAt) > s.codeTTL
}

// RegenerateCode replaces the verification code of an inactive account.
func (s *Service) RegenerateCode(ctx context.Context, emailAddr string) error {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		return err
	}
	if u.IsActive {
		return apperr.Validation("account is already verified")
	}
	code, err := s.issueCode(ctx, u.ID, PurposeVerify)
	if err != nil {
		return err
	}
	s.sendCode(email.TemplateVerificationCode, u, code)
	return nil
}

// VerifyCode activates the account when the code matches and is fresh.
func (s *Service) VerifyCode(ctx context.Context, emailAddr, code string) (*User, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		return nil, err
	}
	if u.IsActive {
		return nil, apperr.Validation("account is already verified")
	}
	if err := s.checkCode(ctx, u.ID, PurposeVerify, code); err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.consumeCode(ctx, u.ID, PurposeVerify, code); err != nil {
			return err
		}
		return s.users.SetActive(ctx, u.ID, true)
	})
	if err != nil {
		return nil, err
	}
	u.IsActive = true

	s.mailer.Send(email.TemplateAccountVerified, u.Email, map[string]string{"first_name": u.FirstName})
	s.tracker.Track(ctx, u.ID, "verify_account", "Verified "+u.Email)
	return u, nil
}

// -- Login and sessions --

// Login revokes every existing session of the user and issues a new token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	emailAddr := normalizeEmail(req.Email)
	if emailAddr == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, emailAddr)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		s.tracker.Track(ctx, u.ID, "login_failed", "Invalid password for "+u.Email)
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if !u.IsActive {
		return nil, apperr.Forbidden("account not verified")
	}

	sess := &Session{UserID: u.ID, ExpiresAt: s.now().Add(s.tokens.TTL())}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.sessions.DeleteForUser(ctx, u.ID); err != nil {
			return err
		}
		return s.sessions.Create(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	token, exp, err := s.tokens.Issue(u.ID, sess.ID, u.Email, u.Role)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.tracker.Track(ctx, u.ID, "login", "Logged in "+u.Email)
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// Logout deletes every session of the user.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.sessions.DeleteForUser(ctx, userID); err != nil {
		return err
	}
	s.tracker.Track(ctx, userID, "logout", "Logged out")
	return nil
}

// SessionActive implements auth.SessionChecker.
func (s *Service) SessionActive(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return s.sessions.Active(ctx, sessionID)
}

// -- Passwords --

func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		return err
	}
	code, err := s.issueCode(ctx, u.ID, PurposeReset)
	if err != nil {
		return err
	}
	s.sendCode(email.TemplatePasswordReset, u, code)
	return nil
}

// ResetPassword sets a new password and revokes all sessions.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	fields := map[string]string{}
	if normalizeEmail(req.Email) == "" {
		fields["email"] = "This field is required."
	}
	if strings.TrimSpace(req.Code) == "" {
		fields["code"] = "This field is required."
	}
	validatePasswordPair(fields, "new_password", req.NewPassword, req.ConfirmPassword)
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}

	u, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return err
	}
	if err := s.checkCode(ctx, u.ID, PurposeReset, req.Code); err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.consumeCode(ctx, u.ID, PurposeReset, req.Code); err != nil {
			return err
		}
		if err := s.users.SetPassword(ctx, u.ID, hash); err != nil {
			return err
		}
		_, err := s.sessions.DeleteForUser(ctx, u.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.tracker.Track(ctx, u.ID, "reset_password", "Password reset for "+u.Email)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) error {
	fields := map[string]string{}
	if req.OldPassword == "" {
		fields["old_password"] = "This field is required."
	}
	validatePasswordPair(fields, "new_password", req.NewPassword, req.ConfirmPassword)
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(u.PasswordHash, req.OldPassword); err != nil {
		return apperr.ValidationFields(map[string]string{"old_password": "Old password is incorrect."})
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.users.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.tracker.Track(ctx, userID, "change_password", "Password changed")
	return nil
}

// -- Profile and directory --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) GetUserByEmail(ctx context.Context, emailAddr string) (*User, error) {
	return s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
}

// UserExists reports whether an account with the email exists.
func (s *Service) UserExists(ctx context.Context, emailAddr string) (bool, error) {
	_, err := s.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) ActiveByRole(ctx context.Context, role string) ([]*User, error) {
	return s.users.ListActiveByRole(ctx, role)
}

func (s *Service) NursesInDepartmentOf(ctx context.Context, doctorID uuid.UUID) ([]*User, error) {
	return s.users.ListNursesInDepartmentOf(ctx, doctorID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req UpdateProfileRequest) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Profile == nil {
		u.Profile = &Profile{}
	}
	p := u.Profile

	fields := map[string]string{}
	if req.FirstName != nil {
		if v := strings.TrimSpace(*req.FirstName); v == "" {
			fields["first_name"] = "This field may not be blank."
		} else {
			u.FirstName = v
		}
	}
	if req.LastName != nil {
		if v := strings.TrimSpace(*req.LastName); v == "" {
			fields["last_name"] = "This field may not be blank."
		} else {
			u.LastName = v
		}
	}
	if req.PhoneNumber != nil {
		if len(*req.PhoneNumber) > 20 {
			fields["phone_number"] = "Ensure this field has no more than 20 characters."
		}
		p.PhoneNumber = req.PhoneNumber
	}
	if req.Address != nil {
		p.Address = req.Address
	}
	if req.DateOfBirth != nil {
		if *req.DateOfBirth == "" {
			p.DateOfBirth = nil
		} else if dob, err := time.Parse("2006-01-02", *req.DateOfBirth); err != nil {
			fields["date_of_birth"] = "Date has wrong format. Use YYYY-MM-DD."
		} else if dob.After(s.now()) {
			fields["date_of_birth"] = "Date of birth cannot be in the future."
		} else {
			p.DateOfBirth = &dob
		}
	}
	if req.Gender != nil {
		g := strings.ToLower(*req.Gender)
		if !validGenders[g] {
			fields["gender"] = "Must be one of male, female, other."
		}
		p.Gender = &g
	}
	if req.Specialization != nil {
		p.Specialization = req.Specialization
	}
	if req.DepartmentID != nil {
		if _, err := s.departments.GetByID(ctx, *req.DepartmentID); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				fields["department_id"] = "Department does not exist."
			} else {
				return nil, err
			}
		}
		p.DepartmentID = req.DepartmentID
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, userID, "update_profile", "Profile updated")
	return s.users.GetByID(ctx, userID)
}

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	items, err := s.departments.List(ctx)
	if items == nil && err == nil {
		items = []*Department{}
	}
	return items, err
}

func (s *Service) CreateDepartment(ctx context.Context, actorID uuid.UUID, req CreateDepartmentRequest) (*Department, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.ValidationFields(map[string]string{"name": "This field is required."})
	}
	d := &Department{Name: name, Description: req.Description}
	if err := s.departments.Create(ctx, d); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_department", "Created department "+name)
	return d, nil
}

func (s *Service) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]*User, error) {
	items, err := s.users.ListDoctors(ctx, departmentID)
	if items == nil && err == nil {
		items = []*User{}
	}
	return items, err
}

// -- Administration --

func (s *Service) ListNonSuperusers(ctx context.Context, f UserFilter) ([]*User, int, error) {
	if f.Role != "" && !auth.ValidRole(f.Role) {
		return nil, 0, apperr.Validation("invalid role %q", f.Role)
	}
	items, total, err := s.users.ListNonSuperusers(ctx, f)
	if items == nil && err == nil {
		items = []*User{}
	}
	return items, total, err
}

// UpdateUserRole assigns a role. Every non-patient role is a staff role.
// Superuser accounts are not modified through this path.
func (s *Service) UpdateUserRole(ctx context.Context, actorID, userID uuid.UUID, role string) (*User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !auth.ValidRole(role) {
		return nil, apperr.ValidationFields(map[string]string{
			"role": fmt.Sprintf("Invalid role %q. Available roles: %s", role, strings.Join(auth.AllRoles, ", ")),
		})
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsSuperuser {
		return nil, apperr.Forbidden("cannot change the role of a superuser")
	}

	if err := s.users.SetRole(ctx, userID, role, role != auth.RolePatient); err != nil {
		return nil, err
	}
	// the role is embedded in issued tokens
	if _, err := s.sessions.DeleteForUser(ctx, userID); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "update_user_role", fmt.Sprintf("Changed role of %s from %q to %q", u.Email, u.Role, role))

	u.Role = role
	u.IsStaff = role != auth.RolePatient
	return u, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]string, error) {
	return s.users.ListRoles(ctx)
}

// SeedRoles inserts any missing role rows and returns how many were added.
func (s *Service) SeedRoles(ctx context.Context) (int64, error) {
	return s.users.EnsureRoles(ctx, auth.AllRoles)
}

// CreateAdmin creates an active superuser with the admin role.
func (s *Service) CreateAdmin(ctx context.Context, emailAddr, firstName, lastName, password string) (*User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if !validEmail(emailAddr) {
		return nil, apperr.Validation("invalid email %q", emailAddr)
	}
	if len(password) < auth.MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	u := &User{
		Email:        emailAddr,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         auth.RoleAdmin,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      true,
		IsSuperuser:  true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
