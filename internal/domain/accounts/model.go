package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verification code purposes.
const (
	PurposeVerify = "verify"
	PurposeReset  = "reset"
)

// User is an account. Emails are stored lowercased.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	DateJoined   time.Time `json:"date_joined"`
	Profile      *Profile  `json:"profile,omitempty"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Profile holds the contact and staff details of a user.
type Profile struct {
	PhoneNumber    *string    `json:"phone_number"`
	Address        *string    `json:"address"`
	DateOfBirth    *time.Time `json:"date_of_birth"`
	Gender         *string    `json:"gender"`
	Specialization *string    `json:"specialization"`
	DepartmentID   *uuid.UUID `json:"department_id"`
	DepartmentName *string    `json:"department_name"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Department struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

type VerificationCode struct {
	UserID    uuid.UUID
	Purpose   string
	Code      string
	CreatedAt time.Time
}

// UserFilter narrows the administrative user listing.
type UserFilter struct {
	Role   string
	Search string
	Limit  int
	Offset int
}

type RegisterRequest struct {
	Email                string `json:"email"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Password2            string `json:"password2"`
	Role                 string `json:"role"`
}

// Confirmation returns whichever confirmation field the client sent.
func (r RegisterRequest) Confirmation() string {
	if r.PasswordConfirmation != "" {
		return r.PasswordConfirmation
	}
	return r.Password2
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user_info"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email"`
	Code            string `json:"code"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// UpdateProfileRequest carries a partial update; nil fields are unchanged.
type UpdateProfileRequest struct {
	FirstName      *string    `json:"first_name"`
	LastName       *string    `json:"last_name"`
	PhoneNumber    *string    `json:"phone_number"`
	Address        *string    `json:"address"`
	DateOfBirth    *string    `json:"date_of_birth"`
	Gender         *string    `json:"gender"`
	Specialization *string    `json:"specialization"`
	DepartmentID   *uuid.UUID `json:"department_id"`
}

type CreateDepartmentRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}
