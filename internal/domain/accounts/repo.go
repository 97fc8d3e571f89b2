package accounts

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	// Create inserts the user and an empty profile.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	SetRole(ctx context.Context, id uuid.UUID, role string, staff bool) error
	UpdateProfile(ctx context.Context, u *User) error
	ListActiveByRole(ctx context.Context, role string) ([]*User, error)
	ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]*User, error)
	// ListNursesInDepartmentOf returns active nurses sharing the doctor's department.
	ListNursesInDepartmentOf(ctx context.Context, doctorID uuid.UUID) ([]*User, error)
	ListNonSuperusers(ctx context.Context, f UserFilter) ([]*User, int, error)
	ListRoles(ctx context.Context) ([]string, error)
	EnsureRoles(ctx context.Context, roles []string) (int64, error)
}

type DepartmentRepository interface {
	Create(ctx context.Context, d *Department) error
	GetByID(ctx context.Context, id uuid.UUID) (*Department, error)
	List(ctx context.Context) ([]*Department, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Active(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type CodeRepository interface {
	// Upsert replaces any existing code for the same user and purpose.
	Upsert(ctx context.Context, c *VerificationCode) error
	Get(ctx context.Context, userID uuid.UUID, purpose string) (*VerificationCode, error)
	Delete(ctx context.Context, userID uuid.UUID, purpose string) error
	// Consume deletes the code only when it matches and returns the removed
	// row. A concurrent caller holding the same code gets NotFound.
	Consume(ctx context.Context, userID uuid.UUID, purpose, code string) (*VerificationCode, error)
}
