// Package reporting serves the hospital-wide statistics summary.
package reporting

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/response"
)

// UserCounter counts active users per role.
type UserCounter interface {
	ActiveUsersByRole(ctx context.Context) (map[string]int, error)
}

// BedCounter is satisfied by the ward service.
type BedCounter interface {
	BedCounts(ctx context.Context) (total, occupied int, err error)
}

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

// UserStats keys follow the plural role names shown on the dashboard.
type UserStats struct {
	Patients    int `json:"patients"`
	Doctors     int `json:"doctors"`
	Nurses      int `json:"nurses"`
	Labtechs    int `json:"labtechs"`
	Pharmacists int `json:"pharmacists"`
	Accountants int `json:"accountants"`
	Admins      int `json:"admins"`
}

type BedStats struct {
	Total     int `json:"total"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}

type Statistics struct {
	Users UserStats `json:"users"`
	Beds  BedStats  `json:"beds"`
}

type pgUserCounter struct{ pool *pgxpool.Pool }

func NewUserCounterPG(pool *pgxpool.Pool) UserCounter {
	return &pgUserCounter{pool: pool}
}

func (c *pgUserCounter) ActiveUsersByRole(ctx context.Context) (map[string]int, error) {
	query, args, err := db.Goqu.From("users").
		Select(goqu.C("role"), goqu.COUNT(goqu.Star())).
		Where(goqu.C("is_active").IsTrue(), goqu.C("role").IsNotNull()).
		GroupBy(goqu.C("role")).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build role count query: %w", err)
	}
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

type Service struct {
	users   UserCounter
	beds    BedCounter
	tracker Tracker
}

func NewService(users UserCounter, beds BedCounter, tracker Tracker) *Service {
	return &Service{users: users, beds: beds, tracker: tracker}
}

func (s *Service) Statistics(ctx context.Context, viewer uuid.UUID) (*Statistics, error) {
	counts, err := s.users.ActiveUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	total, occupied, err := s.beds.BedCounts(ctx)
	if err != nil {
		return nil, err
	}
	st := &Statistics{
		Users: UserStats{
			Patients:    counts[auth.RolePatient],
			Doctors:     counts[auth.RoleDoctor],
			Nurses:      counts[auth.RoleNurse],
			Labtechs:    counts[auth.RoleLabTech],
			Pharmacists: counts[auth.RolePharmacist],
			Accountants: counts[auth.RoleAccountant],
			Admins:      counts[auth.RoleAdmin],
		},
		Beds: BedStats{Total: total, Occupied: occupied, Available: total - occupied},
	}
	s.tracker.Track(ctx, viewer, "view_statistics", "Viewed hospital statistics summary")
	return st, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(accountant *echo.Group) {
	accountant.GET("/statistics", h.Statistics, auth.RequireRole(auth.RoleAccountant))
}

func (h *Handler) Statistics(c echo.Context) error {
	ctx := c.Request().Context()
	st, err := h.svc.Statistics(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Statistics retrieved successfully.", st)
}
