package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles a user may hold. A user has at most one.
const (
	RolePatient    = "patient"
	RoleDoctor     = "doctor"
	RoleNurse      = "nurse"
	RoleLabTech    = "labtech"
	RolePharmacist = "pharmacist"
	RoleAccountant = "accountant"
	RoleAdmin      = "admin"
)

// AllRoles lists every role in display order.
var AllRoles = []string{RolePatient, RoleDoctor, RoleNurse, RoleLabTech, RolePharmacist, RoleAccountant, RoleAdmin}

// ValidRole reports whether r names a known role.
func ValidRole(r string) bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
