package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
	UserRolesKey contextKey = "user_roles"
	SessionIDKey contextKey = "session_id"
)

// SessionChecker reports whether a session is still live. Logout and
// re-login delete session rows, which revokes outstanding tokens.
type SessionChecker interface {
	SessionActive(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type JWTConfig struct {
	Tokens   *TokenIssuer
	Sessions SessionChecker
	// Skipper bypasses authentication for public routes.
	Skipper func(c echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !isTokenScheme(parts[0]) || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := cfg.Tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			sessionID := uuid.MustParse(claims.ID)
			if cfg.Sessions != nil {
				active, err := cfg.Sessions.SessionActive(c.Request().Context(), sessionID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "session lookup failed").SetInternal(err)
				}
				if !active {
					return echo.NewHTTPError(http.StatusUnauthorized, "session expired or logged out")
				}
			}

			userID := uuid.MustParse(claims.Subject)
			ctx := WithIdentity(c.Request().Context(), userID, claims.Email, claims.Roles...)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("user_id", claims.Subject)

			return next(c)
		}
	}
}

// isTokenScheme accepts "Bearer" and the "Token" scheme older clients send.
func isTokenScheme(s string) bool {
	return strings.EqualFold(s, "bearer") || strings.EqualFold(s, "token")
}

// WithIdentity returns a context carrying the authenticated user.
func WithIdentity(ctx context.Context, userID uuid.UUID, email string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserEmailKey, email)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	return ctx
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	uid, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return uid
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func SessionIDFromContext(ctx context.Context) uuid.UUID {
	sid, _ := ctx.Value(SessionIDKey).(uuid.UUID)
	return sid
}

// HasRole reports whether the user in ctx holds any of roles. Admin holds all.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, r := range roles {
			if has == r {
				return true
			}
		}
	}
	return false
}
