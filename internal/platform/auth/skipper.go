package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists routes reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":                   true,
	"/health/db":                true,
	"/accounts/register":        true,
	"/accounts/login":           true,
	"/accounts/regenerate-code": true,
	"/accounts/verify-code":     true,
	"/accounts/forgot-password": true,
	"/accounts/reset-password":  true,
	"/ws/notifications/":        true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route path is public.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
