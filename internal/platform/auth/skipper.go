package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: infrastructure endpoints and login.
var publicPaths = map[string]bool{
	"/health":            true,
	"/metrics":           true,
	"/api/v1/auth/login": true,
}

// optionalPaths accept anonymous requests but still honour a bearer token.
// Registration is open for patients and doctors; creating an admin needs an
// admin token.
var optionalPaths = map[string]bool{
	"/api/v1/auth/register": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// OptionalAuth returns true for routes where credentials are optional.
func OptionalAuth(c echo.Context) bool {
	return optionalPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
