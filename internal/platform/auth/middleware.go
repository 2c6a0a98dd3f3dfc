package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerResolver loads the current role of an authenticated user. It returns
// an error when the account no longer exists or has been deactivated.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, id uuid.UUID) (access.Caller, error)
}

type JWTConfig struct {
	Tokens   *TokenIssuer
	Resolver CallerResolver
	// Skipper bypasses authentication entirely.
	Skipper func(c echo.Context) bool
	// Optional lets a request through without credentials, but still
	// validates a bearer token when one is sent.
	Optional func(c echo.Context) bool
}

// JWTMiddleware authenticates the bearer token and stores the resolved
// Caller on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				if cfg.Optional != nil && cfg.Optional(c) {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := cfg.Tokens.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			caller := access.Caller{ID: id, Role: access.Role(claims.Role)}
			if cfg.Resolver != nil {
				caller, err = cfg.Resolver.ResolveCaller(c.Request().Context(), id)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "account is not active")
				}
			}

			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller access.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the caller stored on ctx, if any.
func CallerFromContext(ctx context.Context) (access.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(access.Caller)
	return caller, ok
}

// CallerFrom returns the authenticated caller of the request or an
// unauthorized error.
func CallerFrom(c echo.Context) (access.Caller, error) {
	caller, ok := CallerFromContext(c.Request().Context())
	if !ok {
		return access.Caller{}, apperr.Unauthorized("authentication required")
	}
	return caller, nil
}
