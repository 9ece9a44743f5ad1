package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

const (
	// SessionCookieName carries the portal token for browser requests without an Authorization header
	SessionCookieName = "tls_portal_session"
	// ContextKeyCaller is the context key for the authenticated *services.Caller
	ContextKeyCaller = "caller"
)

// TokenVerifier parses session tokens and loads the identity behind them.
// *services.AuthService implements it.
type TokenVerifier interface {
	ParseToken(raw string) (*services.PortalClaims, error)
	GetIdentity(ctx context.Context, identityID string) (*models.AuthIdentity, error)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireAuth verifies the session token and reloads the identity so that
// disabled accounts and changed claims take effect immediately
func RequireAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return services.Unauthenticated("User must be authenticated")
			}

			claims, err := verifier.ParseToken(raw)
			if err != nil {
				return services.Unauthenticated("Invalid or expired session")
			}

			identity, err := verifier.GetIdentity(c.Request().Context(), claims.Subject)
			if errors.Is(err, services.ErrIdentityNotFound) {
				return services.Unauthenticated("Invalid or expired session")
			}
			if err != nil {
				return services.Internal(err, "failed to load session")
			}
			if identity.Disabled {
				return services.Unauthenticated("Account is disabled")
			}

			c.Set(ContextKeyCaller, services.CallerFromIdentity(identity))
			return next(c)
		}
	}
}

// RequireRole is middleware that requires specific roles
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := GetCaller(c)
			if caller == nil {
				return services.Unauthenticated("User must be authenticated")
			}

			for _, role := range roles {
				if caller.Role == role {
					return next(c)
				}
			}
			return services.PermissionDenied("Insufficient permissions")
		}
	}
}

// GetCaller retrieves the authenticated caller from context
func GetCaller(c echo.Context) *services.Caller {
	caller, ok := c.Get(ContextKeyCaller).(*services.Caller)
	if !ok {
		return nil
	}
	return caller
}

// SetSessionCookie stores the token for same-site browser requests
func SetSessionCookie(c echo.Context, token string, maxAge int, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(c echo.Context, secure bool) {
	SetSessionCookie(c, "", -1, secure)
}
