package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"tls_portal_go/middleware"
	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityResponse struct {
	ID          string                `json:"id"`
	Email       string                `json:"email"`
	DisplayName string                `json:"displayName"`
	Claims      models.IdentityClaims `json:"claims"`
	LastLoginAt *time.Time            `json:"lastLoginAt,omitempty"`
}

func toIdentityResponse(identity *models.AuthIdentity) identityResponse {
	return identityResponse{
		ID:          identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Claims:      identity.Claims,
		LastLoginAt: identity.LastLoginAt,
	}
}

// Login exchanges credentials for a session token
func (h *Handlers) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return services.InvalidArgument("Email and password are required")
	}

	identity, err := h.auth.Authenticate(c.Request().Context(), req.Email, req.Password, c.RealIP())
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return services.Unauthenticated("Invalid email or password")
	case errors.Is(err, services.ErrIdentityDisabled):
		return services.Unauthenticated("Account is disabled")
	case errors.Is(err, services.ErrAccountLocked):
		return services.PermissionDenied("Account is temporarily locked. Try again later.")
	case err != nil:
		return services.Internal(err, "Login failed")
	}

	token, expiresAt, err := h.auth.IssueToken(identity)
	if err != nil {
		return services.Internal(err, "Login failed")
	}
	middleware.SetSessionCookie(c, token, int(time.Until(expiresAt).Seconds()), h.cfg.IsProduction())

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": expiresAt,
		"identity":  toIdentityResponse(identity),
	})
}

// Logout clears the session cookie; bearer tokens simply expire
func (h *Handlers) Logout(c echo.Context) error {
	middleware.ClearSessionCookie(c, h.cfg.IsProduction())
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated identity and its claims
func (h *Handlers) Me(c echo.Context) error {
	caller := middleware.GetCaller(c)
	if caller == nil {
		return services.Unauthenticated("User must be authenticated")
	}
	identity, err := h.auth.GetIdentity(c.Request().Context(), caller.IdentityID)
	if err != nil {
		return services.Unauthenticated("Invalid or expired session")
	}
	return c.JSON(http.StatusOK, toIdentityResponse(identity))
}

// ForgotPassword always answers 200 so the endpoint cannot reveal which emails exist
func (h *Handlers) ForgotPassword(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" {
		return services.InvalidArgument("Email is required")
	}

	ctx := c.Request().Context()
	token, identity, err := services.RequestPasswordReset(ctx, h.db, h.auth, req.Email)
	if err != nil {
		h.log.Error("Password reset request failed", zap.Error(err))
	}
	if token != nil {
		email, err := h.email.BuildPasswordResetEmail(identity.Email, services.PasswordResetEmailData{
			UserName:  identity.DisplayName,
			ResetLink: h.cfg.AppURL + "/reset-password?token=" + url.QueryEscape(token.Token),
			ExpiresAt: token.ExpiresAt.Format("January 2, 2006 3:04 PM MST"),
		})
		if err != nil {
			h.log.Error("Failed to build password reset email", zap.Error(err))
		} else {
			h.email.SendAsync(email)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "If an account exists for that email, a reset link has been sent.",
	})
}

// ResetPassword sets a new password with a reset token
func (h *Handlers) ResetPassword(c echo.Context) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		return services.InvalidArgument("Token is required")
	}

	if err := services.ResetPassword(c.Request().Context(), h.db, h.auth, req.Token, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password has been reset"})
}
