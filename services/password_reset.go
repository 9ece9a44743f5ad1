package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"tls_portal_go/models"

	"gorm.io/gorm"
)

const (
	// ResetTokenLength is the length of the reset token in bytes
	ResetTokenLength = 32
	// ResetTokenExpiration is how long a requested reset token is valid
	ResetTokenExpiration = 24 * time.Hour
	// WelcomeTokenExpiration is how long the password-set link in a welcome email is valid
	WelcomeTokenExpiration = 7 * 24 * time.Hour
)

// CreateResetToken replaces any outstanding tokens of identity with a fresh one
func CreateResetToken(ctx context.Context, db *gorm.DB, identityID string, ttl time.Duration) (*models.PasswordResetToken, error) {
	tokenBytes := make([]byte, ResetTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	resetToken := &models.PasswordResetToken{
		IdentityID: identityID,
		Token:      base64.URLEncoding.EncodeToString(tokenBytes),
		ExpiresAt:  time.Now().Add(ttl),
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(resetToken).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reset token: %w", err)
	}
	return resetToken, nil
}

// RequestPasswordReset issues a token for email. Unknown or disabled identities
// yield (nil, nil, nil) so callers cannot be used to enumerate accounts.
func RequestPasswordReset(ctx context.Context, db *gorm.DB, auth *AuthService, email string) (*models.PasswordResetToken, *models.AuthIdentity, error) {
	identity, err := auth.GetIdentityByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		auth.audit.Security("PASSWORD_RESET_UNKNOWN", "", "reset requested for unknown email")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if identity.Disabled {
		auth.audit.Security("PASSWORD_RESET_DISABLED", identity.ID, "reset requested for disabled identity")
		return nil, nil, nil
	}

	token, err := CreateResetToken(ctx, db, identity.ID, ResetTokenExpiration)
	if err != nil {
		return nil, nil, err
	}
	auth.audit.Security("PASSWORD_RESET_REQUESTED", identity.ID, "password reset requested")
	return token, identity, nil
}

// ValidateResetToken returns the identity owning a live token
func ValidateResetToken(ctx context.Context, db *gorm.DB, token string) (*models.AuthIdentity, error) {
	var resetToken models.PasswordResetToken
	if err := db.WithContext(ctx).Preload("Identity").Where("token = ?", token).First(&resetToken).Error; err != nil {
		return nil, InvalidArgument("invalid or expired token")
	}

	if resetToken.IsExpired() {
		db.WithContext(ctx).Delete(&resetToken)
		return nil, InvalidArgument("token has expired")
	}

	if resetToken.Identity == nil || resetToken.Identity.Disabled {
		return nil, FailedPrecondition("account is disabled")
	}

	return resetToken.Identity, nil
}

// ResetPassword sets a new password using a valid token and consumes the token
func ResetPassword(ctx context.Context, db *gorm.DB, auth *AuthService, token string, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	identity, err := ValidateResetToken(ctx, db, token)
	if err != nil {
		auth.audit.Security("PASSWORD_RESET_FAILED", "", "reset attempted with invalid token")
		return err
	}

	hashed, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AuthIdentity{}).Where("id = ?", identity.ID).Updates(map[string]interface{}{
			"password":              hashed,
			"failed_login_attempts": 0,
			"lockout_until":         nil,
		}).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if err := tx.Where("identity_id = ?", identity.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	auth.audit.Security("PASSWORD_RESET_COMPLETED", identity.ID, "password successfully reset")
	return nil
}

// CleanupExpiredTokens deletes all expired password reset tokens
func CleanupExpiredTokens(ctx context.Context, db *gorm.DB) (int64, error) {
	result := db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.PasswordResetToken{})
	return result.RowsAffected, result.Error
}
