package services

import (
	"context"
	"testing"
	"time"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*AuthService, *models.AuthIdentity) {
		db := setupTestDB(t)
		audit := NewAuditService(db, zap.NewNop())
		t.Cleanup(audit.Wait)
		auth := NewAuthService(db, "test-secret-that-is-long-enough-123", time.Hour, zap.NewNop(), audit)
		identity, err := auth.CreateIdentity(ctx, NewIdentity{Email: "jane@example.com", Password: "Temp-Pass-1234"})
		require.NoError(t, err)
		return auth, identity
	}

	t.Run("Request for known email issues a token", func(t *testing.T) {
		auth, identity := setup(t)
		token, owner, err := RequestPasswordReset(ctx, auth.db, auth, "jane@example.com")
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, identity.ID, owner.ID)
		assert.WithinDuration(t, time.Now().Add(ResetTokenExpiration), token.ExpiresAt, time.Minute)
	})

	t.Run("Request for unknown email is silent", func(t *testing.T) {
		auth, _ := setup(t)
		token, owner, err := RequestPasswordReset(ctx, auth.db, auth, "nobody@example.com")
		assert.NoError(t, err)
		assert.Nil(t, token)
		assert.Nil(t, owner)
	})

	t.Run("New token replaces old one", func(t *testing.T) {
		auth, identity := setup(t)
		first, err := CreateResetToken(ctx, auth.db, identity.ID, time.Hour)
		require.NoError(t, err)
		_, err = CreateResetToken(ctx, auth.db, identity.ID, time.Hour)
		require.NoError(t, err)

		_, err = ValidateResetToken(ctx, auth.db, first.Token)
		assert.Error(t, err)
	})

	t.Run("Reset consumes token and sets password", func(t *testing.T) {
		auth, identity := setup(t)
		token, err := CreateResetToken(ctx, auth.db, identity.ID, time.Hour)
		require.NoError(t, err)

		require.NoError(t, ResetPassword(ctx, auth.db, auth, token.Token, "Brand-New-Pass-99"))

		_, err = auth.Authenticate(ctx, "jane@example.com", "Brand-New-Pass-99", "127.0.0.1")
		assert.NoError(t, err)

		err = ResetPassword(ctx, auth.db, auth, token.Token, "Brand-New-Pass-99")
		assert.True(t, IsKind(err, KindInvalidArgument))
	})

	t.Run("Weak password rejected before token lookup", func(t *testing.T) {
		auth, identity := setup(t)
		token, err := CreateResetToken(ctx, auth.db, identity.ID, time.Hour)
		require.NoError(t, err)

		err = ResetPassword(ctx, auth.db, auth, token.Token, "weak")
		assert.True(t, IsKind(err, KindInvalidArgument))
		_, err = ValidateResetToken(ctx, auth.db, token.Token)
		assert.NoError(t, err, "token must survive a rejected password")
	})

	t.Run("Expired token", func(t *testing.T) {
		auth, identity := setup(t)
		token, err := CreateResetToken(ctx, auth.db, identity.ID, -time.Minute)
		require.NoError(t, err)

		_, err = ValidateResetToken(ctx, auth.db, token.Token)
		assert.ErrorContains(t, err, "expired")

		removed, err := CleanupExpiredTokens(ctx, auth.db)
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed, "validation already deleted it")
	})
}
