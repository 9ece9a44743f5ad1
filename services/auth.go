package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tls_portal_go/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 10
	// MaxFailedLogins locks the identity once reached
	MaxFailedLogins = 5
	// LockoutDuration is how long a locked identity stays locked
	LockoutDuration = 15 * time.Minute
	// DefaultTokenTTL applies when no TTL is configured
	DefaultTokenTTL = 24 * time.Hour
	// TokenIssuer is the iss claim of portal tokens
	TokenIssuer = "tls-portal"

	temporaryPasswordLength  = 16
	temporaryPasswordCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789!@#$%"
)

// NewIdentity carries the fields needed to create an auth identity
type NewIdentity struct {
	Email       string
	DisplayName string
	Password    string
	Claims      models.IdentityClaims
}

// IdentityProvider is the managed-auth surface the provisioner depends on
type IdentityProvider interface {
	GetIdentityByEmail(ctx context.Context, email string) (*models.AuthIdentity, error)
	CreateIdentity(ctx context.Context, in NewIdentity) (*models.AuthIdentity, error)
	SetCustomClaims(ctx context.Context, identityID string, claims models.IdentityClaims) error
	DisableIdentity(ctx context.Context, identityID string) error
	EnableIdentity(ctx context.Context, identityID string) error
}

// PortalClaims are the JWT claims of a portal session
type PortalClaims struct {
	Email string `json:"email"`
	models.IdentityClaims
	jwt.RegisteredClaims
}

// AuthService owns identities, credentials and session tokens
type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	log    *zap.Logger
	audit  *AuditService
}

func NewAuthService(db *gorm.DB, secret string, ttl time.Duration, log *zap.Logger, audit *AuditService) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{db: db, secret: []byte(secret), ttl: ttl, log: log, audit: audit}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// VerifyPassword verifies a password against a bcrypt hash
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateTemporaryPassword returns a random credential for provisioned identities.
// It is never sent to anyone; clients set their own password through a reset link.
func GenerateTemporaryPassword() (string, error) {
	max := big.NewInt(int64(len(temporaryPasswordCharset)))
	var sb strings.Builder
	sb.Grow(temporaryPasswordLength)
	for i := 0; i < temporaryPasswordLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		sb.WriteByte(temporaryPasswordCharset[n.Int64()])
	}
	return sb.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) GetIdentityByEmail(ctx context.Context, email string) (*models.AuthIdentity, error) {
	var identity models.AuthIdentity
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return &identity, nil
}

func (s *AuthService) GetIdentity(ctx context.Context, identityID string) (*models.AuthIdentity, error) {
	var identity models.AuthIdentity
	err := s.db.WithContext(ctx).Where("id = ?", identityID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return &identity, nil
}

func (s *AuthService) CreateIdentity(ctx context.Context, in NewIdentity) (*models.AuthIdentity, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	identity := &models.AuthIdentity{
		Email:       normalizeEmail(in.Email),
		DisplayName: in.DisplayName,
		Password:    hash,
		Claims:      in.Claims,
	}
	if err := s.db.WithContext(ctx).Create(identity).Error; err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return identity, nil
}

// SetCustomClaims replaces the identity's claims
func (s *AuthService) SetCustomClaims(ctx context.Context, identityID string, claims models.IdentityClaims) error {
	result := s.db.WithContext(ctx).Model(&models.AuthIdentity{}).
		Where("id = ?", identityID).
		Updates(map[string]interface{}{
			"claim_role":      claims.Role,
			"claim_tenant_id": claims.TenantID,
			"claim_client_id": claims.ClientID,
			"claim_subdomain": claims.Subdomain,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set claims: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func (s *AuthService) DisableIdentity(ctx context.Context, identityID string) error {
	result := s.db.WithContext(ctx).Model(&models.AuthIdentity{}).
		Where("id = ?", identityID).
		Update("disabled", true)
	if result.Error != nil {
		return fmt.Errorf("failed to disable identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotFound
	}
	s.audit.Security("IDENTITY_DISABLED", identityID, "identity disabled")
	return nil
}

func (s *AuthService) EnableIdentity(ctx context.Context, identityID string) error {
	result := s.db.WithContext(ctx).Model(&models.AuthIdentity{}).
		Where("id = ?", identityID).
		Update("disabled", false)
	if result.Error != nil {
		return fmt.Errorf("failed to enable identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotFound
	}
	s.audit.Security("IDENTITY_ENABLED", identityID, "identity enabled")
	return nil
}

// SetPassword stores a new password hash and clears any lockout
func (s *AuthService) SetPassword(ctx context.Context, identityID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.AuthIdentity{}).
		Where("id = ?", identityID).
		Updates(map[string]interface{}{
			"password":              hash,
			"failed_login_attempts": 0,
			"lockout_until":         nil,
		}).Error
}

// Authenticate checks credentials, applying lockout after repeated failures
func (s *AuthService) Authenticate(ctx context.Context, email, password, ip string) (*models.AuthIdentity, error) {
	identity, err := s.GetIdentityByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		s.audit.Security("LOGIN_FAILED", "", fmt.Sprintf("unknown email from %s", ip))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if identity.IsLockedOut() {
		return nil, ErrAccountLocked
	}

	if !VerifyPassword(identity.Password, password) {
		attempts := identity.FailedLoginAttempts + 1
		updates := map[string]interface{}{"failed_login_attempts": attempts}
		if attempts >= MaxFailedLogins {
			updates["lockout_until"] = time.Now().Add(LockoutDuration)
			updates["failed_login_attempts"] = 0
			s.audit.Security("ACCOUNT_LOCKED", identity.ID, fmt.Sprintf("locked after %d failures from %s", attempts, ip))
		}
		if err := s.db.WithContext(ctx).Model(identity).Updates(updates).Error; err != nil {
			s.log.Warn("Failed to record login failure", zap.String("identity_id", identity.ID), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if identity.Disabled {
		s.audit.Security("LOGIN_DISABLED", identity.ID, fmt.Sprintf("disabled identity login from %s", ip))
		return nil, ErrIdentityDisabled
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(identity).Updates(map[string]interface{}{
		"last_login_at":         now,
		"failed_login_attempts": 0,
		"lockout_until":         nil,
	}).Error; err != nil {
		s.log.Warn("Failed to record login", zap.String("identity_id", identity.ID), zap.Error(err))
	}
	identity.LastLoginAt = &now

	s.audit.Record(AuditEntry{
		ActorID:      identity.ID,
		ActorRole:    identity.Claims.Role,
		TenantID:     identity.Claims.TenantID,
		ResourceType: "AuthIdentity",
		ResourceID:   identity.ID,
		Action:       models.AuditActionLogin,
		IPAddress:    ip,
	})
	return identity, nil
}

// IssueToken signs a session token carrying the identity's claims
func (s *AuthService) IssueToken(identity *models.AuthIdentity) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := PortalClaims{
		Email:          identity.Email,
		IdentityClaims: identity.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseToken validates signature, algorithm, issuer and expiry
func (s *AuthService) ParseToken(raw string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token: missing subject")
	}
	return claims, nil
}
