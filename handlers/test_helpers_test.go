package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/middleware"
	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testWebhookSecret = "whsec_handlers_test"

type testServer struct {
	e      *echo.Echo
	db     *gorm.DB
	cfg    *config.Config
	tenant *models.Tenant
	auth   *services.AuthService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared&_busy_timeout=5000"
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(models.All()...))

	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return database
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		ServiceName:         "portal-api",
		PortalDomain:        "thelawshop.com",
		DefaultTenant:       "default-tenant",
		DefaultBrand:        "The Law Shop",
		AppURL:              "https://app.thelawshop.com",
		SubdomainMaxTry:     10,
		JWTSecret:           "test-secret-that-is-long-enough-for-hs256",
		TokenTTL:            time.Hour,
		EmailTestMode:       true,
		EmailFrom:           "noreply@thelawshop.com",
		EmailFromName:       "The Law Shop",
		StripeWebhookSecret: testWebhookSecret,
	}
}

// newTestServer wires the full route table against sqlite with synchronous
// triggers and no payment gateway
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := setupTestDB(t)
	cfg := newTestConfig()
	log := zap.NewNop()

	tenant := &models.Tenant{Name: "The Law Shop", Slug: cfg.DefaultTenant, IsActive: true}
	require.NoError(t, database.Create(tenant).Error)

	audit := services.NewAuditService(database, log)
	auth := services.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL, log, audit)
	email := services.NewEmailService(cfg, log, "../templates/emails")
	resolver := services.NewClientResolver(database, cfg.PortalDomain, nil, log)
	triggers := services.NewTriggers(log, false)
	clients := services.NewClientService(database, cfg, triggers, nil, log, audit)
	provisioner := services.NewProvisioner(database, cfg, auth, email, resolver, log, audit)
	provisioner.Register(triggers)
	billing := services.NewBillingService(database, nil, email, log, audit)
	billing.Register(triggers)
	bridge := services.NewBillingBridge(database, nil, email, cfg.StripeWebhookSecret, log, audit)
	storage := services.NewLocalStorage(t.TempDir(), cfg.AppURL)
	documents := services.NewDocumentService(database, storage, log, audit)

	t.Cleanup(func() {
		email.Wait()
		audit.Wait()
	})

	h := New(Deps{
		Config:      cfg,
		DB:          database,
		Log:         log,
		Auth:        auth,
		Email:       email,
		Clients:     clients,
		Resolver:    resolver,
		Provisioner: provisioner,
		Documents:   documents,
		Billing:     billing,
		Bridge:      bridge,
	})

	limiters := Limiters{
		Intake: middleware.NewRateLimiter(middleware.RateLimitConfig{Requests: 100, Window: time.Minute}),
		Login:  middleware.NewRateLimiter(middleware.RateLimitConfig{Requests: 100, Window: time.Minute}),
	}
	t.Cleanup(limiters.Intake.Stop)
	t.Cleanup(limiters.Login.Stop)

	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)
	h.Register(e, auth, limiters)

	return &testServer{e: e, db: database, cfg: cfg, tenant: tenant, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// login creates an identity with the given claims and returns a bearer token for it
func (s *testServer) login(t *testing.T, email string, claims models.IdentityClaims) string {
	t.Helper()
	identity, err := s.auth.CreateIdentity(context.Background(), services.NewIdentity{
		Email:    email,
		Password: "Valid-Pass-12345",
		Claims:   claims,
	})
	require.NoError(t, err)
	token, _, err := s.auth.IssueToken(identity)
	require.NoError(t, err)
	return token
}

func (s *testServer) createClient(t *testing.T, subdomain string) *models.Client {
	t.Helper()
	client := &models.Client{
		TenantID: s.tenant.ID,
		Profile: models.ClientProfile{
			FirstName: "Jane",
			LastName:  "Smith",
			Email:     subdomain + "@example.com",
			Mobile:    "(650) 253-0000",
		},
		Metadata:     models.ClientMetadata{Source: models.ClientSourceWebForm},
		Subdomain:    subdomain,
		PortalURL:    "https://" + subdomain + ".thelawshop.com",
		Status:       models.ClientStatusActive,
		PortalStatus: models.PortalStatusPending,
		CreatedBy:    models.SystemActor,
	}
	require.NoError(t, s.db.Create(client).Error)
	return client
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decode(t, rec, &body)
	return body.Error.Kind
}

