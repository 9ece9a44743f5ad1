package services

import (
	"testing"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Unique shared-memory name isolates tests while letting goroutines share the connection pool
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func createTestTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Name: "The Law Shop", Slug: "default-tenant", IsActive: true}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func createTestClient(t *testing.T, db *gorm.DB, tenantID, subdomain string) *models.Client {
	t.Helper()
	client := &models.Client{
		TenantID: tenantID,
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
	require.NoError(t, db.Create(client).Error)
	return client
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment:     "test",
		ServiceName:     "portal-api",
		PortalDomain:    "thelawshop.com",
		DefaultTenant:   "default-tenant",
		DefaultBrand:    "The Law Shop",
		AppURL:          "https://app.thelawshop.com",
		SubdomainMaxTry: 10,
		JWTSecret:       "test-secret-that-is-long-enough-for-hs256",
		TokenTTL:        time.Hour,
		EmailTestMode:   true,
		EmailFrom:       "noreply@thelawshop.com",
		EmailFromName:   "The Law Shop",
	}
}
