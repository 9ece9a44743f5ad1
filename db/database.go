package db

import (
	"fmt"
	"strings"

	"tls_portal_go/config"
	"tls_portal_go/models"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. DATABASE_URL (postgres) wins over
// TURSO_DATABASE_URL (libSQL), which wins over the local sqlite file.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	}

	var (
		dialector gorm.Dialector
		backend   string
	)
	switch {
	case cfg.DatabaseURL != "":
		dialector = postgres.Open(cfg.DatabaseURL)
		backend = "postgres"
	case cfg.TursoDatabaseURL != "":
		dialector = sqlite.New(sqlite.Config{
			DriverName: "libsql",
			DSN:        tursoDSN(cfg.TursoDatabaseURL, cfg.TursoAuthToken),
		})
		backend = "libsql"
	default:
		// WAL mode for concurrent readers while triggers write
		dialector = sqlite.Open(cfg.DBPath + "?_journal_mode=WAL&_busy_timeout=5000")
		backend = "sqlite"
	}

	database, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Database connection established", zap.String("backend", backend))
	return database, nil
}

func tursoDSN(url, token string) string {
	if token == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "authToken=" + token
}

// Migrate runs AutoMigrate for every portal model
func Migrate(database *gorm.DB) error {
	if database == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := database.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}
