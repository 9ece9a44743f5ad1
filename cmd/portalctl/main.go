package main

import (
	"context"
	"fmt"
	"os"

	"tls_portal_go/config"
	"tls_portal_go/db"
	"tls_portal_go/logger"
	"tls_portal_go/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

// app holds the services an operator command needs
type app struct {
	cfg         *config.Config
	log         *zap.Logger
	db          *gorm.DB
	audit       *services.AuditService
	auth        *services.AuthService
	email       *services.EmailService
	clients     *services.ClientService
	provisioner *services.Provisioner
}

// bootstrap connects to the database and wires the services. Triggers run
// synchronously so a command's side effects finish before it exits.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.LogLevel, "console", cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(cfg, log)
	if err != nil {
		return nil, err
	}

	audit := services.NewAuditService(database, log)
	auth := services.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL, log, audit)
	email := services.NewEmailService(cfg, log, "templates/emails")
	resolver := services.NewClientResolver(database, cfg.PortalDomain, nil, log)
	triggers := services.NewTriggers(log, false)
	clients := services.NewClientService(database, cfg, triggers, nil, log, audit)
	provisioner := services.NewProvisioner(database, cfg, auth, email, resolver, log, audit)
	provisioner.Register(triggers)

	return &app{
		cfg:         cfg,
		log:         log,
		db:          database,
		audit:       audit,
		auth:        auth,
		email:       email,
		clients:     clients,
		provisioner: provisioner,
	}, nil
}

func (a *app) close() {
	a.email.Wait()
	a.audit.Wait()
	if err := db.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

// withApp adapts a command body that needs the wired services
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args, a)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operator tools for the client portal backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createTenantCmd())
	rootCmd.AddCommand(createStaffCmd())
	rootCmd.AddCommand(checkSubdomainCmd())
	rootCmd.AddCommand(reprovisionCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(syncPortalURLsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
