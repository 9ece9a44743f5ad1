package handlers

import (
	"tls_portal_go/config"
	"tls_portal_go/middleware"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handlers holds the services behind the HTTP API
type Handlers struct {
	cfg         *config.Config
	db          *gorm.DB
	log         *zap.Logger
	auth        *services.AuthService
	email       *services.EmailService
	clients     *services.ClientService
	resolver    *services.ClientResolver
	provisioner *services.Provisioner
	documents   *services.DocumentService
	billing     *services.BillingService
	bridge      *services.BillingBridge
}

// Deps are the collaborators New wires into Handlers
type Deps struct {
	Config      *config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	Auth        *services.AuthService
	Email       *services.EmailService
	Clients     *services.ClientService
	Resolver    *services.ClientResolver
	Provisioner *services.Provisioner
	Documents   *services.DocumentService
	Billing     *services.BillingService
	Bridge      *services.BillingBridge
}

func New(d Deps) *Handlers {
	return &Handlers{
		cfg:         d.Config,
		db:          d.DB,
		log:         d.Log,
		auth:        d.Auth,
		email:       d.Email,
		clients:     d.Clients,
		resolver:    d.Resolver,
		provisioner: d.Provisioner,
		documents:   d.Documents,
		billing:     d.Billing,
		bridge:      d.Bridge,
	}
}

// actorID names the caller in audit and record fields
func actorID(c echo.Context) string {
	if caller := middleware.GetCaller(c); caller != nil {
		return caller.IdentityID
	}
	return ""
}

func bind(c echo.Context, dest interface{}) error {
	if err := c.Bind(dest); err != nil {
		return services.InvalidArgument("Invalid request body")
	}
	return nil
}
