package handlers

import (
	"tls_portal_go/middleware"
	"tls_portal_go/models"

	"github.com/labstack/echo/v4"
)

// Limiters are the rate limiters applied to public endpoints
type Limiters struct {
	Intake *middleware.RateLimiter
	Login  *middleware.RateLimiter
}

// Register mounts every API route on e
func (h *Handlers) Register(e *echo.Echo, verifier middleware.TokenVerifier, limiters Limiters) {
	requireAuth := middleware.RequireAuth(verifier)
	staffOnly := middleware.RequireRole(models.RoleStaff, models.RoleAdmin)

	e.GET("/health", h.Health)

	// Public routes (no authentication required)
	api := e.Group("/api")
	api.POST("/clients", h.CreateClient, limiters.Intake.Middleware())
	api.POST("/portal/check-subdomain-availability", h.CheckSubdomainAvailability, limiters.Intake.Middleware())
	api.GET("/portal", h.GetPortal)
	api.POST("/webhooks/stripe", h.StripeWebhook)

	authRoutes := api.Group("/auth")
	authRoutes.POST("/login", h.Login, limiters.Login.Middleware())
	authRoutes.POST("/logout", h.Logout)
	authRoutes.POST("/forgot-password", h.ForgotPassword, limiters.Login.Middleware())
	authRoutes.POST("/reset-password", h.ResetPassword, limiters.Login.Middleware())
	authRoutes.GET("/me", h.Me, requireAuth)

	// Client-scoped routes; handlers check the caller against the path
	clientRoutes := api.Group("/clients/:tenantId/:clientId", requireAuth)
	clientRoutes.GET("/documents", h.ListDocuments)
	clientRoutes.POST("/documents", h.UploadDocument)
	clientRoutes.GET("/documents/:documentId/download", h.DownloadDocument)
	clientRoutes.DELETE("/documents/:documentId", h.DeleteDocument)
	clientRoutes.GET("/folders", h.ListFolders)
	clientRoutes.GET("/invoices", h.ListInvoices)
	clientRoutes.GET("/payments", h.ListPayments)
	clientRoutes.GET("/payment-methods", h.ListPaymentMethods)
	clientRoutes.GET("/closings", h.ListClosings)

	// Billing callables
	billing := api.Group("/billing", requireAuth)
	billing.POST("/create-setup-intent", h.CreateSetupIntent)
	billing.POST("/add-payment-method", h.AddPaymentMethod)
	billing.POST("/remove-payment-method", h.RemovePaymentMethod)
	billing.POST("/pay-invoice", h.PayInvoice)
	billing.POST("/create-closing-invoice", h.CreateClosingInvoice)
	billing.POST("/get-invoice-payment-link", h.GetInvoicePaymentLink)

	// Staff routes
	admin := api.Group("/admin", requireAuth, staffOnly)
	admin.GET("/clients", h.AdminListClients)
	admin.POST("/clients", h.AdminCreateClient)
	admin.GET("/clients/export", h.AdminExportClients)
	admin.POST("/clients/import", h.AdminImportClients)
	admin.GET("/clients/:clientId", h.AdminGetClient)
	admin.PATCH("/clients/:clientId", h.AdminUpdateClient)
	admin.DELETE("/clients/:clientId", h.AdminArchiveClient)
	admin.POST("/clients/:clientId/reprovision", h.AdminReprovision)
	admin.POST("/clients/:clientId/closings", h.AdminCreateClosing)

	// Locally stored objects behind signed download links
	e.GET("/files/*", h.ServeFile, requireAuth)
}
