package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"

	"tls_portal_go/config"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// DefaultEmailTemplateDir is where email templates are read from at runtime
const DefaultEmailTemplateDir = "templates/emails"

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer delivers emails. EmailService is the production implementation.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
	SendAsync(email *Email)
}

// EmailService sends through Resend, or only logs when EmailTestMode is set
type EmailService struct {
	cfg         *config.Config
	log         *zap.Logger
	templateDir string
	client      *resend.Client
	wg          sync.WaitGroup
}

func NewEmailService(cfg *config.Config, log *zap.Logger, templateDir string) *EmailService {
	if templateDir == "" {
		templateDir = DefaultEmailTemplateDir
	}
	s := &EmailService{cfg: cfg, log: log, templateDir: templateDir}
	if cfg.ResendAPIKey != "" {
		s.client = resend.NewClient(cfg.ResendAPIKey)
	}
	return s
}

// render executes <name>.html and <name>.txt from the template directory
func (s *EmailService) render(name string, data interface{}) (string, string, error) {
	exec := func(ext string) (string, error) {
		path := filepath.Join(s.templateDir, name+ext)
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
		tmpl, err := template.New(filepath.Base(path)).Parse(string(content))
		if err != nil {
			return "", fmt.Errorf("failed to parse template %s: %w", path, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("failed to execute template %s: %w", path, err)
		}
		return buf.String(), nil
	}

	html, err := exec(".html")
	if err != nil {
		return "", "", err
	}
	text, err := exec(".txt")
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

func (s *EmailService) build(name, subject, to string, data interface{}) (*Email, error) {
	html, text, err := s.render(name, data)
	if err != nil {
		return nil, err
	}
	return &Email{To: []string{to}, Subject: subject, HTMLBody: html, TextBody: text}, nil
}

// Send delivers email through Resend
func (s *EmailService) Send(ctx context.Context, email *Email) error {
	if email.HTMLBody == "" && email.TextBody == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	if s.cfg.EmailTestMode {
		s.log.Info("Email logged (test mode, not sent)",
			zap.Strings("to", email.To),
			zap.String("subject", email.Subject),
			zap.String("text", email.TextBody),
		)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", s.cfg.EmailFromName, s.cfg.EmailFrom),
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTMLBody,
		Text:    email.TextBody,
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}

	s.log.Info("Email sent", zap.String("resend_id", sent.Id), zap.Strings("to", email.To))
	return nil
}

// SendAsync sends on a background goroutine; failures are logged only
func (s *EmailService) SendAsync(email *Email) {
	emailCopy := &Email{
		To:       append([]string{}, email.To...),
		Subject:  email.Subject,
		HTMLBody: email.HTMLBody,
		TextBody: email.TextBody,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Send(context.Background(), emailCopy); err != nil {
			s.log.Error("Error sending async email", zap.Strings("to", emailCopy.To), zap.Error(err))
		}
	}()
}

// Wait blocks until async sends finish
func (s *EmailService) Wait() {
	s.wg.Wait()
}

// PortalWelcomeEmailData feeds the portal_welcome template
type PortalWelcomeEmailData struct {
	ClientName  string
	CompanyName string
	PortalURL   string
	SetupLink   string
}

func (s *EmailService) BuildPortalWelcomeEmail(to string, data PortalWelcomeEmailData) (*Email, error) {
	return s.build("portal_welcome", fmt.Sprintf("Your %s client portal is ready", data.CompanyName), to, data)
}

// PasswordResetEmailData feeds the password_reset template
type PasswordResetEmailData struct {
	UserName  string
	ResetLink string
	ExpiresAt string
}

func (s *EmailService) BuildPasswordResetEmail(to string, data PasswordResetEmailData) (*Email, error) {
	return s.build("password_reset", "Reset your portal password", to, data)
}

// PaymentReceivedEmailData feeds the payment_received template
type PaymentReceivedEmailData struct {
	ClientName    string
	Amount        string
	InvoiceNumber string
	ReceiptURL    string
}

func (s *EmailService) BuildPaymentReceivedEmail(to string, data PaymentReceivedEmailData) (*Email, error) {
	return s.build("payment_received", "Payment received - thank you", to, data)
}

// InvoiceCreatedEmailData feeds the invoice_created template
type InvoiceCreatedEmailData struct {
	ClientName  string
	Description string
	Amount      string
	PaymentURL  string
	DueDate     string
}

func (s *EmailService) BuildInvoiceCreatedEmail(to string, data InvoiceCreatedEmailData) (*Email, error) {
	return s.build("invoice_created", "New invoice: "+data.Description, to, data)
}

// FormatCents renders an amount in the smallest currency unit as dollars
func FormatCents(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s$%d.%02d", sign, amount/100, amount%100)
}
