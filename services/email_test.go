package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tls_portal_go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTemplateDir = "../templates/emails"

func TestEmailService_Render(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.html"), []byte("<p>Hello {{.Name}}</p>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("Hello {{.Name}}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "html_only.html"), []byte("x"), 0644))

	svc := NewEmailService(&config.Config{EmailTestMode: true}, zap.NewNop(), dir)

	t.Run("Both bodies rendered", func(t *testing.T) {
		email, err := svc.build("greeting", "Hi", "a@example.com", map[string]string{"Name": "<b>Jane</b>"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com"}, email.To)
		assert.Equal(t, "<p>Hello &lt;b&gt;Jane&lt;/b&gt;</p>", email.HTMLBody)
	})

	t.Run("Missing text template", func(t *testing.T) {
		_, err := svc.build("html_only", "Hi", "a@example.com", nil)
		assert.Error(t, err)
	})

	t.Run("Unknown template", func(t *testing.T) {
		_, err := svc.build("nope", "Hi", "a@example.com", nil)
		assert.Error(t, err)
	})
}

func TestEmailService_Builders(t *testing.T) {
	svc := NewEmailService(&config.Config{EmailTestMode: true}, zap.NewNop(), testTemplateDir)

	t.Run("Portal welcome", func(t *testing.T) {
		email, err := svc.BuildPortalWelcomeEmail("jane@example.com", PortalWelcomeEmailData{
			ClientName:  "Jane Smith",
			CompanyName: "The Law Shop",
			PortalURL:   "https://smit1234.thelawshop.com",
			SetupLink:   "https://app.example.com/reset-password?token=abc",
		})
		require.NoError(t, err)
		assert.Equal(t, "Your The Law Shop client portal is ready", email.Subject)
		assert.Contains(t, email.TextBody, "https://smit1234.thelawshop.com")
		assert.Contains(t, email.HTMLBody, "token=abc")
	})

	t.Run("Password reset", func(t *testing.T) {
		email, err := svc.BuildPasswordResetEmail("jane@example.com", PasswordResetEmailData{
			UserName: "Jane", ResetLink: "https://x/reset", ExpiresAt: "tomorrow",
		})
		require.NoError(t, err)
		assert.Contains(t, email.TextBody, "https://x/reset")
	})

	t.Run("Payment received", func(t *testing.T) {
		email, err := svc.BuildPaymentReceivedEmail("jane@example.com", PaymentReceivedEmailData{
			ClientName: "Jane", Amount: FormatCents(150000),
		})
		require.NoError(t, err)
		assert.Contains(t, email.TextBody, "$1500.00")
	})

	t.Run("Invoice created", func(t *testing.T) {
		email, err := svc.BuildInvoiceCreatedEmail("jane@example.com", InvoiceCreatedEmailData{
			ClientName: "Jane", Description: "Closing Services", Amount: "$10.00", PaymentURL: "https://pay",
		})
		require.NoError(t, err)
		assert.Equal(t, "New invoice: Closing Services", email.Subject)
	})
}

func TestEmailService_Send(t *testing.T) {
	t.Run("Test mode logs only", func(t *testing.T) {
		svc := NewEmailService(&config.Config{EmailTestMode: true}, zap.NewNop(), testTemplateDir)
		err := svc.Send(context.Background(), &Email{To: []string{"a@example.com"}, Subject: "s", TextBody: "t"})
		assert.NoError(t, err)
		svc.SendAsync(&Email{To: []string{"a@example.com"}, TextBody: "t"})
		svc.Wait()
	})

	t.Run("Missing API key", func(t *testing.T) {
		svc := NewEmailService(&config.Config{EmailTestMode: false}, zap.NewNop(), testTemplateDir)
		err := svc.Send(context.Background(), &Email{To: []string{"a@example.com"}, TextBody: "t"})
		assert.ErrorContains(t, err, "RESEND_API_KEY")
	})

	t.Run("Empty body", func(t *testing.T) {
		svc := NewEmailService(&config.Config{EmailTestMode: true}, zap.NewNop(), testTemplateDir)
		err := svc.Send(context.Background(), &Email{To: []string{"a@example.com"}})
		assert.Error(t, err)
	})
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$0.05", FormatCents(5))
	assert.Equal(t, "$1500.00", FormatCents(150000))
	assert.Equal(t, "-$12.34", FormatCents(-1234))
}
