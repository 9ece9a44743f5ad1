package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

type bridgeFixture struct {
	*billingFixture
	bridge  *BillingBridge
	closing *models.Closing
	invoice *models.Invoice
}

func setupBridge(t *testing.T) *bridgeFixture {
	t.Helper()
	f := setupBilling(t)
	ctx := context.Background()

	closing := f.createClosing(t)
	created, err := f.svc.CreateClosingInvoice(ctx, f.staff(), f.tenant.ID, f.client.ID, closing.ID)
	require.NoError(t, err)
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", created.InvoiceID).Error)

	email := NewEmailService(newTestConfig(), zap.NewNop(), testTemplateDir)
	t.Cleanup(email.Wait)

	return &bridgeFixture{
		billingFixture: f,
		bridge:         NewBillingBridge(f.db, f.gateway, email, testWebhookSecret, zap.NewNop(), nil),
		closing:        closing,
		invoice:        &inv,
	}
}

func (f *bridgeFixture) metadata() map[string]interface{} {
	return map[string]interface{}{
		"tenantId":        f.tenant.ID,
		"clientId":        f.client.ID,
		"closingId":       f.closing.ID,
		"transactionType": "purchase",
	}
}

func (f *bridgeFixture) paidInvoice(paidAt int64) map[string]interface{} {
	return map[string]interface{}{
		"id":                 f.invoice.StripeInvoiceID,
		"object":             "invoice",
		"status":             "paid",
		"currency":           "usd",
		"total":              125000,
		"amount_paid":        125000,
		"amount_due":         0,
		"payment_intent":     "pi_123",
		"hosted_invoice_url": f.invoice.HostedInvoiceURL,
		"invoice_pdf":        f.invoice.InvoicePDF,
		"status_transitions": map[string]interface{}{"paid_at": paidAt},
		"metadata":           f.metadata(),
	}
}

func (f *bridgeFixture) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	return f.bridge.HandleStripe(context.Background(), payload, signPayload(testWebhookSecret, payload))
}

func TestBridge_Signature(t *testing.T) {
	f := setupBridge(t)
	ctx := context.Background()
	payload := stripeEvent(t, "evt_1", EventInvoicePaymentSucceeded, f.paidInvoice(time.Now().Unix()))

	t.Run("Missing signature", func(t *testing.T) {
		err := f.bridge.HandleStripe(ctx, payload, "")
		assert.True(t, IsKind(err, KindInvalidArgument))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		err := f.bridge.HandleStripe(ctx, payload, signPayload("whsec_other", payload))
		assert.True(t, IsKind(err, KindInvalidArgument))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Tampered payload", func(t *testing.T) {
		sig := signPayload(testWebhookSecret, payload)
		tampered := stripeEvent(t, "evt_1", EventInvoicePaymentSucceeded, map[string]interface{}{"id": "in_other"})
		err := f.bridge.HandleStripe(ctx, tampered, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	var events int64
	f.db.Model(&models.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusOpen, inv.Status)
}

func TestBridge_InvoicePaymentSucceeded(t *testing.T) {
	f := setupBridge(t)
	paidAt := time.Now().Add(-time.Minute).Unix()
	payload := stripeEvent(t, "evt_paid", EventInvoicePaymentSucceeded, f.paidInvoice(paidAt))

	require.NoError(t, f.deliver(t, payload))

	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, int64(125000), inv.AmountPaid)
	assert.Zero(t, inv.AmountDue)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, paidAt, inv.PaidAt.Unix())

	var payments []models.Payment
	require.NoError(t, f.db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, "pi_123", payments[0].ID)
	assert.Equal(t, inv.ID, payments[0].InvoiceID)
	assert.Equal(t, models.PaymentStatusSucceeded, payments[0].Status)

	var closing models.Closing
	require.NoError(t, f.db.First(&closing, "id = ?", f.closing.ID).Error)
	assert.Equal(t, models.ClosingPaymentPaid, closing.PaymentStatus)
	assert.Equal(t, int64(125000), closing.AmountPaid)
	assert.NotNil(t, closing.PaidAt)

	t.Run("Replay is acknowledged without reapplying", func(t *testing.T) {
		require.NoError(t, f.deliver(t, payload))

		var record models.WebhookEvent
		require.NoError(t, f.db.First(&record, "provider_event_id = ?", "evt_paid").Error)
		assert.Equal(t, 1, record.Attempts)
		assert.NotNil(t, record.ProcessedAt)
	})

	t.Run("Same payment under a new event id keeps one record", func(t *testing.T) {
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_paid_again", EventInvoicePaymentSucceeded, f.paidInvoice(paidAt))))
		var count int64
		f.db.Model(&models.Payment{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})
}

func TestBridge_UnknownInvoiceIsRecorded(t *testing.T) {
	f := setupBridge(t)
	object := f.paidInvoice(time.Now().Unix())
	object["id"] = "in_external"
	object["payment_intent"] = "pi_external"
	delete(object["metadata"].(map[string]interface{}), "closingId")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_ext", EventInvoicePaymentSucceeded, object)))

	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "stripe_invoice_id = ?", "in_external").Error)
	assert.Equal(t, f.client.ID, inv.ClientID)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Nil(t, inv.ClosingID)
}

func TestBridge_PaymentIntentDetails(t *testing.T) {
	intent := func(f *bridgeFixture) map[string]interface{} {
		return map[string]interface{}{
			"id":              "pi_123",
			"object":          "payment_intent",
			"amount_received": 125000,
			"currency":        "usd",
			"invoice":         f.invoice.StripeInvoiceID,
			"payment_method":  "pm_visa",
			"latest_charge":   "ch_456",
			"metadata":        map[string]interface{}{"tenantId": f.tenant.ID, "clientId": f.client.ID},
		}
	}

	assertCard := func(t *testing.T, f *bridgeFixture) {
		var payment models.Payment
		require.NoError(t, f.db.First(&payment, "id = ?", "pi_123").Error)
		assert.Equal(t, "visa", payment.CardBrand)
		assert.Equal(t, "4242", payment.CardLast4)
		assert.Equal(t, "ch_456", payment.StripeChargeID)
		assert.Equal(t, "card", payment.PaymentMethodType)
	}

	t.Run("After the invoice payment", func(t *testing.T) {
		f := setupBridge(t)
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_paid", EventInvoicePaymentSucceeded, f.paidInvoice(time.Now().Unix()))))
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_pi", EventPaymentIntentSucceeded, intent(f))))
		assertCard(t, f)
	})

	t.Run("Before the invoice payment", func(t *testing.T) {
		f := setupBridge(t)
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_pi", EventPaymentIntentSucceeded, intent(f))))
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_paid", EventInvoicePaymentSucceeded, f.paidInvoice(time.Now().Unix()))))
		assertCard(t, f)

		var payment models.Payment
		require.NoError(t, f.db.First(&payment, "id = ?", "pi_123").Error)
		assert.NotNil(t, payment.SucceededAt)
	})

	t.Run("Without invoice is ignored", func(t *testing.T) {
		f := setupBridge(t)
		object := intent(f)
		delete(object, "invoice")
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_pi", EventPaymentIntentSucceeded, object)))
		var count int64
		f.db.Model(&models.Payment{}).Count(&count)
		assert.Zero(t, count)
	})
}

func TestBridge_InvoiceUpdated(t *testing.T) {
	f := setupBridge(t)
	updated := func(status string, paid int64, url string) map[string]interface{} {
		return map[string]interface{}{
			"id":                 f.invoice.StripeInvoiceID,
			"object":             "invoice",
			"status":             status,
			"total":              125000,
			"amount_paid":        paid,
			"hosted_invoice_url": url,
			"invoice_pdf":        url + ".pdf",
			"metadata":           f.metadata(),
		}
	}

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_u1", EventInvoiceUpdated, updated("open", 25000, "https://invoice.stripe.com/i/v2"))))
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
	assert.Equal(t, int64(25000), inv.AmountPaid)
	assert.Equal(t, int64(100000), inv.AmountDue)
	assert.Equal(t, "https://invoice.stripe.com/i/v2", inv.HostedInvoiceURL)

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_paid", EventInvoicePaymentSucceeded, f.paidInvoice(time.Now().Unix()))))

	t.Run("Paid invoices keep status and amounts", func(t *testing.T) {
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_u2", EventInvoiceUpdated, updated("open", 0, "https://invoice.stripe.com/i/v3"))))
		var inv models.Invoice
		require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
		assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
		assert.Equal(t, int64(125000), inv.AmountPaid)
		assert.Zero(t, inv.AmountDue)
		assert.Equal(t, "https://invoice.stripe.com/i/v3", inv.HostedInvoiceURL)
	})

	t.Run("Payment failure does not reopen a paid invoice", func(t *testing.T) {
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_f1", EventInvoicePaymentFailed, updated("open", 0, ""))))
		var inv models.Invoice
		require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
		assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	})
}

func TestBridge_InvoicePaymentFailed(t *testing.T) {
	f := setupBridge(t)
	object := map[string]interface{}{
		"id":       f.invoice.StripeInvoiceID,
		"object":   "invoice",
		"status":   "uncollectible",
		"metadata": f.metadata(),
	}
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_f", EventInvoicePaymentFailed, object)))

	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusUncollectible, inv.Status)
}

func TestBridge_AcknowledgedWithoutWrites(t *testing.T) {
	f := setupBridge(t)

	t.Run("Missing metadata", func(t *testing.T) {
		object := f.paidInvoice(time.Now().Unix())
		object["metadata"] = map[string]interface{}{}
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_nometa", EventInvoicePaymentSucceeded, object)))

		var inv models.Invoice
		require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
		assert.Equal(t, models.InvoiceStatusOpen, inv.Status)
	})

	t.Run("Unhandled type", func(t *testing.T) {
		require.NoError(t, f.deliver(t, stripeEvent(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1"})))
		var record models.WebhookEvent
		require.NoError(t, f.db.First(&record, "provider_event_id = ?", "evt_other").Error)
		assert.Equal(t, "customer.created", record.EventType)
		assert.NotNil(t, record.ProcessedAt)
	})
}

func TestBridge_DispatchFailureIsRetryable(t *testing.T) {
	f := setupBridge(t)
	require.NoError(t, f.db.Migrator().DropTable(&models.Invoice{}))

	payload := stripeEvent(t, "evt_fail", EventInvoicePaymentSucceeded, f.paidInvoice(time.Now().Unix()))
	err := f.deliver(t, payload)
	assert.True(t, IsKind(err, KindInternal))

	var record models.WebhookEvent
	require.NoError(t, f.db.First(&record, "provider_event_id = ?", "evt_fail").Error)
	assert.Nil(t, record.ProcessedAt)
	assert.NotEmpty(t, record.ProcessingError)
	assert.Equal(t, 1, record.Attempts)

	// The provider's retry runs the handlers again
	err = f.deliver(t, payload)
	assert.Error(t, err)
	require.NoError(t, f.db.First(&record, "provider_event_id = ?", "evt_fail").Error)
	assert.Equal(t, 2, record.Attempts)
}

func TestBridge_PruneWebhookEvents(t *testing.T) {
	f := setupBridge(t)
	old := time.Now().Add(-60 * 24 * time.Hour)
	processed := time.Now()
	require.NoError(t, f.db.Create(&[]models.WebhookEvent{
		{Provider: "stripe", ProviderEventID: "evt_old", EventType: "x", PayloadJSON: "{}", ProcessedAt: &processed, CreatedAt: old},
		{Provider: "stripe", ProviderEventID: "evt_old_failed", EventType: "x", PayloadJSON: "{}", CreatedAt: old},
		{Provider: "stripe", ProviderEventID: "evt_new", EventType: "x", PayloadJSON: "{}", ProcessedAt: &processed},
	}).Error)

	removed, err := f.bridge.PruneWebhookEvents(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var remaining int64
	f.db.Model(&models.WebhookEvent{}).Count(&remaining)
	assert.Equal(t, int64(2), remaining)
}
