package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingCallables_NotConfigured(t *testing.T) {
	s := newTestServer(t)
	client := s.createClient(t, "smit0000")
	token := s.login(t, "jane@example.com", models.IdentityClaims{
		Role: models.RoleClient, TenantID: s.tenant.ID, ClientID: client.ID,
	})
	body := map[string]string{"tenantId": s.tenant.ID, "clientId": client.ID, "paymentMethodId": "pm_visa", "invoiceId": "in_1"}

	for _, name := range []string{
		"create-setup-intent", "add-payment-method", "remove-payment-method",
		"pay-invoice", "get-invoice-payment-link",
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/billing/"+name, body, token)
			assert.Equal(t, http.StatusPreconditionFailed, rec.Code, rec.Body.String())
			assert.Equal(t, "failed-precondition", errorKind(t, rec))
		})
	}

	t.Run("Unauthenticated", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/billing/create-setup-intent", body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBillingLists(t *testing.T) {
	s := newTestServer(t)
	client := s.createClient(t, "smit0000")
	other := s.createClient(t, "smit0001")
	clientToken := s.login(t, "jane@example.com", models.IdentityClaims{
		Role: models.RoleClient, TenantID: s.tenant.ID, ClientID: client.ID,
	})
	staffToken := s.login(t, "staff@thelawshop.com", models.IdentityClaims{
		Role: models.RoleStaff, TenantID: s.tenant.ID,
	})

	rec := s.do(t, http.MethodPost, "/api/admin/clients/"+client.ID+"/closings", map[string]interface{}{
		"propertyAddress": map[string]string{"street": "12 Elm St", "city": "Springfield", "state": "il"},
		"transactionType": models.TransactionPurchase,
		"fixedFee":        125000,
	}, staffToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var closing models.Closing
	decode(t, rec, &closing)
	assert.Equal(t, "IL", closing.PropertyAddress.State)
	assert.Equal(t, models.ClosingPaymentUnpaid, closing.PaymentStatus)

	t.Run("Client sees own closings", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/clients/"+s.tenant.ID+"/"+client.ID+"/closings", nil, clientToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var closings []models.Closing
		decode(t, rec, &closings)
		require.Len(t, closings, 1)
		assert.Equal(t, closing.ID, closings[0].ID)
	})

	t.Run("Empty lists", func(t *testing.T) {
		for _, list := range []string{"invoices", "payments", "payment-methods"} {
			rec := s.do(t, http.MethodGet, "/api/clients/"+s.tenant.ID+"/"+client.ID+"/"+list, nil, clientToken)
			assert.Equal(t, http.StatusOK, rec.Code, list)
		}
	})

	t.Run("Other client forbidden", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/clients/"+s.tenant.ID+"/"+other.ID+"/closings", nil, clientToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Clients cannot open closings", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/clients/"+client.ID+"/closings", map[string]interface{}{
			"transactionType": models.TransactionPurchase, "fixedFee": 100,
		}, clientToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func signStripePayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (s *testServer) webhook(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookHandler(t *testing.T) {
	s := newTestServer(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	t.Run("Missing signature", func(t *testing.T) {
		rec := s.webhook(t, payload, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Invalid signature", func(t *testing.T) {
		rec := s.webhook(t, payload, "t=1,v1=deadbeef")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var events int64
		s.db.Model(&models.WebhookEvent{}).Count(&events)
		assert.Zero(t, events)
	})

	t.Run("Oversized delivery is rejected before verification", func(t *testing.T) {
		big := append([]byte(`{"id":"evt_big","padding":"`), bytes.Repeat([]byte("a"), maxWebhookBody)...)
		big = append(big, []byte(`"}`)...)
		rec := s.webhook(t, big, signStripePayload(big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "invalid-argument", errorKind(t, rec))

		var events int64
		s.db.Model(&models.WebhookEvent{}).Count(&events)
		assert.Zero(t, events)
	})

	t.Run("Valid delivery is acknowledged once", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := s.webhook(t, payload, signStripePayload(payload))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, `{"received":true}`, rec.Body.String())
		}

		var events []models.WebhookEvent
		require.NoError(t, s.db.Find(&events).Error)
		require.Len(t, events, 1)
		assert.Equal(t, "evt_1", events[0].ProviderEventID)
		assert.Equal(t, 1, events[0].Attempts)
		assert.NotNil(t, events[0].ProcessedAt)
	})
}
