package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tls_portal_go/models"
	"tls_portal_go/telemetry"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const webhookProviderStripe = "stripe"

// Stripe event types handled by the bridge
const (
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoiceUpdated          = "invoice.updated"
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
)

// BillingBridge applies verified payment processor events to the billing tables
type BillingBridge struct {
	db      *gorm.DB
	gateway PaymentGateway
	email   *EmailService
	secret  string
	log     *zap.Logger
	audit   *AuditService
}

// NewBillingBridge creates the webhook bridge. gateway may be nil, in which case
// payment method details are not fetched.
func NewBillingBridge(db *gorm.DB, gateway PaymentGateway, email *EmailService, secret string, log *zap.Logger, audit *AuditService) *BillingBridge {
	return &BillingBridge{db: db, gateway: gateway, email: email, secret: secret, log: log, audit: audit}
}

// HandleStripe verifies and applies one webhook delivery. Already processed
// events are acknowledged without being applied again.
func (b *BillingBridge) HandleStripe(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return &Error{Kind: KindInvalidArgument, Message: "No stripe signature", Err: ErrInvalidSignature}
	}
	if b.secret == "" {
		return &Error{Kind: KindFailedPrecondition, Message: "Webhook secret is not configured", Err: ErrBillingNotConfigured}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, b.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		b.log.Warn("Webhook signature verification failed", zap.Error(err))
		return &Error{Kind: KindInvalidArgument, Message: "Webhook signature verification failed", Err: errors.Join(ErrInvalidSignature, err)}
	}
	eventType := string(event.Type)

	ctx, span := telemetry.Tracer().Start(ctx, "webhook.stripe")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", eventType),
	)

	record := models.WebhookEvent{Provider: webhookProviderStripe, ProviderEventID: event.ID}
	if err := b.db.WithContext(ctx).
		Where(models.WebhookEvent{Provider: webhookProviderStripe, ProviderEventID: event.ID}).
		Attrs(models.WebhookEvent{EventType: eventType, PayloadJSON: string(payload)}).
		FirstOrCreate(&record).Error; err != nil {
		return Internal(err, "failed to record webhook event")
	}
	if record.ProcessedAt != nil {
		b.log.Info("Webhook event already processed", zap.String("event_id", event.ID), zap.String("event_type", eventType))
		return nil
	}

	dispatchErr := b.dispatch(ctx, eventType, event.Data.Raw)

	updates := map[string]interface{}{"attempts": gorm.Expr("attempts + 1")}
	if dispatchErr != nil {
		updates["processing_error"] = dispatchErr.Error()
	} else {
		updates["processed_at"] = time.Now()
		updates["processing_error"] = ""
	}
	if err := b.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", record.ID).Updates(updates).Error; err != nil {
		b.log.Error("Failed to update webhook event", zap.String("event_id", event.ID), zap.Error(err))
	}

	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, dispatchErr.Error())
		b.log.Error("Webhook handler error", zap.String("event_id", event.ID), zap.String("event_type", eventType), zap.Error(dispatchErr))
		return Internal(dispatchErr, "Webhook handler error")
	}
	return nil
}

func (b *BillingBridge) dispatch(ctx context.Context, eventType string, raw json.RawMessage) error {
	switch eventType {
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed, EventInvoiceUpdated:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("failed to decode invoice: %w", err)
		}
		switch eventType {
		case EventInvoicePaymentSucceeded:
			return b.invoicePaymentSucceeded(ctx, &inv)
		case EventInvoicePaymentFailed:
			return b.invoicePaymentFailed(ctx, &inv)
		default:
			return b.invoiceUpdated(ctx, &inv)
		}
	case EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return fmt.Errorf("failed to decode payment intent: %w", err)
		}
		return b.paymentIntentSucceeded(ctx, &pi)
	default:
		b.log.Info("Unhandled webhook event type", zap.String("event_type", eventType))
		return nil
	}
}

// owner returns tenant and client ids from processor metadata
func owner(metadata map[string]string) (string, string, bool) {
	tenantID, clientID := metadata["tenantId"], metadata["clientId"]
	return tenantID, clientID, tenantID != "" && clientID != ""
}

func (b *BillingBridge) findInvoice(tx *gorm.DB, stripeInvoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Where("stripe_invoice_id = ?", stripeInvoiceID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (b *BillingBridge) invoicePaymentSucceeded(ctx context.Context, remote *stripe.Invoice) error {
	tenantID, clientID, ok := owner(remote.Metadata)
	if !ok {
		b.log.Error("Missing metadata in invoice", zap.String("invoice_id", remote.ID))
		return nil
	}

	paidAt := time.Now()
	if remote.StatusTransitions != nil && remote.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(remote.StatusTransitions.PaidAt, 0)
	}
	paymentID := remote.ID
	if remote.PaymentIntent != nil && remote.PaymentIntent.ID != "" {
		paymentID = remote.PaymentIntent.ID
	}
	receiptURL := ""
	if remote.Charge != nil {
		receiptURL = remote.Charge.ReceiptURL
	}
	closingID := remote.Metadata["closingId"]

	var local *models.Invoice
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := b.findInvoice(tx, remote.ID)
		if err != nil {
			return err
		}
		if inv == nil {
			// Invoices raised outside the callables are recorded on first payment
			inv = &models.Invoice{
				TenantID:         tenantID,
				ClientID:         clientID,
				StripeInvoiceID:  remote.ID,
				Number:           remote.Number,
				Description:      remote.Description,
				Currency:         string(remote.Currency),
				Total:            remote.Total,
				HostedInvoiceURL: remote.HostedInvoiceURL,
				InvoicePDF:       remote.InvoicePDF,
				Metadata:         remote.Metadata,
			}
			if closingID != "" {
				inv.ClosingID = &closingID
			}
		}
		inv.Status = models.InvoiceStatusPaid
		inv.AmountPaid = remote.AmountPaid
		inv.PaidAt = &paidAt
		inv.Recalculate()
		if err := tx.Save(inv).Error; err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		local = inv

		payment := models.Payment{
			ID:                paymentID,
			TenantID:          inv.TenantID,
			ClientID:          inv.ClientID,
			InvoiceID:         inv.ID,
			Amount:            remote.AmountPaid,
			Currency:          string(remote.Currency),
			Status:            models.PaymentStatusSucceeded,
			PaymentMethodType: "card",
			ReceiptURL:        receiptURL,
			SucceededAt:       &paidAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"invoice_id", "amount", "currency", "status", "receipt_url", "succeeded_at", "updated_at"}),
		}).Create(&payment).Error; err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		if closingID != "" {
			if err := tx.Model(&models.Closing{}).
				Where("id = ? AND client_id = ?", closingID, inv.ClientID).
				Updates(map[string]interface{}{
					"payment_status": models.ClosingPaymentPaid,
					"amount_paid":    remote.AmountPaid,
					"paid_at":        paidAt,
				}).Error; err != nil {
				return fmt.Errorf("failed to update closing: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.log.Info("Invoice payment succeeded",
		zap.String("invoice_id", remote.ID),
		zap.String("client_id", local.ClientID),
		zap.Int64("amount", remote.AmountPaid))
	b.audit.Record(AuditEntry{
		ActorID:      models.SystemActor,
		ActorRole:    models.SystemActor,
		TenantID:     local.TenantID,
		ResourceType: "invoice",
		ResourceID:   local.ID,
		Action:       models.AuditActionPayment,
		Details:      map[string]interface{}{"amount": remote.AmountPaid, "paymentId": paymentID},
	})
	b.sendPaymentReceived(ctx, local, receiptURL)
	return nil
}

func (b *BillingBridge) sendPaymentReceived(ctx context.Context, inv *models.Invoice, receiptURL string) {
	if b.email == nil {
		return
	}
	var client models.Client
	if err := b.db.WithContext(ctx).First(&client, "id = ?", inv.ClientID).Error; err != nil {
		b.log.Warn("Payment receipt skipped; client not found", zap.String("client_id", inv.ClientID), zap.Error(err))
		return
	}
	email, err := b.email.BuildPaymentReceivedEmail(client.Profile.Email, PaymentReceivedEmailData{
		ClientName:    client.FullName(),
		Amount:        FormatCents(inv.AmountPaid),
		InvoiceNumber: inv.Number,
		ReceiptURL:    receiptURL,
	})
	if err != nil {
		b.log.Warn("Failed to build payment receipt", zap.String("invoice_id", inv.ID), zap.Error(err))
		return
	}
	b.email.SendAsync(email)
}

func (b *BillingBridge) invoicePaymentFailed(ctx context.Context, remote *stripe.Invoice) error {
	if _, _, ok := owner(remote.Metadata); !ok {
		return nil
	}
	result := b.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("stripe_invoice_id = ?", remote.ID).
		Where("status NOT IN ?", []string{models.InvoiceStatusPaid, models.InvoiceStatusVoid}).
		Update("status", string(remote.Status))
	if result.Error != nil {
		return fmt.Errorf("failed to update invoice: %w", result.Error)
	}
	b.log.Warn("Invoice payment failed", zap.String("invoice_id", remote.ID), zap.String("client_id", remote.Metadata["clientId"]))
	return nil
}

func (b *BillingBridge) invoiceUpdated(ctx context.Context, remote *stripe.Invoice) error {
	if _, _, ok := owner(remote.Metadata); !ok {
		return nil
	}
	db := b.db.WithContext(ctx)
	inv, err := b.findInvoice(db, remote.ID)
	if err != nil {
		return err
	}
	if inv == nil {
		b.log.Info("Invoice update for unknown invoice", zap.String("invoice_id", remote.ID))
		return nil
	}

	inv.HostedInvoiceURL = remote.HostedInvoiceURL
	inv.InvoicePDF = remote.InvoicePDF
	if !inv.IsFinal() {
		inv.Status = string(remote.Status)
		inv.Total = remote.Total
		inv.AmountPaid = remote.AmountPaid
		if remote.Number != "" {
			inv.Number = remote.Number
		}
		inv.Recalculate()
	}
	if err := db.Save(inv).Error; err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return nil
}

// paymentIntentSucceeded attaches card details to the payment record. Either
// webhook may arrive first, so both upsert without clobbering the other's columns.
func (b *BillingBridge) paymentIntentSucceeded(ctx context.Context, pi *stripe.PaymentIntent) error {
	tenantID, clientID, ok := owner(pi.Metadata)
	if !ok || pi.Invoice == nil || pi.Invoice.ID == "" {
		return nil
	}
	db := b.db.WithContext(ctx)

	inv, err := b.findInvoice(db, pi.Invoice.ID)
	if err != nil {
		return err
	}
	if inv == nil {
		b.log.Info("Payment intent for unknown invoice", zap.String("payment_intent_id", pi.ID), zap.String("invoice_id", pi.Invoice.ID))
		return nil
	}

	payment := models.Payment{
		ID:                pi.ID,
		TenantID:          tenantID,
		ClientID:          clientID,
		InvoiceID:         inv.ID,
		Amount:            pi.AmountReceived,
		Currency:          string(pi.Currency),
		Status:            models.PaymentStatusSucceeded,
		PaymentMethodType: "card",
	}
	if pi.LatestCharge != nil {
		payment.StripeChargeID = pi.LatestCharge.ID
	}
	if b.gateway != nil && pi.PaymentMethod != nil && pi.PaymentMethod.ID != "" {
		card, err := b.gateway.GetPaymentMethod(ctx, pi.PaymentMethod.ID)
		if err != nil {
			b.log.Warn("Failed to fetch payment method", zap.String("payment_intent_id", pi.ID), zap.Error(err))
		} else {
			payment.PaymentMethodType = card.Type
			payment.CardBrand = card.Brand
			payment.CardLast4 = card.Last4
		}
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payment_method_type", "card_brand", "card_last4", "stripe_charge_id", "updated_at"}),
	}).Create(&payment).Error; err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// PruneWebhookEvents deletes processed events older than maxAge
func (b *BillingBridge) PruneWebhookEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	result := b.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND created_at < ?", time.Now().Add(-maxAge)).
		Delete(&models.WebhookEvent{})
	return result.RowsAffected, result.Error
}
