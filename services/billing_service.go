package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tls_portal_go/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	closingInvoiceDaysUntilDue = 7
	closingFeeType             = "closing-fee"
	defaultCurrency            = "usd"
)

// PayInvoiceResult is returned by the pay-invoice callable
type PayInvoiceResult struct {
	Success    bool   `json:"success"`
	ReceiptURL string `json:"receiptUrl,omitempty"`
}

// ClosingInvoiceResult is returned by the create-closing-invoice callable
type ClosingInvoiceResult struct {
	InvoiceID        string `json:"invoiceId"`
	HostedInvoiceURL string `json:"hostedInvoiceUrl"`
	InvoicePDF       string `json:"invoicePdf"`
}

// PaymentLink is returned by the get-invoice-payment-link callable
type PaymentLink struct {
	PaymentURL string `json:"paymentUrl"`
	Status     string `json:"status"`
}

// NewClosingInput is what staff provide to open a closing
type NewClosingInput struct {
	PropertyAddress models.PropertyAddress `json:"propertyAddress"`
	PropertyType    string                 `json:"propertyType"`
	TransactionType string                 `json:"transactionType"`
	FixedFee        int64                  `json:"fixedFee"`
	ClosingDate     *time.Time             `json:"closingDate"`
}

// BillingService implements the billing callables over a PaymentGateway.
// A nil gateway means billing is not configured.
type BillingService struct {
	db      *gorm.DB
	gateway PaymentGateway
	email   *EmailService
	log     *zap.Logger
	audit   *AuditService
}

func NewBillingService(db *gorm.DB, gateway PaymentGateway, email *EmailService, log *zap.Logger, audit *AuditService) *BillingService {
	return &BillingService{db: db, gateway: gateway, email: email, log: log, audit: audit}
}

// Configured reports whether a payment processor is wired
func (s *BillingService) Configured() bool {
	return s.gateway != nil
}

func (s *BillingService) requireGateway() error {
	if s.gateway == nil {
		return &Error{Kind: KindFailedPrecondition, Message: "Billing is not configured", Err: ErrBillingNotConfigured}
	}
	return nil
}

func (s *BillingService) loadClient(ctx context.Context, tenantID, clientID string) (*models.Client, error) {
	var client models.Client
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", clientID, tenantID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Client not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load client")
	}
	return &client, nil
}

// billingClient loads the client and creates its processor customer when missing
func (s *BillingService) billingClient(ctx context.Context, caller *Caller, tenantID, clientID string) (*models.Client, error) {
	if err := AuthorizeClient(caller, tenantID, clientID); err != nil {
		return nil, err
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	client, err := s.loadClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCustomer(ctx, client); err != nil {
		s.log.Error("Error creating billing customer", zap.String("client_id", clientID), zap.Error(err))
		return nil, Internal(err, "Failed to set up billing for this client")
	}
	return client, nil
}

func customerDetails(client *models.Client) CustomerDetails {
	return CustomerDetails{
		Name:  client.FullName(),
		Email: client.Profile.Email,
		Phone: client.Profile.Mobile,
		Metadata: map[string]string{
			"tenantId":  client.TenantID,
			"clientId":  client.ID,
			"subdomain": client.Subdomain,
		},
	}
}

// ensureCustomer creates and links a processor customer for a client without one.
// When another writer links one first, the stored customer wins.
func (s *BillingService) ensureCustomer(ctx context.Context, client *models.Client) error {
	if client.StripeCustomerID != "" {
		return nil
	}
	customerID, err := s.gateway.CreateCustomer(ctx, customerDetails(client))
	if err != nil {
		return fmt.Errorf("failed to create billing customer: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.Client{}).
		Where("id = ? AND (stripe_customer_id = '' OR stripe_customer_id IS NULL)", client.ID).
		Update("stripe_customer_id", customerID)
	if res.Error != nil {
		return fmt.Errorf("failed to store billing customer id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Client
		if err := s.db.WithContext(ctx).Select("id", "stripe_customer_id").First(&current, "id = ?", client.ID).Error; err != nil {
			return fmt.Errorf("failed to reload billing customer id: %w", err)
		}
		s.log.Warn("Client already linked to a billing customer, new customer left unused",
			zap.String("client_id", client.ID),
			zap.String("customer_id", current.StripeCustomerID),
			zap.String("unused_customer_id", customerID))
		customerID = current.StripeCustomerID
	} else {
		s.log.Info("Billing customer created", zap.String("client_id", client.ID), zap.String("customer_id", customerID))
	}
	client.StripeCustomerID = customerID
	return nil
}

// loadInvoice finds an invoice by local ID or processor ID within one client
func (s *BillingService) loadInvoice(ctx context.Context, tenantID, clientID, invoiceID string) (*models.Invoice, error) {
	if invoiceID == "" {
		return nil, InvalidArgument("invoiceId is required")
	}
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND client_id = ?", tenantID, clientID).
		Where("id = ? OR stripe_invoice_id = ?", invoiceID, invoiceID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Invoice not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load invoice")
	}
	return &inv, nil
}

func (s *BillingService) CreateSetupIntent(ctx context.Context, caller *Caller, tenantID, clientID string) (string, error) {
	client, err := s.billingClient(ctx, caller, tenantID, clientID)
	if err != nil {
		return "", err
	}
	secret, err := s.gateway.CreateSetupIntent(ctx, client.StripeCustomerID, map[string]string{
		"tenantId": tenantID,
		"clientId": clientID,
	})
	if err != nil {
		s.log.Error("Error creating setup intent", zap.String("client_id", clientID), zap.Error(err))
		return "", Internal(err, "Failed to create setup intent")
	}
	return secret, nil
}

// AddPaymentMethod attaches a method; the client's first method becomes the default
func (s *BillingService) AddPaymentMethod(ctx context.Context, caller *Caller, tenantID, clientID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return InvalidArgument("paymentMethodId is required")
	}
	client, err := s.billingClient(ctx, caller, tenantID, clientID)
	if err != nil {
		return err
	}

	card, err := s.gateway.AttachPaymentMethod(ctx, paymentMethodID, client.StripeCustomerID)
	if err != nil {
		var cardErr *CardError
		if errors.As(err, &cardErr) {
			return InvalidArgument("%s", cardErr.Message)
		}
		s.log.Error("Error adding payment method", zap.String("client_id", clientID), zap.Error(err))
		return Internal(err, "Failed to add payment method")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.PaymentMethod{}).
		Where("client_id = ? AND id <> ?", clientID, card.ID).Count(&existing).Error; err != nil {
		return Internal(err, "Failed to add payment method")
	}
	isDefault := existing == 0

	method := models.PaymentMethod{
		ID:        card.ID,
		TenantID:  tenantID,
		ClientID:  clientID,
		Type:      card.Type,
		CardBrand: card.Brand,
		CardLast4: card.Last4,
		ExpMonth:  card.ExpMonth,
		ExpYear:   card.ExpYear,
		IsDefault: isDefault,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "card_brand", "card_last4", "exp_month", "exp_year"}),
	}).Create(&method).Error; err != nil {
		return Internal(err, "Failed to add payment method")
	}

	if isDefault {
		if err := s.gateway.SetDefaultPaymentMethod(ctx, client.StripeCustomerID, card.ID); err != nil {
			s.log.Error("Error setting default payment method", zap.String("client_id", clientID), zap.Error(err))
			return Internal(err, "Failed to add payment method")
		}
	}

	s.log.Info("Payment method added", zap.String("client_id", clientID), zap.String("payment_method_id", card.ID))
	return nil
}

// RemovePaymentMethod detaches a method; when it was the default the newest remaining one takes over
func (s *BillingService) RemovePaymentMethod(ctx context.Context, caller *Caller, tenantID, clientID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return InvalidArgument("paymentMethodId is required")
	}
	client, err := s.billingClient(ctx, caller, tenantID, clientID)
	if err != nil {
		return err
	}

	var method models.PaymentMethod
	err = s.db.WithContext(ctx).Where("id = ? AND tenant_id = ? AND client_id = ?", paymentMethodID, tenantID, clientID).First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("Payment method not found")
	}
	if err != nil {
		return Internal(err, "Failed to remove payment method")
	}

	if err := s.gateway.DetachPaymentMethod(ctx, paymentMethodID); err != nil {
		s.log.Error("Error removing payment method", zap.String("client_id", clientID), zap.Error(err))
		return Internal(err, "Failed to remove payment method")
	}
	if err := s.db.WithContext(ctx).Delete(&method).Error; err != nil {
		return Internal(err, "Failed to remove payment method")
	}

	if method.IsDefault {
		var next models.PaymentMethod
		err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at DESC").First(&next).Error
		if err == nil {
			if err := s.db.WithContext(ctx).Model(&next).Update("is_default", true).Error; err != nil {
				s.log.Error("Failed to mark default payment method", zap.String("client_id", clientID), zap.Error(err))
			}
			if err := s.gateway.SetDefaultPaymentMethod(ctx, client.StripeCustomerID, next.ID); err != nil {
				s.log.Warn("Failed to promote default payment method", zap.String("client_id", clientID), zap.Error(err))
			}
		}
	}

	s.log.Info("Payment method removed", zap.String("client_id", clientID), zap.String("payment_method_id", paymentMethodID))
	return nil
}

// PayInvoice charges an invoice. The local invoice is left for webhooks to update.
func (s *BillingService) PayInvoice(ctx context.Context, caller *Caller, tenantID, clientID, invoiceID, paymentMethodID string) (*PayInvoiceResult, error) {
	if err := AuthorizeClient(caller, tenantID, clientID); err != nil {
		return nil, err
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	if paymentMethodID == "" {
		return nil, InvalidArgument("paymentMethodId is required")
	}
	inv, err := s.loadInvoice(ctx, tenantID, clientID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvoiceStatusPaid {
		return nil, FailedPrecondition("Invoice is already paid")
	}

	paid, err := s.gateway.PayInvoice(ctx, inv.StripeInvoiceID, paymentMethodID)
	if err != nil {
		var cardErr *CardError
		if errors.As(err, &cardErr) {
			s.log.Warn("Invoice payment declined", zap.String("invoice_id", inv.ID), zap.String("reason", cardErr.Message))
			return nil, InvalidArgument("%s", cardErr.Message)
		}
		s.log.Error("Error paying invoice", zap.String("invoice_id", inv.ID), zap.Error(err))
		return nil, Internal(err, "Payment failed")
	}

	s.log.Info("Invoice paid",
		zap.String("client_id", clientID),
		zap.String("invoice_id", inv.ID),
		zap.Int64("amount", paid.AmountPaid))
	s.audit.Record(AuditEntry{
		ActorID:      caller.IdentityID,
		ActorRole:    caller.Role,
		TenantID:     tenantID,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Action:       models.AuditActionPayment,
		Details:      map[string]interface{}{"amount": paid.AmountPaid},
	})
	return &PayInvoiceResult{Success: true, ReceiptURL: paid.ReceiptURL}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CreateClosingInvoice bills a closing's flat fee and links the invoice to it
func (s *BillingService) CreateClosingInvoice(ctx context.Context, caller *Caller, tenantID, clientID, closingID string) (*ClosingInvoiceResult, error) {
	if closingID == "" {
		return nil, InvalidArgument("Missing required parameters")
	}
	client, err := s.billingClient(ctx, caller, tenantID, clientID)
	if err != nil {
		return nil, err
	}

	var closing models.Closing
	err = s.db.WithContext(ctx).Where("id = ? AND tenant_id = ? AND client_id = ?", closingID, tenantID, clientID).First(&closing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Closing not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load closing")
	}
	if closing.InvoiceID != nil {
		return nil, FailedPrecondition("Closing already has an invoice")
	}

	transactionType := titleCase(closing.TransactionType)
	description := fmt.Sprintf("%s - %s, %s", transactionType, closing.PropertyAddress.Street, closing.PropertyAddress.City)
	lineDescription := fmt.Sprintf("Flat Fee - %s Closing", transactionType)

	sent, err := s.gateway.CreateFlatFeeInvoice(ctx, FlatFeeInvoiceRequest{
		CustomerID:      client.StripeCustomerID,
		Description:     "Closing Services - " + description,
		LineDescription: lineDescription,
		Amount:          closing.FixedFee,
		Currency:        defaultCurrency,
		DaysUntilDue:    closingInvoiceDaysUntilDue,
		Metadata: map[string]string{
			"tenantId":        tenantID,
			"clientId":        clientID,
			"closingId":       closingID,
			"transactionType": closing.TransactionType,
		},
	})
	if err != nil {
		s.log.Error("Error creating invoice", zap.String("closing_id", closingID), zap.Error(err))
		return nil, Internal(err, "Failed to create invoice")
	}

	currency := sent.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	inv := models.Invoice{
		TenantID:         tenantID,
		ClientID:         clientID,
		ClosingID:        &closing.ID,
		StripeInvoiceID:  sent.ID,
		Number:           sent.Number,
		Status:           sent.Status,
		Description:      description,
		Currency:         currency,
		Total:            sent.Total,
		AmountPaid:       sent.AmountPaid,
		HostedInvoiceURL: sent.HostedInvoiceURL,
		InvoicePDF:       sent.InvoicePDF,
		DueDate:          sent.DueDate,
		LineItems: []models.InvoiceLineItem{{
			Description: lineDescription,
			Quantity:    1,
			UnitAmount:  closing.FixedFee,
			Amount:      closing.FixedFee,
			Type:        closingFeeType,
		}},
		Metadata: map[string]string{"closingId": closingID, "transactionType": closing.TransactionType},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		return tx.Model(&closing).Updates(map[string]interface{}{
			"invoice_id":     inv.ID,
			"payment_status": models.ClosingPaymentPending,
		}).Error
	})
	if err != nil {
		// The processor invoice exists; the invoice.updated webhook carries the metadata to retry against
		s.log.Error("Failed to save closing invoice", zap.String("closing_id", closingID), zap.String("stripe_invoice_id", sent.ID), zap.Error(err))
		return nil, Internal(err, "Failed to save invoice")
	}

	s.log.Info("Invoice created for closing",
		zap.String("closing_id", closingID),
		zap.String("invoice_id", inv.ID),
		zap.Int64("amount", closing.FixedFee))
	s.notifyInvoiceCreated(client, &inv)

	return &ClosingInvoiceResult{
		InvoiceID:        inv.ID,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
	}, nil
}

func (s *BillingService) notifyInvoiceCreated(client *models.Client, inv *models.Invoice) {
	if s.email == nil {
		return
	}
	due := ""
	if inv.DueDate != nil {
		due = inv.DueDate.Format("January 2, 2006")
	}
	email, err := s.email.BuildInvoiceCreatedEmail(client.Profile.Email, InvoiceCreatedEmailData{
		ClientName:  client.FullName(),
		Description: inv.Description,
		Amount:      FormatCents(inv.Total),
		PaymentURL:  inv.HostedInvoiceURL,
		DueDate:     due,
	})
	if err != nil {
		s.log.Warn("Failed to build invoice email", zap.String("invoice_id", inv.ID), zap.Error(err))
		return
	}
	s.email.SendAsync(email)
}

func (s *BillingService) GetInvoicePaymentLink(ctx context.Context, caller *Caller, tenantID, clientID, invoiceID string) (*PaymentLink, error) {
	if err := AuthorizeClient(caller, tenantID, clientID); err != nil {
		return nil, err
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	inv, err := s.loadInvoice(ctx, tenantID, clientID, invoiceID)
	if err != nil {
		return nil, err
	}

	remote, err := s.gateway.GetInvoice(ctx, inv.StripeInvoiceID)
	if err != nil {
		s.log.Error("Error getting payment link", zap.String("invoice_id", inv.ID), zap.Error(err))
		return nil, Internal(err, "Failed to get payment link")
	}
	return &PaymentLink{PaymentURL: remote.HostedInvoiceURL, Status: remote.Status}, nil
}

// CreateClosing opens a closing for a client; staff only
func (s *BillingService) CreateClosing(ctx context.Context, caller *Caller, tenantID, clientID string, in NewClosingInput) (*models.Closing, error) {
	if err := AuthorizeStaff(caller, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.loadClient(ctx, tenantID, clientID); err != nil {
		return nil, err
	}
	if !models.IsValidTransactionType(in.TransactionType) {
		return nil, InvalidArgument("transactionType must be purchase, sale or refinance")
	}
	if in.FixedFee <= 0 {
		return nil, InvalidArgument("fixedFee must be a positive amount in cents")
	}
	addr := in.PropertyAddress
	addr.Street = sanitizeText(addr.Street)
	addr.City = sanitizeText(addr.City)
	addr.State = strings.ToUpper(sanitizeText(addr.State))
	addr.ZipCode = strings.TrimSpace(addr.ZipCode)
	if addr.Street == "" || addr.City == "" {
		return nil, InvalidArgument("propertyAddress street and city are required")
	}

	closing := models.Closing{
		TenantID:        tenantID,
		ClientID:        clientID,
		PropertyAddress: addr,
		PropertyType:    sanitizeText(in.PropertyType),
		TransactionType: in.TransactionType,
		FixedFee:        in.FixedFee,
		ClosingDate:     in.ClosingDate,
		Status:          models.ClosingStatusScheduled,
		PaymentStatus:   models.ClosingPaymentUnpaid,
	}
	if err := s.db.WithContext(ctx).Create(&closing).Error; err != nil {
		return nil, Internal(err, "failed to create closing")
	}
	s.audit.Record(AuditEntry{
		ActorID:      caller.IdentityID,
		ActorRole:    caller.Role,
		TenantID:     tenantID,
		ResourceType: "closing",
		ResourceID:   closing.ID,
		Action:       models.AuditActionCreate,
	})
	return &closing, nil
}

func (s *BillingService) ListInvoices(ctx context.Context, caller *Caller, tenantID, clientID string) ([]models.Invoice, error) {
	var out []models.Invoice
	return out, s.listForClient(ctx, caller, tenantID, clientID, &out)
}

func (s *BillingService) ListPayments(ctx context.Context, caller *Caller, tenantID, clientID string) ([]models.Payment, error) {
	var out []models.Payment
	return out, s.listForClient(ctx, caller, tenantID, clientID, &out)
}

func (s *BillingService) ListPaymentMethods(ctx context.Context, caller *Caller, tenantID, clientID string) ([]models.PaymentMethod, error) {
	var out []models.PaymentMethod
	return out, s.listForClient(ctx, caller, tenantID, clientID, &out)
}

func (s *BillingService) ListClosings(ctx context.Context, caller *Caller, tenantID, clientID string) ([]models.Closing, error) {
	var out []models.Closing
	return out, s.listForClient(ctx, caller, tenantID, clientID, &out)
}

func (s *BillingService) listForClient(ctx context.Context, caller *Caller, tenantID, clientID string, dest interface{}) error {
	if err := AuthorizeClient(caller, tenantID, clientID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND client_id = ?", tenantID, clientID).
		Order("created_at DESC").
		Find(dest).Error; err != nil {
		return Internal(err, "failed to load billing records")
	}
	return nil
}

// Register hooks billing customer creation and sync to client triggers
func (s *BillingService) Register(t *Triggers) {
	t.On(ClientCreated, "create-billing-customer", s.CreateBillingCustomer)
	t.On(ClientUpdated, "sync-billing-customer", s.SyncBillingCustomer)
}

// CreateBillingCustomer creates the processor customer for a new client
func (s *BillingService) CreateBillingCustomer(ctx context.Context, ev ClientEvent) error {
	if s.gateway == nil {
		return nil
	}
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", ev.Client.ID).Error; err != nil {
		return fmt.Errorf("failed to load client: %w", err)
	}
	return s.ensureCustomer(ctx, &client)
}

// SyncBillingCustomer mirrors name, email and phone changes to the processor.
// A client whose customer was never created gets one with its current details.
func (s *BillingService) SyncBillingCustomer(ctx context.Context, ev ClientEvent) error {
	if s.gateway == nil || ev.Previous == nil {
		return nil
	}
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", ev.Client.ID).Error; err != nil {
		return fmt.Errorf("failed to load client: %w", err)
	}
	if client.StripeCustomerID == "" {
		return s.ensureCustomer(ctx, &client)
	}

	before, after := ev.Previous.Profile, ev.Client.Profile
	if before.Email == after.Email && before.FirstName == after.FirstName &&
		before.LastName == after.LastName && before.Mobile == after.Mobile {
		return nil
	}

	if err := s.gateway.UpdateCustomer(ctx, client.StripeCustomerID, CustomerDetails{
		Name:  ev.Client.FullName(),
		Email: after.Email,
		Phone: after.Mobile,
	}); err != nil {
		return fmt.Errorf("failed to update billing customer: %w", err)
	}
	s.log.Info("Billing customer updated", zap.String("client_id", ev.Client.ID))
	return nil
}
