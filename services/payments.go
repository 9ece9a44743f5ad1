package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CustomerDetails are the contact fields mirrored to the processor's customer
type CustomerDetails struct {
	Name     string
	Email    string
	Phone    string
	Metadata map[string]string
}

// CardSummary is the non-sensitive view of a saved payment method
type CardSummary struct {
	ID       string
	Type     string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// FlatFeeInvoiceRequest describes a single-line invoice billed by email
type FlatFeeInvoiceRequest struct {
	CustomerID      string
	Description     string
	LineDescription string
	Amount          int64
	Currency        string
	DaysUntilDue    int64
	Metadata        map[string]string
}

// GatewayInvoice is the processor's view of an invoice
type GatewayInvoice struct {
	ID               string
	Number           string
	Status           string
	Currency         string
	Total            int64
	AmountPaid       int64
	AmountDue        int64
	HostedInvoiceURL string
	InvoicePDF       string
	DueDate          *time.Time
	PaymentIntentID  string
	ReceiptURL       string
}

// CardError is a declined or otherwise rejected card; Message is safe to show the payer
type CardError struct {
	Message string
}

func (e *CardError) Error() string {
	return "card error: " + e.Message
}

// PaymentGateway is the payment processor surface the billing callables use
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, details CustomerDetails) (string, error)
	UpdateCustomer(ctx context.Context, customerID string, details CustomerDetails) error
	CreateSetupIntent(ctx context.Context, customerID string, metadata map[string]string) (string, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*CardSummary, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*CardSummary, error)
	PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) (*GatewayInvoice, error)
	CreateFlatFeeInvoice(ctx context.Context, req FlatFeeInvoiceRequest) (*GatewayInvoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error)
}

// StripeGateway implements PaymentGateway with the Stripe API
type StripeGateway struct {
	sc *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc}
}

// translateStripeError turns card failures into *CardError and leaves the rest wrapped
func translateStripeError(err error, action string) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return &CardError{Message: se.Msg}
	}
	return fmt.Errorf("stripe: %s: %w", action, err)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, details CustomerDetails) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(details.Name),
		Email: stripe.String(details.Email),
	}
	if details.Phone != "" {
		params.Phone = stripe.String(details.Phone)
	}
	for k, v := range details.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	customer, err := g.sc.Customers.New(params)
	if err != nil {
		return "", translateStripeError(err, "create customer")
	}
	return customer.ID, nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID string, details CustomerDetails) error {
	params := &stripe.CustomerParams{
		Name:  stripe.String(details.Name),
		Email: stripe.String(details.Email),
		Phone: stripe.String(details.Phone),
	}
	params.Context = ctx
	if _, err := g.sc.Customers.Update(customerID, params); err != nil {
		return translateStripeError(err, "update customer")
	}
	return nil
}

func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string, metadata map[string]string) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	si, err := g.sc.SetupIntents.New(params)
	if err != nil {
		return "", translateStripeError(err, "create setup intent")
	}
	return si.ClientSecret, nil
}

func cardSummary(pm *stripe.PaymentMethod) *CardSummary {
	summary := &CardSummary{ID: pm.ID, Type: string(pm.Type)}
	if pm.Card != nil {
		summary.Brand = string(pm.Card.Brand)
		summary.Last4 = pm.Card.Last4
		summary.ExpMonth = pm.Card.ExpMonth
		summary.ExpYear = pm.Card.ExpYear
	}
	return summary
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*CardSummary, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := g.sc.PaymentMethods.Attach(paymentMethodID, params)
	if err != nil {
		return nil, translateStripeError(err, "attach payment method")
	}
	return cardSummary(pm), nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	if _, err := g.sc.Customers.Update(customerID, params); err != nil {
		return translateStripeError(err, "set default payment method")
	}
	return nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := g.sc.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		return translateStripeError(err, "detach payment method")
	}
	return nil
}

func (g *StripeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*CardSummary, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	pm, err := g.sc.PaymentMethods.Get(paymentMethodID, params)
	if err != nil {
		return nil, translateStripeError(err, "get payment method")
	}
	return cardSummary(pm), nil
}

// gatewayInvoice converts a Stripe invoice; expandable references may carry only an ID
func gatewayInvoice(inv *stripe.Invoice) *GatewayInvoice {
	out := &GatewayInvoice{
		ID:               inv.ID,
		Number:           inv.Number,
		Status:           string(inv.Status),
		Currency:         string(inv.Currency),
		Total:            inv.Total,
		AmountPaid:       inv.AmountPaid,
		AmountDue:        inv.AmountDue,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
	}
	if inv.DueDate > 0 {
		due := time.Unix(inv.DueDate, 0)
		out.DueDate = &due
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	if inv.Charge != nil {
		out.ReceiptURL = inv.Charge.ReceiptURL
	}
	return out
}

func (g *StripeGateway) PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) (*GatewayInvoice, error) {
	params := &stripe.InvoicePayParams{PaymentMethod: stripe.String(paymentMethodID)}
	params.AddExpand("charge")
	params.Context = ctx
	inv, err := g.sc.Invoices.Pay(invoiceID, params)
	if err != nil {
		return nil, translateStripeError(err, "pay invoice")
	}
	return gatewayInvoice(inv), nil
}

// CreateFlatFeeInvoice creates, itemises, finalises and sends an invoice
func (g *StripeGateway) CreateFlatFeeInvoice(ctx context.Context, req FlatFeeInvoiceRequest) (*GatewayInvoice, error) {
	params := &stripe.InvoiceParams{
		Customer:         stripe.String(req.CustomerID),
		Description:      stripe.String(req.Description),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(req.DaysUntilDue),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	inv, err := g.sc.Invoices.New(params)
	if err != nil {
		return nil, translateStripeError(err, "create invoice")
	}

	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(req.CustomerID),
		Invoice:     stripe.String(inv.ID),
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.LineDescription),
	}
	itemParams.Context = ctx
	if _, err := g.sc.InvoiceItems.New(itemParams); err != nil {
		return nil, translateStripeError(err, "add invoice item")
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx
	if _, err := g.sc.Invoices.FinalizeInvoice(inv.ID, finalizeParams); err != nil {
		return nil, translateStripeError(err, "finalize invoice")
	}

	sendParams := &stripe.InvoiceSendInvoiceParams{}
	sendParams.Context = ctx
	sent, err := g.sc.Invoices.SendInvoice(inv.ID, sendParams)
	if err != nil {
		return nil, translateStripeError(err, "send invoice")
	}
	return gatewayInvoice(sent), nil
}

func (g *StripeGateway) GetInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := g.sc.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, translateStripeError(err, "get invoice")
	}
	return gatewayInvoice(inv), nil
}
