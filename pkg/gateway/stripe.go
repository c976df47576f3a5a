package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/invoice"
	"github.com/stripe/stripe-go/v74/price"
	"github.com/stripe/stripe-go/v74/product"
	"github.com/stripe/stripe-go/v74/subscription"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeGateway integrates Stripe's billing APIs through the official SDK.
type StripeGateway struct {
	publicKey     string
	webhookSecret string
}

func NewStripeGateway(publicKey, secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{
		publicKey:     publicKey,
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

// Stripe status strings match the canonical set apart from spelling.
func normalizeStripeStatus(status string) string {
	if status == "canceled" {
		return "cancelled"
	}
	return status
}

// stripeEvents maps Stripe's event taxonomy onto the canonical set the
// dispatcher routes on. Unlisted types pass through untouched and end up
// acknowledged as unhandled.
var stripeEvents = map[string]string{
	"customer.subscription.created": EventSubscriptionActivated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionCancelled,
	"customer.subscription.paused":  EventSubscriptionPaused,
	"customer.subscription.resumed": EventSubscriptionResumed,
	"invoice.paid":                  EventInvoicePaid,
	"invoice.payment_succeeded":     EventInvoicePaid,
	"invoice.payment_failed":        EventPaymentFailed,
}

func (g *StripeGateway) CreateCustomer(email, name string, metadata map[string]string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	cust, err := customer.New(params)
	if err != nil {
		return nil, stripeError(ErrCustomerCreationFailed, "failed to create customer", err)
	}

	created := time.Unix(cust.Created, 0).UTC()
	return &Customer{
		ID:        cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		CreatedAt: &created,
	}, nil
}

func (g *StripeGateway) GetCustomer(customerID string) (*Customer, error) {
	cust, err := customer.Get(customerID, nil)
	if err != nil {
		return nil, stripeError(ErrCustomerNotFound, "customer not found", err)
	}

	created := time.Unix(cust.Created, 0).UTC()
	return &Customer{
		ID:        cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		CreatedAt: &created,
	}, nil
}

func (g *StripeGateway) CreateSubscription(customerID, planID string, trialDays int, metadata map[string]string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(planID)},
		},
	}
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, stripeError(ErrSubscriptionCreateFail, "failed to create subscription", err)
	}
	return stripeSubscription(sub, planID), nil
}

func (g *StripeGateway) CancelSubscription(subscriptionID string, cancelAtPeriodEnd bool) (*CancelResult, error) {
	var sub *stripe.Subscription
	var err error

	if cancelAtPeriodEnd {
		sub, err = subscription.Update(subscriptionID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		sub, err = subscription.Cancel(subscriptionID, nil)
	}
	if err != nil {
		return nil, stripeError(ErrSubscriptionCancelFail, "failed to cancel subscription", err)
	}

	result := &CancelResult{
		SubscriptionID: sub.ID,
		Status:         normalizeStripeStatus(string(sub.Status)),
	}
	if sub.EndedAt > 0 {
		t := time.Unix(sub.EndedAt, 0).UTC()
		result.EndedAt = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		result.CancelledAt = &t
	}
	return result, nil
}

func (g *StripeGateway) GetSubscription(subscriptionID string) (*Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, stripeError(ErrSubscriptionNotFound, "subscription not found", err)
	}
	return stripeSubscription(sub, ""), nil
}

func (g *StripeGateway) CreateProduct(name, description string) (*Product, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	if description != "" {
		params.Description = stripe.String(description)
	}

	prod, err := product.New(params)
	if err != nil {
		return nil, stripeError(ErrPlanCreationFailed, "failed to create product", err)
	}
	return &Product{ID: prod.ID, Name: prod.Name, Description: prod.Description}, nil
}

func (g *StripeGateway) CreatePrice(productID string, amountCents int64, currency, interval string, intervalCount int) (*Price, error) {
	if intervalCount < 1 {
		intervalCount = 1
	}

	p, err := price.New(&stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(amountCents),
		Currency:   stripe.String(strings.ToLower(currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(int64(intervalCount)),
		},
	})
	if err != nil {
		return nil, stripeError(ErrPlanCreationFailed, "failed to create price", err)
	}

	return &Price{
		ID:          p.ID,
		ProductID:   productID,
		AmountCents: p.UnitAmount,
		Currency:    strings.ToUpper(string(p.Currency)),
		Interval:    interval,
	}, nil
}

func (g *StripeGateway) CreateCheckoutSession(customerID, planID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(planID), Quantity: stripe.Int64(1)},
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, stripeError(ErrCheckoutCreationFailed, "failed to create checkout session", err)
	}

	result := &CheckoutSession{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
	}
	if sess.Subscription != nil {
		result.SubscriptionID = sess.Subscription.ID
	}
	return result, nil
}

func (g *StripeGateway) GetInvoice(invoiceID string) (*Invoice, error) {
	inv, err := invoice.Get(invoiceID, nil)
	if err != nil {
		return nil, stripeError(ErrInvoiceNotFound, "invoice not found", err)
	}

	result := &Invoice{
		ID:          inv.ID,
		AmountCents: inv.AmountDue,
		Currency:    strings.ToUpper(string(inv.Currency)),
		Status:      string(inv.Status),
		URL:         inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		result.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		result.SubscriptionID = inv.Subscription.ID
	}
	if inv.Created > 0 {
		t := time.Unix(inv.Created, 0).UTC()
		result.CreatedAt = &t
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		t := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		result.PaidAt = &t
	}
	return result, nil
}

// VerifyWebhookSignature validates the Stripe-Signature header (timestamped
// HMAC-SHA256 scheme) against the raw body.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature string) (bool, error) {
	if g.webhookSecret == "" {
		return false, &Error{
			Code:    ErrWebhookSecretMissing,
			Message: "webhook secret not configured",
		}
	}

	if err := webhook.ValidatePayload(payload, signature, g.webhookSecret); err != nil {
		return false, nil
	}
	return true, nil
}

func (g *StripeGateway) ParseWebhookEvent(payload []byte) (*Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return &Event{}, nil
	}
	if event.ID == "" || event.Type == "" {
		return &Event{}, nil
	}

	eventType, ok := stripeEvents[event.Type]
	if !ok {
		eventType = event.Type
	}

	object := event.Data.Object
	data := EventData{Raw: object}

	switch {
	case strings.HasPrefix(event.Type, "customer.subscription."):
		data.SubscriptionID = asString(object, "id")
		data.Status = normalizeStripeStatus(asString(object, "status"))
		data.CustomerID = asString(object, "customer")
		data.CurrentPeriodStart = asTime(object, "current_period_start")
		data.CurrentPeriodEnd = asTime(object, "current_period_end")
	case strings.HasPrefix(event.Type, "invoice."):
		data.InvoiceID = asString(object, "id")
		data.SubscriptionID = asString(object, "subscription")
		data.CustomerID = asString(object, "customer")
		data.AmountCents = asInt64(object, "amount_due")
		data.Currency = strings.ToUpper(asString(object, "currency"))
		data.IssuedAt = asTime(object, "created")
		data.InvoiceURL = asString(object, "hosted_invoice_url")
	}

	return &Event{Type: eventType, ID: event.ID, Data: data}, nil
}

func stripeSubscription(sub *stripe.Subscription, planID string) *Subscription {
	result := &Subscription{
		ID:                sub.ID,
		Status:            normalizeStripeStatus(string(sub.Status)),
		PlanID:            planID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		result.CustomerID = sub.Customer.ID
	}
	if result.PlanID == "" && sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		result.PlanID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		result.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		result.CurrentPeriodEnd = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		result.TrialEnd = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		result.CancelledAt = &t
	}
	return result
}

func stripeError(code, message string, err error) *Error {
	ge := &Error{Code: code, Message: fmt.Sprintf("%s: %v", message, err)}
	var se *stripe.Error
	if errors.As(err, &se) {
		ge.Raw = map[string]interface{}{
			"type":    string(se.Type),
			"code":    string(se.Code),
			"message": se.Msg,
		}
	}
	return ge
}
