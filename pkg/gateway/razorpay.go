package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayGateway integrates Razorpay's subscription and payment APIs.
// Amounts are in the smallest currency unit (paise for INR).
type RazorpayGateway struct {
	client        *razorpay.Client
	webhookSecret string
}

func NewRazorpayGateway(keyID, keySecret, webhookSecret string) *RazorpayGateway {
	return &RazorpayGateway{
		client:        razorpay.NewClient(keyID, keySecret),
		webhookSecret: webhookSecret,
	}
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

// razorpayStatus maps Razorpay subscription states onto the canonical set.
var razorpayStatus = map[string]string{
	"created":       "incomplete",
	"authenticated": "trialing",
	"active":        "active",
	"pending":       "past_due",
	"halted":        "unpaid",
	"cancelled":     "cancelled",
	"completed":     "cancelled",
	"expired":       "incomplete_expired",
	"paused":        "paused",
}

func normalizeRazorpayStatus(status string) string {
	if mapped, ok := razorpayStatus[status]; ok {
		return mapped
	}
	return status
}

func (g *RazorpayGateway) CreateCustomer(email, name string, metadata map[string]string) (*Customer, error) {
	data := map[string]interface{}{
		"email": email,
		// Return the existing customer when the email is already registered.
		"fail_existing": "0",
	}
	if name != "" {
		data["name"] = name
	}
	if len(metadata) > 0 {
		data["notes"] = notes(metadata)
	}

	cust, err := g.client.Customer.Create(data, nil)
	if err != nil {
		log.Printf("Failed to create Razorpay customer for %s: %v", email, err)
		return nil, &Error{
			Code:    ErrCustomerCreationFailed,
			Message: fmt.Sprintf("failed to create customer: %v", err),
		}
	}

	return &Customer{
		ID:        asString(cust, "id"),
		Email:     asString(cust, "email"),
		Name:      asString(cust, "name"),
		CreatedAt: asTime(cust, "created_at"),
		Raw:       cust,
	}, nil
}

func (g *RazorpayGateway) GetCustomer(customerID string) (*Customer, error) {
	cust, err := g.client.Customer.Fetch(customerID, nil, nil)
	if err != nil {
		return nil, &Error{
			Code:    ErrCustomerNotFound,
			Message: fmt.Sprintf("customer not found: %v", err),
		}
	}

	return &Customer{
		ID:        asString(cust, "id"),
		Email:     asString(cust, "email"),
		Name:      asString(cust, "name"),
		CreatedAt: asTime(cust, "created_at"),
		Raw:       cust,
	}, nil
}

func (g *RazorpayGateway) CreateSubscription(customerID, planID string, trialDays int, metadata map[string]string) (*Subscription, error) {
	data := map[string]interface{}{
		"plan_id":     planID,
		"customer_id": customerID,
		"total_count": 12,
		"quantity":    1,
	}
	if trialDays > 0 {
		// Razorpay models trials by deferring the subscription start.
		data["start_at"] = time.Now().AddDate(0, 0, trialDays).Unix()
	}
	if len(metadata) > 0 {
		data["notes"] = notes(metadata)
	}

	sub, err := g.client.Subscription.Create(data, nil)
	if err != nil {
		log.Printf("Failed to create Razorpay subscription for customer %s: %v", customerID, err)
		return nil, &Error{
			Code:    ErrSubscriptionCreateFail,
			Message: fmt.Sprintf("failed to create subscription: %v", err),
		}
	}

	return razorpaySubscription(sub), nil
}

func (g *RazorpayGateway) CancelSubscription(subscriptionID string, cancelAtPeriodEnd bool) (*CancelResult, error) {
	cycleEnd := 0
	if cancelAtPeriodEnd {
		cycleEnd = 1
	}

	sub, err := g.client.Subscription.Cancel(subscriptionID, map[string]interface{}{
		"cancel_at_cycle_end": cycleEnd,
	}, nil)
	if err != nil {
		log.Printf("Failed to cancel Razorpay subscription %s: %v", subscriptionID, err)
		return nil, &Error{
			Code:    ErrSubscriptionCancelFail,
			Message: fmt.Sprintf("failed to cancel subscription: %v", err),
		}
	}

	return &CancelResult{
		SubscriptionID: asString(sub, "id"),
		Status:         normalizeRazorpayStatus(asString(sub, "status")),
		EndedAt:        asTime(sub, "ended_at"),
		CancelledAt:    asTime(sub, "cancelled_at"),
		Raw:            sub,
	}, nil
}

func (g *RazorpayGateway) GetSubscription(subscriptionID string) (*Subscription, error) {
	sub, err := g.client.Subscription.Fetch(subscriptionID, nil, nil)
	if err != nil {
		return nil, &Error{
			Code:    ErrSubscriptionNotFound,
			Message: fmt.Sprintf("subscription not found: %v", err),
		}
	}
	return razorpaySubscription(sub), nil
}

// CreateProduct is synthetic: Razorpay has no product concept, plans are the
// primary entity. It exists for interface compatibility.
func (g *RazorpayGateway) CreateProduct(name, description string) (*Product, error) {
	return &Product{
		ID:          strings.ReplaceAll(strings.ToLower(name), " ", "_"),
		Name:        name,
		Description: description,
	}, nil
}

func (g *RazorpayGateway) CreatePrice(productID string, amountCents int64, currency, interval string, intervalCount int) (*Price, error) {
	periods := map[string]string{
		"month": "monthly",
		"year":  "yearly",
		"week":  "weekly",
		"day":   "daily",
	}
	period, ok := periods[interval]
	if !ok {
		period = "monthly"
	}
	if intervalCount < 1 {
		intervalCount = 1
	}

	plan, err := g.client.Plan.Create(map[string]interface{}{
		"period":   period,
		"interval": intervalCount,
		"item": map[string]interface{}{
			"name":     productID,
			"amount":   amountCents,
			"currency": strings.ToUpper(currency),
		},
	}, nil)
	if err != nil {
		return nil, &Error{
			Code:    ErrPlanCreationFailed,
			Message: fmt.Sprintf("failed to create plan: %v", err),
		}
	}

	price := &Price{
		ID:        asString(plan, "id"),
		ProductID: productID,
		Interval:  interval,
		Raw:       plan,
	}
	if item := asMap(plan, "item"); item != nil {
		price.AmountCents = asInt64(item, "amount")
		price.Currency = asString(item, "currency")
	}
	return price, nil
}

// CreateCheckoutSession creates the subscription and hands back its hosted
// checkout URL; Razorpay has no separate session object, so the subscription
// id doubles as the session id.
func (g *RazorpayGateway) CreateCheckoutSession(customerID, planID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	sub, err := g.CreateSubscription(customerID, planID, 0, metadata)
	if err != nil {
		return nil, &Error{
			Code:    ErrCheckoutCreationFailed,
			Message: fmt.Sprintf("failed to create checkout session: %v", err),
		}
	}

	shortURL := asString(sub.Raw, "short_url")
	if shortURL == "" {
		shortURL = fmt.Sprintf("https://api.razorpay.com/v1/checkout/subscription/%s", sub.ID)
	}

	return &CheckoutSession{
		CheckoutURL:    shortURL,
		SubscriptionID: sub.ID,
		SessionID:      sub.ID,
		Raw:            sub.Raw,
	}, nil
}

func (g *RazorpayGateway) GetInvoice(invoiceID string) (*Invoice, error) {
	inv, err := g.client.Invoice.Fetch(invoiceID, nil, nil)
	if err != nil {
		return nil, &Error{
			Code:    ErrInvoiceNotFound,
			Message: fmt.Sprintf("invoice not found: %v", err),
		}
	}

	return &Invoice{
		ID:             asString(inv, "id"),
		AmountCents:    asInt64(inv, "amount"),
		Currency:       asString(inv, "currency"),
		Status:         asString(inv, "status"),
		CustomerID:     asString(inv, "customer_id"),
		SubscriptionID: asString(inv, "subscription_id"),
		CreatedAt:      asTime(inv, "created_at"),
		PaidAt:         asTime(inv, "paid_at"),
		URL:            asString(inv, "short_url"),
		Raw:            inv,
	}, nil
}

// VerifyWebhookSignature checks the Razorpay HMAC-SHA256 hex signature over
// the raw body.
func (g *RazorpayGateway) VerifyWebhookSignature(payload []byte, signature string) (bool, error) {
	if g.webhookSecret == "" {
		return false, &Error{
			Code:    ErrWebhookSecretMissing,
			Message: "webhook secret not configured",
		}
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// ParseWebhookEvent normalizes a Razorpay webhook envelope:
//
//	{"event": "subscription.charged", "payload": {"subscription": {"entity": {...}}, "payment": {"entity": {...}}}}
//
// Razorpay puts its delivery id in a header rather than the body, so the
// event id is derived from the event type plus the affected entity id. That
// keeps redeliveries idempotent without collapsing distinct lifecycle events
// for the same subscription into one dedup key.
func (g *RazorpayGateway) ParseWebhookEvent(payload []byte) (*Event, error) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return &Event{}, nil
	}

	eventType := asString(envelope, "event")
	body := asMap(envelope, "payload")
	if eventType == "" || body == nil {
		return &Event{}, nil
	}

	var subEntity, payEntity, invEntity map[string]interface{}
	if wrap := asMap(body, "subscription"); wrap != nil {
		subEntity = asMap(wrap, "entity")
	}
	if wrap := asMap(body, "payment"); wrap != nil {
		payEntity = asMap(wrap, "entity")
	}
	if wrap := asMap(body, "invoice"); wrap != nil {
		invEntity = asMap(wrap, "entity")
	}

	data := EventData{Raw: body}
	entityID := ""

	if subEntity != nil {
		data.SubscriptionID = asString(subEntity, "id")
		data.Status = normalizeRazorpayStatus(asString(subEntity, "status"))
		data.CurrentPeriodStart = asTime(subEntity, "current_start")
		data.CurrentPeriodEnd = asTime(subEntity, "current_end")
		entityID = data.SubscriptionID
	}
	if payEntity != nil {
		data.PaymentID = asString(payEntity, "id")
		data.CustomerID = asString(payEntity, "customer_id")
		data.AmountCents = asInt64(payEntity, "amount")
		data.Currency = asString(payEntity, "currency")
		if data.InvoiceID == "" {
			data.InvoiceID = asString(payEntity, "invoice_id")
		}
		if data.SubscriptionID == "" {
			data.SubscriptionID = asString(payEntity, "subscription_id")
		}
		if entityID == "" {
			entityID = data.PaymentID
		}
	}
	if invEntity != nil {
		data.InvoiceID = asString(invEntity, "id")
		data.IssuedAt = asTime(invEntity, "issued_at")
		data.InvoiceURL = asString(invEntity, "short_url")
		if data.AmountCents == 0 {
			data.AmountCents = asInt64(invEntity, "amount")
		}
		if data.Currency == "" {
			data.Currency = asString(invEntity, "currency")
		}
		if entityID == "" {
			entityID = data.InvoiceID
		}
	}

	if entityID == "" {
		return &Event{}, nil
	}

	eventID := asString(envelope, "id")
	if eventID == "" {
		eventID = eventType + ":" + entityID
	}

	return &Event{Type: eventType, ID: eventID, Data: data}, nil
}

func razorpaySubscription(sub map[string]interface{}) *Subscription {
	return &Subscription{
		ID:                 asString(sub, "id"),
		Status:             normalizeRazorpayStatus(asString(sub, "status")),
		PlanID:             asString(sub, "plan_id"),
		CustomerID:         asString(sub, "customer_id"),
		CurrentPeriodStart: asTime(sub, "current_start"),
		CurrentPeriodEnd:   asTime(sub, "current_end"),
		TrialEnd:           asTime(sub, "start_at"),
		CancelledAt:        asTime(sub, "cancelled_at"),
		Raw:                sub,
	}
}

func notes(metadata map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
