// Package gateway defines the payment provider contract used by the billing
// layer, plus one concrete implementation per supported provider. Business
// logic never talks to a provider SDK directly; it goes through this
// interface so providers can be swapped without touching billing code.
package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Machine-readable error codes carried by *Error.
const (
	ErrUnsupportedGateway      = "unsupported_gateway"
	ErrGatewayConfigMissing    = "gateway_config_missing"
	ErrInvalidGatewayClass     = "invalid_gateway_class"
	ErrCustomerCreationFailed  = "customer_creation_failed"
	ErrCustomerNotFound        = "customer_not_found"
	ErrSubscriptionCreateFail  = "subscription_creation_failed"
	ErrSubscriptionCancelFail  = "subscription_cancellation_failed"
	ErrSubscriptionNotFound    = "subscription_not_found"
	ErrPlanCreationFailed      = "plan_creation_failed"
	ErrCheckoutCreationFailed  = "checkout_creation_failed"
	ErrInvoiceNotFound         = "invoice_not_found"
	ErrWebhookSecretMissing    = "webhook_secret_missing"
	ErrWebhookVerifyFailed     = "webhook_verification_failed"
	ErrWebhookParsingFailed    = "webhook_parsing_failed"
)

// Error is the uniform failure type for all gateway operations. Raw keeps the
// provider's own response for diagnostics; never render it to end users.
type Error struct {
	Code    string
	Message string
	Raw     map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a gateway error with the given code.
func IsCode(err error, code string) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Code == code
}

// Canonical webhook event types. Each gateway's ParseWebhookEvent maps the
// provider's own taxonomy onto these before the dispatcher sees the event.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionHalted    = "subscription.halted"
	EventInvoicePaid           = "invoice.paid"
	EventPaymentFailed         = "payment.failed"
)

// Customer is a provider-side customer record.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt *time.Time
	Raw       map[string]interface{}
}

// Subscription is a provider-side subscription snapshot. Status is always
// one of the local model's canonical status values.
type Subscription struct {
	ID                 string
	Status             string
	PlanID             string
	CustomerID         string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	Raw                map[string]interface{}
}

// CancelResult reports the provider state after a cancellation request.
type CancelResult struct {
	SubscriptionID string
	Status         string
	EndedAt        *time.Time
	CancelledAt    *time.Time
	Raw            map[string]interface{}
}

type Product struct {
	ID          string
	Name        string
	Description string
	Raw         map[string]interface{}
}

type Price struct {
	ID          string
	ProductID   string
	AmountCents int64
	Currency    string
	Interval    string
	Raw         map[string]interface{}
}

type CheckoutSession struct {
	CheckoutURL    string
	SubscriptionID string
	SessionID      string
	Raw            map[string]interface{}
}

// Invoice is a provider-side invoice snapshot.
type Invoice struct {
	ID             string
	AmountCents    int64
	Currency       string
	Status         string
	CustomerID     string
	SubscriptionID string
	CreatedAt      *time.Time
	PaidAt         *time.Time
	URL            string
	Raw            map[string]interface{}
}

// EventData carries the normalized fields the webhook handlers care about.
// Raw retains the provider payload for audit and debugging.
type EventData struct {
	SubscriptionID     string
	InvoiceID          string
	PaymentID          string
	CustomerID         string
	Status             string
	AmountCents        int64
	Currency           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	IssuedAt           *time.Time
	InvoiceURL         string
	Raw                map[string]interface{}
}

// Event is a normalized webhook event. An Event with empty Type and ID means
// the payload was structurally unexpected; the dispatcher treats it as
// unhandled rather than an error.
type Event struct {
	Type string
	ID   string
	Data EventData
}

// PaymentGateway is the capability set every provider implementation must
// satisfy. All methods return a typed result or a *Error; callers can rely on
// IsCode for programmatic handling.
type PaymentGateway interface {
	Name() string

	CreateCustomer(email, name string, metadata map[string]string) (*Customer, error)
	GetCustomer(customerID string) (*Customer, error)

	CreateSubscription(customerID, planID string, trialDays int, metadata map[string]string) (*Subscription, error)
	CancelSubscription(subscriptionID string, cancelAtPeriodEnd bool) (*CancelResult, error)
	GetSubscription(subscriptionID string) (*Subscription, error)

	CreateProduct(name, description string) (*Product, error)
	CreatePrice(productID string, amountCents int64, currency, interval string, intervalCount int) (*Price, error)

	CreateCheckoutSession(customerID, planID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error)

	GetInvoice(invoiceID string) (*Invoice, error)

	// VerifyWebhookSignature checks the raw, unparsed body against the
	// pre-shared webhook secret using a constant-time comparison. It errors
	// with webhook_secret_missing when no secret is configured.
	VerifyWebhookSignature(payload []byte, signature string) (bool, error)

	// ParseWebhookEvent normalizes a verified provider payload. It must not
	// fail on unexpected structure; it returns an empty-typed Event instead.
	ParseWebhookEvent(payload []byte) (*Event, error)
}

// Map access helpers shared by the SDK-backed gateways, which surface
// provider responses as map[string]interface{}.

func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func asInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func asMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// asTime interprets a numeric field as unix seconds. Zero or missing values
// yield nil.
func asTime(m map[string]interface{}, key string) *time.Time {
	secs := asInt64(m, key)
	if secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
