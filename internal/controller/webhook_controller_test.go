package controller

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/internal/service"
	"saasgrid_backend/pkg/config"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/gateway"
)

const testWebhookSecret = "whsec_test"

// testpayGateway is a minimal provider with real HMAC verification and a flat
// JSON event format, registered under "testpay" for webhook pipeline tests.
type testpayGateway struct{}

type testpayPayload struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

func (g *testpayGateway) Name() string { return "testpay" }

func (g *testpayGateway) CreateCustomer(email, name string, metadata map[string]string) (*gateway.Customer, error) {
	return &gateway.Customer{ID: "cust_1", Email: email}, nil
}

func (g *testpayGateway) GetCustomer(customerID string) (*gateway.Customer, error) {
	return &gateway.Customer{ID: customerID}, nil
}

func (g *testpayGateway) CreateSubscription(customerID, planID string, trialDays int, metadata map[string]string) (*gateway.Subscription, error) {
	return &gateway.Subscription{ID: "sub_123", Status: model.StatusActive}, nil
}

func (g *testpayGateway) CancelSubscription(subscriptionID string, cancelAtPeriodEnd bool) (*gateway.CancelResult, error) {
	return &gateway.CancelResult{SubscriptionID: subscriptionID, Status: model.StatusCancelled}, nil
}

func (g *testpayGateway) GetSubscription(subscriptionID string) (*gateway.Subscription, error) {
	return &gateway.Subscription{ID: subscriptionID, Status: model.StatusActive}, nil
}

func (g *testpayGateway) CreateProduct(name, description string) (*gateway.Product, error) {
	return &gateway.Product{ID: "prod_1", Name: name}, nil
}

func (g *testpayGateway) CreatePrice(productID string, amountCents int64, currency, interval string, intervalCount int) (*gateway.Price, error) {
	return &gateway.Price{ID: "price_1"}, nil
}

func (g *testpayGateway) CreateCheckoutSession(customerID, planID, successURL, cancelURL string, metadata map[string]string) (*gateway.CheckoutSession, error) {
	return &gateway.CheckoutSession{SessionID: "s_1"}, nil
}

func (g *testpayGateway) GetInvoice(invoiceID string) (*gateway.Invoice, error) {
	return &gateway.Invoice{ID: invoiceID}, nil
}

func (g *testpayGateway) VerifyWebhookSignature(payload []byte, signature string) (bool, error) {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

func (g *testpayGateway) ParseWebhookEvent(payload []byte) (*gateway.Event, error) {
	var p testpayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &gateway.Event{}, nil
	}
	return &gateway.Event{
		Type: p.Type,
		ID:   p.ID,
		Data: gateway.EventData{
			SubscriptionID: p.SubscriptionID,
			InvoiceID:      p.InvoiceID,
			AmountCents:    p.Amount,
			Currency:       p.Currency,
			Status:         p.Status,
		},
	}, nil
}

func setupWebhookTest(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Organization{},
		&model.Membership{},
		&model.Plan{},
		&model.Subscription{},
		&model.Invoice{},
		&model.PaymentMethod{},
		&model.WebhookEvent{},
	))

	database.DB = db
	SetBillingService(service.NewBillingServiceWithResolver(db, func(name string) (gateway.PaymentGateway, error) {
		return &testpayGateway{}, nil
	}))

	require.NoError(t, gateway.Register("testpay", func(cfg config.GatewayConfig) (gateway.PaymentGateway, error) {
		return &testpayGateway{}, nil
	}))
	t.Cleanup(func() { gateway.Unregister("testpay") })

	app := fiber.New()
	app.Post("/api/billing/webhooks/:gateway", HandleGatewayWebhook)

	return app, db
}

func seedSubscription(t *testing.T, db *gorm.DB, status string) *model.Subscription {
	t.Helper()

	owner := model.User{Email: "owner@example.com", Name: "Owner", Password: "x"}
	require.NoError(t, db.Create(&owner).Error)

	org := model.Organization{Name: "Acme", Slug: "acme", OwnerID: owner.ID}
	require.NoError(t, db.Create(&org).Error)

	plan := model.Plan{Name: "Starter", Slug: "starter", Gateway: "testpay", GatewayPriceID: "price_test", PriceCents: 1999}
	require.NoError(t, db.Create(&plan).Error)

	sub := model.Subscription{
		OrganizationID:        org.ID,
		PlanID:                plan.ID,
		Gateway:               "testpay",
		GatewaySubscriptionID: "sub_123",
		GatewayCustomerID:     "cust_1",
		Status:                status,
	}
	require.NoError(t, db.Create(&sub).Error)
	return &sub
}

func signTestpay(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliverWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) int {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/billing/webhooks/testpay", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	app, db := setupWebhookTest(t)
	sub := seedSubscription(t, db, model.StatusActive)

	payload := []byte(`{"type":"subscription.cancelled","id":"evt_1","subscription_id":"sub_123"}`)
	code := deliverWebhook(t, app, payload, signTestpay([]byte("different body")))
	assert.Equal(t, fiber.StatusBadRequest, code)

	// Nothing may change on a rejected delivery.
	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	app, db := setupWebhookTest(t)

	payload := []byte(`{"type": "subscription.activated",`)
	code := deliverWebhook(t, app, payload, signTestpay(payload))
	assert.Equal(t, fiber.StatusBadRequest, code)

	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestWebhookUnknownGateway(t *testing.T) {
	app, _ := setupWebhookTest(t)

	req := httptest.NewRequest("POST", "/api/billing/webhooks/notagateway", bytes.NewReader([]byte(`{}`)))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhookSubscriptionActivated(t *testing.T) {
	app, db := setupWebhookTest(t)
	sub := seedSubscription(t, db, model.StatusIncomplete)

	payload := []byte(`{"type":"subscription.activated","id":"evt_10","subscription_id":"sub_123"}`)
	code := deliverWebhook(t, app, payload, signTestpay(payload))
	assert.Equal(t, fiber.StatusOK, code)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)

	var event model.WebhookEvent
	require.NoError(t, db.Where("event_id = ? AND gateway = ?", "evt_10", "testpay").First(&event).Error)
	assert.Equal(t, "subscription.activated", event.EventType)
	assert.False(t, event.ProcessedAt.IsZero())
}

func TestWebhookSubscriptionUpdatedResyncsFromGateway(t *testing.T) {
	app, db := setupWebhookTest(t)
	sub := seedSubscription(t, db, model.StatusPastDue)

	// The payload claims unpaid, but the gateway reports active; the
	// gateway's view must win.
	payload := []byte(`{"type":"subscription.updated","id":"evt_15","subscription_id":"sub_123","status":"unpaid"}`)
	code := deliverWebhook(t, app, payload, signTestpay(payload))
	assert.Equal(t, fiber.StatusOK, code)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestWebhookPaymentFailedDeliveredTwice(t *testing.T) {
	app, db := setupWebhookTest(t)
	sub := seedSubscription(t, db, model.StatusActive)

	payload := []byte(`{"type":"payment.failed","id":"evt_20","subscription_id":"sub_123","invoice_id":"inv_9","amount":1999,"currency":"USD"}`)

	assert.Equal(t, fiber.StatusOK, deliverWebhook(t, app, payload, signTestpay(payload)))
	assert.Equal(t, fiber.StatusOK, deliverWebhook(t, app, payload, signTestpay(payload)))

	// One audit row, one invoice, regardless of redelivery.
	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Equal(t, int64(1), events)

	var invoices []model.Invoice
	require.NoError(t, db.Find(&invoices).Error)
	require.Len(t, invoices, 1)
	assert.Equal(t, model.InvoiceOpen, invoices[0].Status)
	assert.Equal(t, "inv_9", invoices[0].GatewayInvoiceID)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusPastDue, reloaded.Status)
}

func TestWebhookInvoicePaidRecoversSubscription(t *testing.T) {
	app, db := setupWebhookTest(t)
	sub := seedSubscription(t, db, model.StatusPastDue)

	payload := []byte(`{"type":"invoice.paid","id":"evt_30","subscription_id":"sub_123","invoice_id":"inv_9","amount":1999,"currency":"USD"}`)
	assert.Equal(t, fiber.StatusOK, deliverWebhook(t, app, payload, signTestpay(payload)))

	var invoice model.Invoice
	require.NoError(t, db.Where("gateway_invoice_id = ?", "inv_9").First(&invoice).Error)
	assert.Equal(t, model.InvoicePaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestWebhookUnhandledEventType(t *testing.T) {
	app, db := setupWebhookTest(t)
	seedSubscription(t, db, model.StatusActive)

	payload := []byte(`{"type":"customer.updated","id":"evt_40","subscription_id":"sub_123"}`)
	assert.Equal(t, fiber.StatusOK, deliverWebhook(t, app, payload, signTestpay(payload)))

	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestWebhookUnknownSubscriptionReference(t *testing.T) {
	app, db := setupWebhookTest(t)
	seedSubscription(t, db, model.StatusActive)

	payload := []byte(`{"type":"subscription.cancelled","id":"evt_50","subscription_id":"sub_missing"}`)
	code := deliverWebhook(t, app, payload, signTestpay(payload))

	// Acknowledged so the provider stops retrying, but not recorded as
	// processed.
	assert.Equal(t, fiber.StatusOK, code)

	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestHandlerNamesMissingReference(t *testing.T) {
	setupWebhookTest(t)

	// Payment events without any invoice or payment id.
	res := handlePaymentFailed("testpay", &gateway.Event{Type: "payment.failed", ID: "evt_60"})
	assert.Equal(t, outcomeReferenceNotFound, res.outcome)
	assert.Contains(t, res.missing, "invoice or payment")

	// Unknown subscription references name the id they could not resolve.
	sub, res := findSubscription("testpay", "sub_missing")
	assert.Nil(t, sub)
	assert.Equal(t, outcomeReferenceNotFound, res.outcome)
	assert.Contains(t, res.missing, "sub_missing")
}
