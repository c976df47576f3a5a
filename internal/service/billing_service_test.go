package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/gateway"
)

// fakeGateway is a scriptable in-memory PaymentGateway.
type fakeGateway struct {
	createCustomerErr     error
	createSubscriptionErr error
	cancelErr             error
	subscription          *gateway.Subscription
	cancelResult          *gateway.CancelResult
	getSubscriptionCalls  int
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) CreateCustomer(email, name string, metadata map[string]string) (*gateway.Customer, error) {
	if f.createCustomerErr != nil {
		return nil, f.createCustomerErr
	}
	return &gateway.Customer{ID: "cust_1", Email: email, Name: name}, nil
}

func (f *fakeGateway) GetCustomer(customerID string) (*gateway.Customer, error) {
	return &gateway.Customer{ID: customerID}, nil
}

func (f *fakeGateway) CreateSubscription(customerID, planID string, trialDays int, metadata map[string]string) (*gateway.Subscription, error) {
	if f.createSubscriptionErr != nil {
		return nil, f.createSubscriptionErr
	}
	if f.subscription != nil {
		return f.subscription, nil
	}
	return &gateway.Subscription{ID: "sub_1", Status: model.StatusActive, CustomerID: customerID, PlanID: planID}, nil
}

func (f *fakeGateway) CancelSubscription(subscriptionID string, cancelAtPeriodEnd bool) (*gateway.CancelResult, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelResult != nil {
		return f.cancelResult, nil
	}
	return &gateway.CancelResult{SubscriptionID: subscriptionID, Status: model.StatusCancelled}, nil
}

func (f *fakeGateway) GetSubscription(subscriptionID string) (*gateway.Subscription, error) {
	f.getSubscriptionCalls++
	if f.subscription != nil {
		return f.subscription, nil
	}
	return &gateway.Subscription{ID: subscriptionID, Status: model.StatusActive}, nil
}

func (f *fakeGateway) CreateProduct(name, description string) (*gateway.Product, error) {
	return &gateway.Product{ID: "prod_1", Name: name}, nil
}

func (f *fakeGateway) CreatePrice(productID string, amountCents int64, currency, interval string, intervalCount int) (*gateway.Price, error) {
	return &gateway.Price{ID: "price_1", ProductID: productID, AmountCents: amountCents}, nil
}

func (f *fakeGateway) CreateCheckoutSession(customerID, planID, successURL, cancelURL string, metadata map[string]string) (*gateway.CheckoutSession, error) {
	return &gateway.CheckoutSession{CheckoutURL: "https://checkout.test/s_1", SessionID: "s_1", SubscriptionID: "sub_1"}, nil
}

func (f *fakeGateway) GetInvoice(invoiceID string) (*gateway.Invoice, error) {
	return &gateway.Invoice{ID: invoiceID}, nil
}

func (f *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) (bool, error) {
	return true, nil
}

func (f *fakeGateway) ParseWebhookEvent(payload []byte) (*gateway.Event, error) {
	return &gateway.Event{}, nil
}

func setupDB(t *testing.T) *gorm.DB {
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
	return db
}

func setupFixtures(t *testing.T, db *gorm.DB) (*model.Organization, *model.Plan) {
	t.Helper()

	owner := model.User{Email: "owner@example.com", Name: "Owner", Password: "x"}
	require.NoError(t, db.Create(&owner).Error)

	org := model.Organization{Name: "Acme", Slug: "acme", OwnerID: owner.ID}
	require.NoError(t, db.Create(&org).Error)
	org.Owner = owner

	plan := model.Plan{
		Name:           "Starter",
		Slug:           "starter",
		Gateway:        "fake",
		GatewayPriceID: "price_test",
		PriceCents:     1999,
	}
	require.NoError(t, db.Create(&plan).Error)

	return &org, &plan
}

func newTestService(db *gorm.DB, fake *fakeGateway) *BillingService {
	return NewBillingServiceWithResolver(db, func(name string) (gateway.PaymentGateway, error) {
		return fake, nil
	})
}

func TestCreateSubscription(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	end := time.Now().AddDate(0, 1, 0).UTC()
	fake := &fakeGateway{subscription: &gateway.Subscription{
		ID:               "sub_99",
		Status:           model.StatusActive,
		CurrentPeriodEnd: &end,
	}}

	sub, err := newTestService(db, fake).CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, "sub_99", sub.GatewaySubscriptionID)
	assert.Equal(t, "cust_1", sub.GatewayCustomerID)
	assert.Equal(t, model.StatusActive, sub.Status)
	assert.Equal(t, org.ID, sub.OrganizationID)
	assert.Equal(t, plan.ID, sub.PlanID)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestCreateSubscriptionGatewayFailureLeavesNoRow(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	fake := &fakeGateway{createSubscriptionErr: &gateway.Error{
		Code:    gateway.ErrSubscriptionCreateFail,
		Message: "card declined",
	}}

	_, err := newTestService(db, fake).CreateSubscription(org, plan, 0, nil)
	require.Error(t, err)
	assert.True(t, gateway.IsCode(err, gateway.ErrSubscriptionCreateFail))

	var count int64
	db.Model(&model.Subscription{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateSubscriptionDuplicateGatewayID(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})

	_, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	// The fake hands back the same gateway subscription id; the unique
	// index must refuse the second local row.
	_, err = svc.CreateSubscription(org, plan, 0, nil)
	require.Error(t, err)
}

func TestCancelSubscriptionImmediate(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	cancelled, err := svc.CancelSubscription(sub, false, "too expensive")
	require.NoError(t, err)

	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.CancelAtPeriodEnd)
	require.NotNil(t, cancelled.CancelledAt)
}

func TestCancelSubscriptionAtPeriodEnd(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	fake := &fakeGateway{cancelResult: &gateway.CancelResult{Status: model.StatusActive}}
	svc := newTestService(db, fake)

	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	cancelled, err := svc.CancelSubscription(sub, true, "")
	require.NoError(t, err)

	// Billing continues until period end; the gateway's status wins.
	assert.Equal(t, model.StatusActive, cancelled.Status)
	assert.True(t, cancelled.CancelAtPeriodEnd)
	assert.Nil(t, cancelled.CancelledAt)
}

func TestCancelSubscriptionGatewayFailureKeepsLocalState(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	fake := &fakeGateway{}
	svc := newTestService(db, fake)

	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	fake.cancelErr = &gateway.Error{Code: gateway.ErrSubscriptionCancelFail, Message: "boom"}
	_, err = svc.CancelSubscription(sub, false, "")
	require.Error(t, err)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestSyncSubscriptionFromGateway(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	fake := &fakeGateway{}
	svc := newTestService(db, fake)

	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	end := time.Now().AddDate(0, 1, 0).UTC().Truncate(time.Second)
	fake.subscription = &gateway.Subscription{
		ID:                sub.GatewaySubscriptionID,
		Status:            model.StatusPastDue,
		CurrentPeriodEnd:  &end,
		CancelAtPeriodEnd: true,
	}

	synced, err := svc.SyncSubscriptionFromGateway(sub)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPastDue, synced.Status)
	assert.True(t, synced.CancelAtPeriodEnd)
	require.NotNil(t, synced.CurrentPeriodEnd)

	// A second sync against unchanged remote state is a no-op.
	again, err := svc.SyncSubscriptionFromGateway(synced)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPastDue, again.Status)
	assert.Equal(t, 2, fake.getSubscriptionCalls)
}

func paidInvoiceData(gatewaySubID string) InvoiceData {
	return InvoiceData{
		Gateway:               "fake",
		GatewayInvoiceID:      "inv_1",
		GatewaySubscriptionID: gatewaySubID,
		AmountCents:           1999,
		Currency:              "USD",
	}
}

func TestHandleSuccessfulPayment(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	require.NoError(t, db.Model(sub).Update("status", model.StatusPastDue).Error)

	invoice, err := svc.HandleSuccessfulPayment(paidInvoiceData(sub.GatewaySubscriptionID))
	require.NoError(t, err)

	assert.Equal(t, model.InvoicePaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)
	require.NotNil(t, invoice.SubscriptionID)
	assert.Equal(t, sub.ID, *invoice.SubscriptionID)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestHandleSuccessfulPaymentIdempotent(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	data := paidInvoiceData(sub.GatewaySubscriptionID)
	_, err = svc.HandleSuccessfulPayment(data)
	require.NoError(t, err)
	_, err = svc.HandleSuccessfulPayment(data)
	require.NoError(t, err)

	var count int64
	db.Model(&model.Invoice{}).Where("gateway_invoice_id = ?", data.GatewayInvoiceID).Count(&count)
	assert.Equal(t, int64(1), count)
}

// failSubscriptionUpdates makes every UPDATE on the subscriptions table error,
// so the transaction around invoice bookkeeping can be forced to roll back.
func failSubscriptionUpdates(t *testing.T, db *gorm.DB) {
	t.Helper()

	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("fail_subscription_updates", func(tx *gorm.DB) {
			if tx.Statement.Table == "subscriptions" {
				tx.AddError(errors.New("subscription update refused"))
			}
		}))
	t.Cleanup(func() {
		db.Callback().Update().Remove("fail_subscription_updates")
	})
}

func TestHandleSuccessfulPaymentRollsBackWithSubscription(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)
	require.NoError(t, db.Model(sub).Update("status", model.StatusPastDue).Error)

	failSubscriptionUpdates(t, db)

	// A found subscription that cannot be updated must take the invoice
	// write down with it.
	_, err = svc.HandleSuccessfulPayment(paidInvoiceData(sub.GatewaySubscriptionID))
	require.Error(t, err)

	var invoices int64
	db.Model(&model.Invoice{}).Count(&invoices)
	assert.Zero(t, invoices)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusPastDue, reloaded.Status)
}

func TestHandleFailedPaymentRollsBackWithSubscription(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	failSubscriptionUpdates(t, db)

	_, err = svc.HandleFailedPayment(paidInvoiceData(sub.GatewaySubscriptionID))
	require.Error(t, err)

	var invoices int64
	db.Model(&model.Invoice{}).Count(&invoices)
	assert.Zero(t, invoices)
}

func TestHandleSuccessfulPaymentUnknownSubscription(t *testing.T) {
	db := setupDB(t)
	setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})

	// A dangling gateway reference still records the invoice.
	invoice, err := svc.HandleSuccessfulPayment(paidInvoiceData("sub_missing"))
	require.NoError(t, err)

	assert.Equal(t, model.InvoicePaid, invoice.Status)
	assert.Nil(t, invoice.SubscriptionID)
	assert.Nil(t, invoice.OrganizationID)
}

func TestHandleFailedPayment(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	data := paidInvoiceData(sub.GatewaySubscriptionID)
	invoice, err := svc.HandleFailedPayment(data)
	require.NoError(t, err)

	assert.Equal(t, model.InvoiceOpen, invoice.Status)
	assert.Nil(t, invoice.PaidAt)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusPastDue, reloaded.Status)

	// Redelivery keeps a single invoice row.
	_, err = svc.HandleFailedPayment(data)
	require.NoError(t, err)

	var count int64
	db.Model(&model.Invoice{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFailedThenSuccessfulPayment(t *testing.T) {
	db := setupDB(t)
	org, plan := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})
	sub, err := svc.CreateSubscription(org, plan, 0, nil)
	require.NoError(t, err)

	data := paidInvoiceData(sub.GatewaySubscriptionID)
	_, err = svc.HandleFailedPayment(data)
	require.NoError(t, err)

	invoice, err := svc.HandleSuccessfulPayment(data)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, invoice.Status)

	var reloaded model.Subscription
	require.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, model.StatusActive, reloaded.Status)
}

func TestSetDefaultPaymentMethod(t *testing.T) {
	db := setupDB(t)
	org, _ := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})

	first := model.PaymentMethod{OrganizationID: org.ID, Gateway: "fake", GatewayPaymentMethodID: "pm_1", IsDefault: true}
	require.NoError(t, svc.SavePaymentMethod(&first))

	second := model.PaymentMethod{OrganizationID: org.ID, Gateway: "fake", GatewayPaymentMethodID: "pm_2"}
	require.NoError(t, svc.SavePaymentMethod(&second))

	require.NoError(t, svc.SetDefaultPaymentMethod(org.ID, second.ID))

	var defaults int64
	db.Model(&model.PaymentMethod{}).Where("organization_id = ? AND is_default = ?", org.ID, true).Count(&defaults)
	assert.Equal(t, int64(1), defaults)

	var reloaded model.PaymentMethod
	require.NoError(t, db.First(&reloaded, second.ID).Error)
	assert.True(t, reloaded.IsDefault)
}

func TestSetDefaultPaymentMethodUnknownID(t *testing.T) {
	db := setupDB(t)
	org, _ := setupFixtures(t, db)

	svc := newTestService(db, &fakeGateway{})

	err := svc.SetDefaultPaymentMethod(org.ID, 9999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
