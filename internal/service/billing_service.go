// Package service holds the billing orchestration layer. Controllers and
// webhook handlers go through BillingService for every Subscription/Invoice
// mutation; nothing else writes those rows.
package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/gateway"
)

// GatewayResolver resolves a gateway name to a configured instance. The
// default is the package registry; tests inject fakes.
type GatewayResolver func(name string) (gateway.PaymentGateway, error)

type BillingService struct {
	db      *gorm.DB
	resolve GatewayResolver
}

func NewBillingService(db *gorm.DB) *BillingService {
	return &BillingService{db: db, resolve: gateway.Get}
}

func NewBillingServiceWithResolver(db *gorm.DB, resolve GatewayResolver) *BillingService {
	return &BillingService{db: db, resolve: resolve}
}

// InvoiceData is the normalized invoice payload handed in by webhook
// handlers. Records are keyed on GatewayInvoiceID.
type InvoiceData struct {
	Gateway               string
	GatewayInvoiceID      string
	GatewaySubscriptionID string
	AmountCents           int64
	Currency              string
	IssuedAt              *time.Time
	InvoiceURL            string
}

// CreateSubscription creates the customer and subscription on the gateway,
// then persists the local record. Gateway failures propagate before any
// local write happens.
func (s *BillingService) CreateSubscription(org *model.Organization, plan *model.Plan, trialDays int, metadata map[string]string) (*model.Subscription, error) {
	gw, err := s.resolve(plan.Gateway)
	if err != nil {
		return nil, err
	}

	owner := org.Owner
	if owner.ID == 0 {
		if err := s.db.First(&owner, org.OwnerID).Error; err != nil {
			return nil, fmt.Errorf("could not load organization owner: %w", err)
		}
	}

	cust, err := gw.CreateCustomer(owner.Email, org.Name, metadata)
	if err != nil {
		return nil, err
	}

	gwSub, err := gw.CreateSubscription(cust.ID, plan.GatewayPriceID, trialDays, metadata)
	if err != nil {
		return nil, err
	}

	status := gwSub.Status
	if status == "" {
		status = model.StatusIncomplete
	}

	sub := &model.Subscription{
		OrganizationID:        org.ID,
		PlanID:                plan.ID,
		Gateway:               plan.Gateway,
		GatewaySubscriptionID: gwSub.ID,
		GatewayCustomerID:     cust.ID,
		Status:                status,
		CurrentPeriodStart:    gwSub.CurrentPeriodStart,
		CurrentPeriodEnd:      gwSub.CurrentPeriodEnd,
		TrialEnd:              gwSub.TrialEnd,
	}

	if err := s.db.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("could not save subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels on the gateway first; the local row is only
// touched after the gateway confirms. With cancelAtPeriodEnd the gateway's
// reported status is adopted (billing continues until period end); immediate
// cancellation is a terminal local transition.
func (s *BillingService) CancelSubscription(sub *model.Subscription, cancelAtPeriodEnd bool, reason string) (*model.Subscription, error) {
	gw, err := s.resolve(sub.Gateway)
	if err != nil {
		return nil, err
	}

	result, err := gw.CancelSubscription(sub.GatewaySubscriptionID, cancelAtPeriodEnd)
	if err != nil {
		return nil, err
	}

	if reason != "" {
		log.Printf("Cancelling subscription %s (reason: %s)", sub.GatewaySubscriptionID, reason)
	}

	sub.CancelAtPeriodEnd = cancelAtPeriodEnd
	if !cancelAtPeriodEnd {
		sub.Status = model.StatusCancelled
		if result.CancelledAt != nil {
			sub.CancelledAt = result.CancelledAt
		} else {
			now := time.Now().UTC()
			sub.CancelledAt = &now
		}
	} else if result.Status != "" {
		sub.Status = result.Status
	}

	if err := s.db.Save(sub).Error; err != nil {
		return nil, fmt.Errorf("could not update subscription: %w", err)
	}
	return sub, nil
}

// SyncSubscriptionFromGateway overwrites local state with the gateway's
// authoritative view. This is the reconciliation primitive used by the
// periodic sweep, webhook updates and admin resync.
func (s *BillingService) SyncSubscriptionFromGateway(sub *model.Subscription) (*model.Subscription, error) {
	gw, err := s.resolve(sub.Gateway)
	if err != nil {
		return nil, err
	}

	remote, err := gw.GetSubscription(sub.GatewaySubscriptionID)
	if err != nil {
		return nil, err
	}

	if remote.Status != "" {
		sub.Status = remote.Status
	}
	if remote.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if remote.TrialEnd != nil {
		sub.TrialEnd = remote.TrialEnd
	}
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	if remote.CancelledAt != nil && sub.CancelledAt == nil {
		sub.CancelledAt = remote.CancelledAt
	}

	if err := s.db.Save(sub).Error; err != nil {
		return nil, fmt.Errorf("could not save synced subscription: %w", err)
	}
	return sub, nil
}

// HandleSuccessfulPayment upserts the invoice as paid and unblocks the linked
// subscription. The invoice and subscription writes share one transaction:
// a missing subscription is tolerated (logged, invoice still recorded), but a
// failed update of a found subscription rolls the whole thing back.
func (s *BillingService) HandleSuccessfulPayment(data InvoiceData) (*model.Invoice, error) {
	var invoice model.Invoice

	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		found, err := getOrCreateInvoice(tx, &invoice, data, model.InvoicePaid, &now)
		if err != nil {
			return err
		}
		if found {
			invoice.Status = model.InvoicePaid
			invoice.PaidAt = &now
			if data.InvoiceURL != "" {
				invoice.InvoiceURL = data.InvoiceURL
			}
			if err := tx.Save(&invoice).Error; err != nil {
				return err
			}
		}

		if data.GatewaySubscriptionID == "" {
			return nil
		}

		var sub model.Subscription
		err = tx.Where("gateway_subscription_id = ?", data.GatewaySubscriptionID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A dangling gateway-side reference must not block invoice
			// bookkeeping; the subscription may simply not have synced yet.
			log.Printf("Subscription %s not found for invoice %s", data.GatewaySubscriptionID, data.GatewayInvoiceID)
			return nil
		}
		if err != nil {
			return err
		}

		invoice.SubscriptionID = &sub.ID
		invoice.OrganizationID = &sub.OrganizationID
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		switch sub.Status {
		case model.StatusPastDue, model.StatusUnpaid, model.StatusIncomplete:
			sub.Status = model.StatusActive
			if err := tx.Save(&sub).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Payment handling failed for invoice %s: %v", data.GatewayInvoiceID, err)
		return nil, err
	}
	return &invoice, nil
}

// HandleFailedPayment records the invoice as open and marks the linked
// subscription past_due, with the same atomicity rules as the success path.
func (s *BillingService) HandleFailedPayment(data InvoiceData) (*model.Invoice, error) {
	var invoice model.Invoice

	err := s.db.Transaction(func(tx *gorm.DB) error {
		found, err := getOrCreateInvoice(tx, &invoice, data, model.InvoiceOpen, nil)
		if err != nil {
			return err
		}
		if found {
			invoice.Status = model.InvoiceOpen
			if err := tx.Save(&invoice).Error; err != nil {
				return err
			}
		}

		if data.GatewaySubscriptionID == "" {
			return nil
		}

		var sub model.Subscription
		err = tx.Where("gateway_subscription_id = ?", data.GatewaySubscriptionID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Subscription %s not found for failed invoice %s", data.GatewaySubscriptionID, data.GatewayInvoiceID)
			return nil
		}
		if err != nil {
			return err
		}

		invoice.SubscriptionID = &sub.ID
		invoice.OrganizationID = &sub.OrganizationID
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		sub.Status = model.StatusPastDue
		return tx.Save(&sub).Error
	})
	if err != nil {
		log.Printf("Failed-payment handling failed for invoice %s: %v", data.GatewayInvoiceID, err)
		return nil, err
	}
	return &invoice, nil
}

// CreateCheckoutSession creates or reuses the gateway customer and delegates
// to the gateway's hosted checkout.
func (s *BillingService) CreateCheckoutSession(org *model.Organization, plan *model.Plan, successURL, cancelURL string, metadata map[string]string) (*gateway.CheckoutSession, error) {
	gw, err := s.resolve(plan.Gateway)
	if err != nil {
		return nil, err
	}

	owner := org.Owner
	if owner.ID == 0 {
		if err := s.db.First(&owner, org.OwnerID).Error; err != nil {
			return nil, fmt.Errorf("could not load organization owner: %w", err)
		}
	}

	cust, err := gw.CreateCustomer(owner.Email, org.Name, metadata)
	if err != nil {
		return nil, err
	}

	return gw.CreateCheckoutSession(cust.ID, plan.GatewayPriceID, successURL, cancelURL, metadata)
}

// SavePaymentMethod stores an instrument reference. A new default routes
// through SetDefaultPaymentMethod so the one-default-per-organization
// invariant holds under concurrent writers.
func (s *BillingService) SavePaymentMethod(pm *model.PaymentMethod) error {
	makeDefault := pm.IsDefault
	pm.IsDefault = false

	if err := s.db.Create(pm).Error; err != nil {
		return err
	}
	if makeDefault {
		return s.SetDefaultPaymentMethod(pm.OrganizationID, pm.ID)
	}
	return nil
}

// SetDefaultPaymentMethod flips the default flag with two conditional
// UPDATEs inside one transaction, so two concurrent callers cannot leave an
// organization with two defaults.
func (s *BillingService) SetDefaultPaymentMethod(orgID, paymentMethodID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		target := tx.Model(&model.PaymentMethod{}).
			Where("id = ? AND organization_id = ?", paymentMethodID, orgID).
			Update("is_default", true)
		if target.Error != nil {
			return target.Error
		}
		if target.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&model.PaymentMethod{}).
			Where("organization_id = ? AND id <> ?", orgID, paymentMethodID).
			Update("is_default", false).Error
	})
}

// getOrCreateInvoice loads the invoice keyed on GatewayInvoiceID, creating it
// with the given status when absent. It returns true when an existing row was
// found and still needs its status refreshed by the caller.
func getOrCreateInvoice(tx *gorm.DB, invoice *model.Invoice, data InvoiceData, status string, paidAt *time.Time) (bool, error) {
	err := tx.Where("gateway_invoice_id = ?", data.GatewayInvoiceID).First(invoice).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	currency := data.Currency
	if currency == "" {
		currency = "USD"
	}

	*invoice = model.Invoice{
		Gateway:          data.Gateway,
		GatewayInvoiceID: data.GatewayInvoiceID,
		AmountCents:      data.AmountCents,
		Currency:         currency,
		Status:           status,
		IssuedAt:         data.IssuedAt,
		PaidAt:           paidAt,
		InvoiceURL:       data.InvoiceURL,
	}
	return false, tx.Create(invoice).Error
}
