// Package tasks wires the background task handlers. Tasks travel through the
// queue by name with a record id only; every handler re-fetches the fresh row
// before acting, so a stale enqueue never sends stale data.
package tasks

import (
	"fmt"
	"log"
	"strconv"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
	"saasgrid_backend/pkg/queue"
	"saasgrid_backend/pkg/storage"
)

// Task names. The webhook dispatcher enqueues these after the audit row is
// committed.
const (
	TaskSubscriptionActivatedEmail = "email.subscription_activated"
	TaskSubscriptionCancelledEmail = "email.subscription_cancelled"
	TaskInvoicePaidEmail           = "email.invoice_paid"
	TaskPaymentFailedEmail         = "email.payment_failed"
	TaskArchiveWebhookPayload      = "webhook.archive_payload"
)

// InitTasks registers every handler on the default queue. Call once at
// startup, after the database and email service are initialized.
func InitTasks() {
	queue.Register(TaskSubscriptionActivatedEmail, sendSubscriptionActivatedEmail)
	queue.Register(TaskSubscriptionCancelledEmail, sendSubscriptionCancelledEmail)
	queue.Register(TaskInvoicePaidEmail, sendInvoicePaidEmail)
	queue.Register(TaskPaymentFailedEmail, sendPaymentFailedEmail)
	queue.Register(TaskArchiveWebhookPayload, archiveWebhookPayload)
}

func sendSubscriptionActivatedEmail(recordID string) error {
	sub, org, err := loadSubscriptionContext(recordID)
	if err != nil {
		return err
	}
	if email.GlobalEmailService == nil {
		return nil
	}
	return email.GlobalEmailService.SendSubscriptionActivatedEmail(
		org.Owner.Email, org.Name, sub.Plan.Name, sub.CurrentPeriodEnd)
}

func sendSubscriptionCancelledEmail(recordID string) error {
	sub, org, err := loadSubscriptionContext(recordID)
	if err != nil {
		return err
	}
	if email.GlobalEmailService == nil {
		return nil
	}
	endsAt := sub.CurrentPeriodEnd
	if sub.CancelledAt != nil && !sub.CancelAtPeriodEnd {
		endsAt = sub.CancelledAt
	}
	return email.GlobalEmailService.SendSubscriptionCancelledEmail(
		org.Owner.Email, org.Name, sub.Plan.Name, endsAt)
}

func sendInvoicePaidEmail(recordID string) error {
	invoice, org, err := loadInvoiceContext(recordID)
	if err != nil {
		return err
	}
	if org == nil || email.GlobalEmailService == nil {
		// Invoices without a resolved organization have nobody to notify.
		return nil
	}
	return email.GlobalEmailService.SendInvoicePaidEmail(
		org.Owner.Email, org.Name, formatAmount(invoice.AmountCents, invoice.Currency), invoice.InvoiceURL)
}

func sendPaymentFailedEmail(recordID string) error {
	invoice, org, err := loadInvoiceContext(recordID)
	if err != nil {
		return err
	}
	if org == nil || email.GlobalEmailService == nil {
		return nil
	}
	return email.GlobalEmailService.SendPaymentFailedEmail(
		org.Owner.Email, org.Name, formatAmount(invoice.AmountCents, invoice.Currency))
}

func archiveWebhookPayload(recordID string) error {
	if !storage.Enabled() {
		return nil
	}

	id, err := parseRecordID(recordID)
	if err != nil {
		return err
	}

	var event model.WebhookEvent
	if err := database.DB.First(&event, id).Error; err != nil {
		return fmt.Errorf("could not load webhook event %s: %w", recordID, err)
	}

	key, err := storage.ArchiveWebhookPayload(event.Gateway, event.EventID, event.Payload)
	if err != nil {
		return err
	}
	log.Printf("Archived webhook payload %s to %s", event.EventID, key)
	return nil
}

func loadSubscriptionContext(recordID string) (*model.Subscription, *model.Organization, error) {
	id, err := parseRecordID(recordID)
	if err != nil {
		return nil, nil, err
	}

	var sub model.Subscription
	if err := database.DB.Preload("Plan").First(&sub, id).Error; err != nil {
		return nil, nil, fmt.Errorf("could not load subscription %s: %w", recordID, err)
	}

	var org model.Organization
	if err := database.DB.Preload("Owner").First(&org, sub.OrganizationID).Error; err != nil {
		return nil, nil, fmt.Errorf("could not load organization %d: %w", sub.OrganizationID, err)
	}
	return &sub, &org, nil
}

func loadInvoiceContext(recordID string) (*model.Invoice, *model.Organization, error) {
	id, err := parseRecordID(recordID)
	if err != nil {
		return nil, nil, err
	}

	var invoice model.Invoice
	if err := database.DB.First(&invoice, id).Error; err != nil {
		return nil, nil, fmt.Errorf("could not load invoice %s: %w", recordID, err)
	}

	if invoice.OrganizationID == nil {
		return &invoice, nil, nil
	}

	var org model.Organization
	if err := database.DB.Preload("Owner").First(&org, *invoice.OrganizationID).Error; err != nil {
		return nil, nil, fmt.Errorf("could not load organization %d: %w", *invoice.OrganizationID, err)
	}
	return &invoice, &org, nil
}

func parseRecordID(recordID string) (uint, error) {
	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", recordID, err)
	}
	return uint(id), nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
