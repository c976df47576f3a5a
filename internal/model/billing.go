package model

import (
	"time"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription statuses. Transitions follow the gateway's authoritative
// state; local code never invents a status the gateway has not reported.
const (
	StatusActive            = "active"
	StatusCancelled         = "cancelled"
	StatusPastDue           = "past_due"
	StatusTrialing          = "trialing"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
	StatusPaused            = "paused"
)

// Invoice statuses.
const (
	InvoiceDraft         = "draft"
	InvoiceOpen          = "open"
	InvoicePaid          = "paid"
	InvoiceVoid          = "void"
	InvoiceUncollectible = "uncollectible"
)

// Plan is an immutable catalog entry. Admin tooling creates plans; nothing
// mutates them afterwards except the active toggle.
type Plan struct {
	gorm.Model
	Name             string            `json:"name" gorm:"not null"`
	Slug             string            `json:"slug" gorm:"uniqueIndex;not null"`
	Gateway          string            `json:"gateway" gorm:"not null"`
	GatewayProductID string            `json:"gateway_product_id"`
	GatewayPriceID   string            `json:"gateway_price_id" gorm:"not null"`
	PriceCents       int64             `json:"price_cents" gorm:"not null"`
	BillingInterval  string            `json:"billing_interval" gorm:"default:'month'"`
	Features         datatypes.JSONMap `json:"features"`
	IsActive         bool              `json:"is_active" gorm:"default:true"`
}

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.Slug == "" {
		p.Slug = slug.Make(p.Name)
	}
	return nil
}

// Subscription tracks one organization's relationship to a plan over time.
// Rows are never hard-deleted; cancellation is a status transition.
type Subscription struct {
	gorm.Model
	OrganizationID        uint       `json:"organization_id" gorm:"index:idx_sub_org_status;not null"`
	PlanID                uint       `json:"plan_id" gorm:"not null"`
	Gateway               string     `json:"gateway" gorm:"not null"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id" gorm:"uniqueIndex;not null"`
	GatewayCustomerID     string     `json:"gateway_customer_id"`
	Status                string     `json:"status" gorm:"index:idx_sub_org_status;default:'incomplete'"`
	CurrentPeriodStart    *time.Time `json:"current_period_start"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end"`
	TrialEnd              *time.Time `json:"trial_end"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end" gorm:"default:false"`
	CancelledAt           *time.Time `json:"cancelled_at"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
	// Plans are protected from deletion while subscriptions reference them.
	Plan Plan `json:"-" gorm:"foreignKey:PlanID;constraint:OnDelete:RESTRICT"`
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// IsTerminal reports whether the subscription can never transition again.
func (s *Subscription) IsTerminal() bool {
	return s.Status == StatusCancelled || s.Status == StatusIncompleteExpired
}

// Invoice is a billing receipt. The subscription link is nullable: an invoice
// may precede or outlive the subscription it belongs to.
type Invoice struct {
	gorm.Model
	OrganizationID   *uint      `json:"organization_id" gorm:"index"`
	SubscriptionID   *uint      `json:"subscription_id"`
	Gateway          string     `json:"gateway" gorm:"not null"`
	GatewayInvoiceID string     `json:"gateway_invoice_id" gorm:"uniqueIndex;not null"`
	AmountCents      int64      `json:"amount_cents"`
	Currency         string     `json:"currency" gorm:"default:'USD'"`
	Status           string     `json:"status" gorm:"index;default:'draft'"`
	IssuedAt         *time.Time `json:"issued_at"`
	PaidAt           *time.Time `json:"paid_at"`
	InvoiceURL       string     `json:"invoice_url"`

	Subscription *Subscription `json:"-" gorm:"foreignKey:SubscriptionID;constraint:OnDelete:SET NULL"`
}

func (i *Invoice) IsPaid() bool {
	return i.Status == InvoicePaid
}

// PaymentMethod is a stored instrument reference. At most one row per
// organization carries is_default=true; BillingService.SetDefaultPaymentMethod
// is the only writer of that flag.
type PaymentMethod struct {
	gorm.Model
	OrganizationID         uint   `json:"organization_id" gorm:"index:idx_pm_org_default;not null"`
	Gateway                string `json:"gateway" gorm:"not null"`
	GatewayPaymentMethodID string `json:"gateway_payment_method_id" gorm:"uniqueIndex;not null"`
	Type                   string `json:"type"`
	Last4                  string `json:"last4"`
	Brand                  string `json:"brand"`
	IsDefault              bool   `json:"is_default" gorm:"index:idx_pm_org_default;default:false"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
}

// WebhookEvent is the durable dedup and audit log for processed webhooks.
// The (event_id, gateway) pair is the idempotency key; the composite unique
// index makes the second of two racing inserts fail with a duplicate-key
// error, which the dispatcher swallows as "already processed".
type WebhookEvent struct {
	gorm.Model
	EventID     string         `json:"event_id" gorm:"uniqueIndex:idx_webhook_event_gateway;not null"`
	Gateway     string         `json:"gateway" gorm:"uniqueIndex:idx_webhook_event_gateway;not null"`
	EventType   string         `json:"event_type" gorm:"index"`
	Payload     datatypes.JSON `json:"payload"`
	ProcessedAt time.Time      `json:"processed_at"`
}
