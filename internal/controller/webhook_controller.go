package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/internal/service"
	"saasgrid_backend/internal/tasks"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
	"saasgrid_backend/pkg/gateway"
	"saasgrid_backend/pkg/queue"
)

// webhookSignatureHeaders maps a gateway name to the HTTP header carrying its
// webhook signature.
var webhookSignatureHeaders = map[string]string{
	"razorpay": "X-Razorpay-Signature",
	"stripe":   "Stripe-Signature",
	"paddle":   "Paddle-Signature",
}

const defaultSignatureHeader = "X-Signature"

type handleOutcome int

const (
	outcomeOK handleOutcome = iota
	// outcomeReferenceNotFound: the event referenced a subscription or
	// invoice we have no record of. Acknowledged with 200 so the provider
	// stops retrying, but flagged to the admins.
	outcomeReferenceNotFound
	// outcomeFatal: a local persistence failure. Answered with 500 so the
	// provider redelivers.
	outcomeFatal
)

// handlerResult reports what an event handler did and which follow-up task,
// if any, to enqueue once the audit row is written. missing describes the
// unresolved reference when outcome is outcomeReferenceNotFound.
type handlerResult struct {
	outcome handleOutcome
	missing string
	task    string
	record  string
}

type eventHandler func(gatewayName string, event *gateway.Event) handlerResult

// eventRoutes is the exact-match dispatch table from canonical event type to
// handler. Event types not listed here are acknowledged and ignored.
var eventRoutes = map[string]eventHandler{
	gateway.EventSubscriptionActivated: handleSubscriptionActivated,
	gateway.EventSubscriptionUpdated:   handleSubscriptionUpdated,
	gateway.EventSubscriptionCancelled: handleSubscriptionCancelled,
	gateway.EventSubscriptionPaused:    handleSubscriptionStatusChange(model.StatusPaused),
	gateway.EventSubscriptionResumed:   handleSubscriptionStatusChange(model.StatusActive),
	gateway.EventSubscriptionHalted:    handleSubscriptionStatusChange(model.StatusUnpaid),
	gateway.EventSubscriptionCharged:   handleInvoicePaid,
	gateway.EventInvoicePaid:           handleInvoicePaid,
	gateway.EventPaymentFailed:         handlePaymentFailed,
}

// HandleRazorpayWebhook is the fixed Razorpay endpoint.
func HandleRazorpayWebhook(c *fiber.Ctx) error {
	return processWebhook(c, "razorpay")
}

// HandleGatewayWebhook serves any registered gateway by path parameter.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	return processWebhook(c, c.Params("gateway"))
}

// processWebhook runs the full pipeline: verify the raw body's signature,
// normalize the payload, dedup on (event id, gateway), dispatch, then record
// the audit row and enqueue side effects. Verification always happens on the
// exact bytes received, before any parsing.
func processWebhook(c *fiber.Ctx, gatewayName string) error {
	payload := c.Body()

	gw, err := gateway.Get(gatewayName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown gateway",
		})
	}

	header, ok := webhookSignatureHeaders[gw.Name()]
	if !ok {
		header = defaultSignatureHeader
	}
	signature := c.Get(header)

	valid, err := gw.VerifyWebhookSignature(payload, signature)
	if err != nil || !valid {
		log.Printf("Webhook signature rejected for %s: %v", gw.Name(), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	if !json.Valid(payload) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Malformed payload",
		})
	}

	event, err := gw.ParseWebhookEvent(payload)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Malformed payload",
		})
	}

	if event.Type == "" || event.ID == "" {
		log.Printf("Unrecognized %s webhook payload, ignoring", gw.Name())
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	var existing int64
	database.DB.Model(&model.WebhookEvent{}).
		Where("event_id = ? AND gateway = ?", event.ID, gw.Name()).
		Count(&existing)
	if existing > 0 {
		return c.JSON(fiber.Map{"status": "already processed"})
	}

	handler, ok := eventRoutes[event.Type]
	if !ok {
		log.Printf("No handler for %s event %s, ignoring", gw.Name(), event.Type)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	result := handler(gw.Name(), event)

	switch result.outcome {
	case outcomeReferenceNotFound:
		missing := result.missing
		if missing == "" {
			missing = "a record we could not resolve"
		}
		email.NotifyAdmins(
			"Webhook referenced unknown record",
			fmt.Sprintf("Gateway %s delivered %s (event %s): %s.",
				gw.Name(), event.Type, event.ID, missing),
		)
		return c.JSON(fiber.Map{"status": "unprocessed"})
	case outcomeFatal:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Event processing failed",
		})
	}

	row := model.WebhookEvent{
		EventID:     event.ID,
		Gateway:     gw.Name(),
		EventType:   event.Type,
		Payload:     datatypes.JSON(payload),
		ProcessedAt: time.Now().UTC(),
	}
	if err := database.DB.Create(&row).Error; err != nil {
		// A racing duplicate delivery got its row in first; the work is done
		// either way.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.JSON(fiber.Map{"status": "already processed"})
		}
		log.Printf("Could not record webhook event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Event processing failed",
		})
	}

	if result.task != "" && result.record != "" {
		queue.Enqueue(result.task, result.record)
	}
	queue.Enqueue(tasks.TaskArchiveWebhookPayload, fmt.Sprint(row.ID))

	return c.JSON(fiber.Map{"status": "processed"})
}

func handleSubscriptionActivated(gatewayName string, event *gateway.Event) handlerResult {
	sub, res := findSubscription(gatewayName, event.Data.SubscriptionID)
	if sub == nil {
		return res
	}

	sub.Status = model.StatusActive
	applyPeriod(sub, event)

	if err := database.DB.Save(sub).Error; err != nil {
		log.Printf("Could not activate subscription %s: %v", sub.GatewaySubscriptionID, err)
		return handlerResult{outcome: outcomeFatal}
	}
	return handlerResult{
		task:   tasks.TaskSubscriptionActivatedEmail,
		record: fmt.Sprint(sub.ID),
	}
}

func handleSubscriptionUpdated(gatewayName string, event *gateway.Event) handlerResult {
	sub, res := findSubscription(gatewayName, event.Data.SubscriptionID)
	if sub == nil {
		return res
	}

	// Update events only signal that something changed; the gateway holds
	// the authoritative state, so re-sync instead of trusting the payload.
	if _, err := billingService.SyncSubscriptionFromGateway(sub); err != nil {
		log.Printf("Could not sync subscription %s: %v", sub.GatewaySubscriptionID, err)
		return handlerResult{outcome: outcomeFatal}
	}
	return handlerResult{}
}

func handleSubscriptionCancelled(gatewayName string, event *gateway.Event) handlerResult {
	sub, res := findSubscription(gatewayName, event.Data.SubscriptionID)
	if sub == nil {
		return res
	}

	now := time.Now().UTC()
	sub.Status = model.StatusCancelled
	if sub.CancelledAt == nil {
		sub.CancelledAt = &now
	}

	if err := database.DB.Save(sub).Error; err != nil {
		log.Printf("Could not cancel subscription %s: %v", sub.GatewaySubscriptionID, err)
		return handlerResult{outcome: outcomeFatal}
	}
	return handlerResult{
		task:   tasks.TaskSubscriptionCancelledEmail,
		record: fmt.Sprint(sub.ID),
	}
}

// handleSubscriptionStatusChange builds a handler that moves the subscription
// to a fixed status, used for the pause/resume/halt lifecycle events.
func handleSubscriptionStatusChange(status string) eventHandler {
	return func(gatewayName string, event *gateway.Event) handlerResult {
		sub, res := findSubscription(gatewayName, event.Data.SubscriptionID)
		if sub == nil {
			return res
		}

		sub.Status = status
		if err := database.DB.Save(sub).Error; err != nil {
			log.Printf("Could not set subscription %s to %s: %v", sub.GatewaySubscriptionID, status, err)
			return handlerResult{outcome: outcomeFatal}
		}
		return handlerResult{}
	}
}

func handleInvoicePaid(gatewayName string, event *gateway.Event) handlerResult {
	data := invoiceData(gatewayName, event)
	if data.GatewayInvoiceID == "" {
		return handlerResult{
			outcome: outcomeReferenceNotFound,
			missing: "the payload carried no invoice or payment reference",
		}
	}

	invoice, err := billingService.HandleSuccessfulPayment(data)
	if err != nil {
		return handlerResult{outcome: outcomeFatal}
	}
	return handlerResult{
		task:   tasks.TaskInvoicePaidEmail,
		record: fmt.Sprint(invoice.ID),
	}
}

func handlePaymentFailed(gatewayName string, event *gateway.Event) handlerResult {
	data := invoiceData(gatewayName, event)
	if data.GatewayInvoiceID == "" {
		return handlerResult{
			outcome: outcomeReferenceNotFound,
			missing: "the payload carried no invoice or payment reference",
		}
	}

	invoice, err := billingService.HandleFailedPayment(data)
	if err != nil {
		return handlerResult{outcome: outcomeFatal}
	}
	return handlerResult{
		task:   tasks.TaskPaymentFailedEmail,
		record: fmt.Sprint(invoice.ID),
	}
}

// findSubscription resolves the event's subscription reference. A nil
// subscription comes back with the result the handler should return as-is.
func findSubscription(gatewayName, gatewaySubID string) (*model.Subscription, handlerResult) {
	if gatewaySubID == "" {
		return nil, handlerResult{
			outcome: outcomeReferenceNotFound,
			missing: "the payload carried no subscription reference",
		}
	}

	var sub model.Subscription
	err := database.DB.Where("gateway_subscription_id = ? AND gateway = ?", gatewaySubID, gatewayName).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Webhook referenced unknown subscription %s (%s)", gatewaySubID, gatewayName)
		return nil, handlerResult{
			outcome: outcomeReferenceNotFound,
			missing: fmt.Sprintf("the payload referenced subscription %s, which we have no record of", gatewaySubID),
		}
	}
	if err != nil {
		log.Printf("Subscription lookup failed for %s: %v", gatewaySubID, err)
		return nil, handlerResult{outcome: outcomeFatal}
	}
	return &sub, handlerResult{}
}

func invoiceData(gatewayName string, event *gateway.Event) service.InvoiceData {
	invoiceID := event.Data.InvoiceID
	if invoiceID == "" {
		// Providers that bill per charge rather than per invoice only carry
		// a payment id; it is just as unique.
		invoiceID = event.Data.PaymentID
	}
	return service.InvoiceData{
		Gateway:               gatewayName,
		GatewayInvoiceID:      invoiceID,
		GatewaySubscriptionID: event.Data.SubscriptionID,
		AmountCents:           event.Data.AmountCents,
		Currency:              event.Data.Currency,
		IssuedAt:              event.Data.IssuedAt,
		InvoiceURL:            event.Data.InvoiceURL,
	}
}

func applyPeriod(sub *model.Subscription, event *gateway.Event) {
	if event.Data.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = event.Data.CurrentPeriodStart
	}
	if event.Data.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = event.Data.CurrentPeriodEnd
	}
}
