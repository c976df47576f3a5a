package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/internal/service"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/gateway"
)

var billingService *service.BillingService

func InitBillingController() {
	billingService = service.NewBillingService(database.DB)
}

// SetBillingService swaps the service instance. Test hook.
func SetBillingService(s *service.BillingService) {
	billingService = s
}

type CheckoutInput struct {
	PlanSlug   string `json:"plan" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required"`
	CancelURL  string `json:"cancel_url" validate:"required"`
}

type SubscribeInput struct {
	PlanSlug  string `json:"plan" validate:"required"`
	TrialDays int    `json:"trial_days"`
}

type CancelInput struct {
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Reason            string `json:"reason"`
}

type SetDefaultPaymentMethodInput struct {
	PaymentMethodID uint `json:"payment_method_id" validate:"required"`
}

func ListPlans(c *fiber.Ctx) error {
	var planList []model.Plan
	if err := database.DB.Where("is_active = ?", true).Order("price_cents").Find(&planList).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch plans",
		})
	}

	return c.JSON(planList)
}

// CreateCheckoutSession starts a hosted checkout for the organization.
func CreateCheckoutSession(c *fiber.Ctx) error {
	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil || input.PlanSlug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	org, plan, ok := loadOrgAndPlan(c, input.PlanSlug)
	if !ok {
		return nil
	}

	session, err := billingService.CreateCheckoutSession(org, plan, input.SuccessURL, input.CancelURL, nil)
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.JSON(fiber.Map{
		"checkout_url":    session.CheckoutURL,
		"session_id":      session.SessionID,
		"subscription_id": session.SubscriptionID,
	})
}

// CreateSubscription subscribes the organization directly (no hosted page).
func CreateSubscription(c *fiber.Ctx) error {
	input := new(SubscribeInput)
	if err := c.BodyParser(input); err != nil || input.PlanSlug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	org, plan, ok := loadOrgAndPlan(c, input.PlanSlug)
	if !ok {
		return nil
	}

	sub, err := billingService.CreateSubscription(org, plan, input.TrialDays, nil)
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(sub)
}

func CancelSubscription(c *fiber.Ctx) error {
	input := new(CancelInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	sub, ok := loadOrgSubscription(c)
	if !ok {
		return nil
	}

	updated, err := billingService.CancelSubscription(sub, input.CancelAtPeriodEnd, input.Reason)
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.JSON(updated)
}

// SyncSubscription pulls authoritative state from the gateway on demand.
func SyncSubscription(c *fiber.Ctx) error {
	sub, ok := loadOrgSubscription(c)
	if !ok {
		return nil
	}

	updated, err := billingService.SyncSubscriptionFromGateway(sub)
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.JSON(updated)
}

func GetSubscription(c *fiber.Ctx) error {
	sub, ok := loadOrgSubscription(c)
	if !ok {
		return nil
	}

	return c.JSON(sub)
}

func ListInvoices(c *fiber.Ctx) error {
	orgID, _ := c.ParamsInt("org_id")

	var invoices []model.Invoice
	if err := database.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&invoices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch invoices",
		})
	}

	return c.JSON(invoices)
}

func ListPaymentMethods(c *fiber.Ctx) error {
	orgID, _ := c.ParamsInt("org_id")

	var methods []model.PaymentMethod
	if err := database.DB.Where("organization_id = ?", orgID).
		Order("is_default DESC, created_at DESC").
		Find(&methods).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch payment methods",
		})
	}

	return c.JSON(methods)
}

func SetDefaultPaymentMethod(c *fiber.Ctx) error {
	input := new(SetDefaultPaymentMethodInput)
	if err := c.BodyParser(input); err != nil || input.PaymentMethodID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	orgID, _ := c.ParamsInt("org_id")

	if err := billingService.SetDefaultPaymentMethod(uint(orgID), input.PaymentMethodID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Payment method not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Default payment method updated",
	})
}

// loadOrgAndPlan resolves the route's organization and the requested plan.
// On a miss it writes the 404 itself and returns false.
func loadOrgAndPlan(c *fiber.Ctx, planSlug string) (*model.Organization, *model.Plan, bool) {
	orgID, _ := c.ParamsInt("org_id")

	var org model.Organization
	if err := database.DB.Preload("Owner").First(&org, orgID).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Organization not found",
		})
		return nil, nil, false
	}

	var plan model.Plan
	if err := database.DB.Where("slug = ? AND is_active = ?", planSlug, true).First(&plan).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Plan not found",
		})
		return nil, nil, false
	}

	return &org, &plan, true
}

func loadOrgSubscription(c *fiber.Ctx) (*model.Subscription, bool) {
	orgID, _ := c.ParamsInt("org_id")

	var sub model.Subscription
	if err := database.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No subscription found",
		})
		return nil, false
	}

	return &sub, true
}

// respondGatewayError surfaces a gateway failure with its machine-readable
// code; callers in synchronous flows see the provider's message directly.
func respondGatewayError(c *fiber.Ctx, err error) error {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": ge.Message,
			"code":  ge.Code,
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
