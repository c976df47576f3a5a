package middleware

import (
	"github.com/gofiber/fiber/v2"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/plans"
)

// CheckFeatureAccess gates a route on the organization's active plan. The
// organization comes from the :org_id param; an org without an active or
// trialing subscription gets no gated features.
func CheckFeatureAccess(feature plans.Feature) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID, err := c.ParamsInt("org_id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid organization id",
			})
		}

		var sub model.Subscription
		if err := database.DB.Where("organization_id = ? AND status IN ?", orgID,
			[]string{model.StatusActive, model.StatusTrialing}).
			Preload("Plan").
			First(&sub).Error; err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "No active subscription found",
			})
		}

		if !plans.HasFeature(&sub.Plan, feature) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "This feature requires a higher subscription plan",
			})
		}

		return c.Next()
	}
}

// CheckSeatLimit blocks adding members beyond the plan's max_seats limit.
func CheckSeatLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID, err := c.ParamsInt("org_id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid organization id",
			})
		}

		var sub model.Subscription
		if err := database.DB.Where("organization_id = ? AND status IN ?", orgID,
			[]string{model.StatusActive, model.StatusTrialing}).
			Preload("Plan").
			First(&sub).Error; err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "No active subscription found",
			})
		}

		maxSeats := plans.Limit(&sub.Plan, plans.MaxSeats)
		if maxSeats <= 0 {
			return c.Next()
		}

		var memberCount int64
		database.DB.Model(&model.Membership{}).Where("organization_id = ?", orgID).Count(&memberCount)

		if int(memberCount) >= maxSeats {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "You have reached your seat limit. Please upgrade your plan.",
				"current_count": memberCount,
				"max_limit":     maxSeats,
			})
		}

		return c.Next()
	}
}
