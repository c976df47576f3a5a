package middleware

import (
	"github.com/gofiber/fiber/v2"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/utils/jwt"
)

// RequireOrgRole checks that the caller is a member of the organization in
// the :org_id route param with one of the given roles. The membership is
// stored in locals for downstream handlers.
func RequireOrgRole(roles ...string) fiber.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(c *fiber.Ctx) error {
		claims := c.Locals("user").(*jwt.Claims)
		orgID, err := c.ParamsInt("org_id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid organization id",
			})
		}

		var membership model.Membership
		if err := database.DB.Where("organization_id = ? AND user_id = ?", orgID, claims.UserID).
			First(&membership).Error; err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You are not a member of this organization",
			})
		}

		if len(allowed) > 0 && !allowed[membership.Role] {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Your role does not permit this action",
			})
		}

		c.Locals("membership", &membership)
		return c.Next()
	}
}
