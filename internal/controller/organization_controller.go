package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/config"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
	"saasgrid_backend/pkg/utils/jwt"
)

type CreateOrganizationInput struct {
	Name string `json:"name" validate:"required"`
}

type InviteMemberInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role"`
}

type AcceptInvitationInput struct {
	Token string `json:"token" validate:"required"`
}

func InitOrganizationController() {}

func CreateOrganization(c *fiber.Ctx) error {
	input := new(CreateOrganizationInput)
	if err := c.BodyParser(input); err != nil || input.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	claims := c.Locals("user").(*jwt.Claims)

	orgSlug := slug.Make(input.Name)
	var count int64
	database.DB.Model(&model.Organization{}).Where("slug LIKE ?", orgSlug+"%").Count(&count)
	if count > 0 {
		orgSlug = fmt.Sprintf("%s-%d", orgSlug, count+1)
	}

	org := model.Organization{
		Name:    input.Name,
		Slug:    orgSlug,
		OwnerID: claims.UserID,
	}

	if err := database.DB.Create(&org).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create organization",
		})
	}

	membership := model.Membership{
		OrganizationID: org.ID,
		UserID:         claims.UserID,
		Role:           model.RoleOwner,
	}
	if err := database.DB.Create(&membership).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create membership",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(org)
}

func ListMyOrganizations(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	var memberships []model.Membership
	if err := database.DB.Where("user_id = ?", claims.UserID).
		Preload("Organization").
		Find(&memberships).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch organizations",
		})
	}

	out := make([]fiber.Map, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, fiber.Map{
			"id":   m.Organization.ID,
			"name": m.Organization.Name,
			"slug": m.Organization.Slug,
			"role": m.Role,
		})
	}

	return c.JSON(out)
}

func ListMembers(c *fiber.Ctx) error {
	orgID, _ := c.ParamsInt("org_id")

	var memberships []model.Membership
	if err := database.DB.Where("organization_id = ?", orgID).
		Preload("User").
		Find(&memberships).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch members",
		})
	}

	out := make([]fiber.Map, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, fiber.Map{
			"user_id": m.UserID,
			"email":   m.User.Email,
			"name":    m.User.Name,
			"role":    m.Role,
		})
	}

	return c.JSON(out)
}

// InviteMember creates a token-verified invitation with a 7 day expiry.
func InviteMember(c *fiber.Ctx) error {
	input := new(InviteMemberInput)
	if err := c.BodyParser(input); err != nil || input.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	orgID, _ := c.ParamsInt("org_id")

	role := input.Role
	if role == "" {
		role = model.RoleMember
	}
	if role != model.RoleMember && role != model.RoleAdmin {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid role",
		})
	}

	var org model.Organization
	if err := database.DB.First(&org, orgID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Organization not found",
		})
	}

	invitation := model.Invitation{
		OrganizationID: org.ID,
		Email:          input.Email,
		Role:           role,
		Token:          uuid.NewString(),
		ExpiresAt:      time.Now().Add(7 * 24 * time.Hour),
	}

	if err := database.DB.Create(&invitation).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create invitation",
		})
	}

	if email.GlobalEmailService != nil {
		link := fmt.Sprintf("%s/invitations/accept?token=%s", config.Load().Server.BaseURL, invitation.Token)
		if err := email.GlobalEmailService.SendInvitationEmail(input.Email, org.Name, role, link); err != nil {
			log.Printf("Could not send invitation email: %v", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Invitation sent",
	})
}

func AcceptInvitation(c *fiber.Ctx) error {
	input := new(AcceptInvitationInput)
	if err := c.BodyParser(input); err != nil || input.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	claims := c.Locals("user").(*jwt.Claims)

	var invitation model.Invitation
	if err := database.DB.Where("token = ?", input.Token).First(&invitation).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Invitation not found",
		})
	}

	if invitation.AcceptedAt != nil || invitation.IsExpired() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invitation is no longer valid",
		})
	}

	if invitation.Email != claims.Email {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "This invitation was issued to a different email",
		})
	}

	membership := model.Membership{
		OrganizationID: invitation.OrganizationID,
		UserID:         claims.UserID,
		Role:           invitation.Role,
	}
	if err := database.DB.Create(&membership).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "You are already a member of this organization",
		})
	}

	now := time.Now()
	invitation.AcceptedAt = &now
	if err := database.DB.Save(&invitation).Error; err != nil {
		log.Printf("Could not mark invitation %d accepted: %v", invitation.ID, err)
	}

	return c.JSON(fiber.Map{
		"message": "Invitation accepted",
	})
}
