package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/config"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
	"saasgrid_backend/pkg/utils/jwt"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type MagicLinkRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

type MagicLinkConsumeInput struct {
	Token string `json:"token" validate:"required"`
}

type PasswordResetRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

type PasswordResetInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func InitAuthController() {}

func Register(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var existingUser model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&existingUser).Error; err == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email already exists",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not hash password",
		})
	}

	user := model.User{
		Email:    input.Email,
		Password: string(hashedPassword),
		Name:     input.Name,
	}

	if err := database.GetDB().Create(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create user",
		})
	}

	if email.GlobalEmailService != nil {
		if err := email.GlobalEmailService.SendWelcomeEmail(user.Email, user.Name); err != nil {
			log.Printf("Could not send welcome email: %v", err)
		}
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"user":    user.PublicProfile(),
	})
}

func Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user.PublicProfile(),
	})
}

// RequestMagicLink issues a single-use login token and mails it out. The
// response is identical whether or not the account exists.
func RequestMagicLink(c *fiber.Ctx) error {
	input := new(MagicLinkRequestInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&user).Error; err != nil {
		return c.JSON(fiber.Map{
			"message": "If that email is registered, a login link is on its way",
		})
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(15 * time.Minute)
	user.MagicLinkToken = &token
	user.MagicLinkExpiresAt = &expiresAt

	if err := database.GetDB().Save(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create login link",
		})
	}

	if email.GlobalEmailService != nil {
		link := fmt.Sprintf("%s/auth/magic-link?token=%s", config.Load().Server.BaseURL, token)
		if err := email.GlobalEmailService.SendMagicLinkEmail(user.Email, user.Name, link); err != nil {
			log.Printf("Could not send magic link email: %v", err)
		}
	}

	return c.JSON(fiber.Map{
		"message": "If that email is registered, a login link is on its way",
	})
}

// ConsumeMagicLink exchanges a valid token for a session JWT and clears it.
func ConsumeMagicLink(c *fiber.Ctx) error {
	input := new(MagicLinkConsumeInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := database.GetDB().Where("magic_link_token = ?", input.Token).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired login link",
		})
	}

	if user.MagicLinkExpiresAt == nil || time.Now().After(*user.MagicLinkExpiresAt) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired login link",
		})
	}

	user.MagicLinkToken = nil
	user.MagicLinkExpiresAt = nil
	user.IsVerified = true
	if err := database.GetDB().Save(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not complete login",
		})
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user.PublicProfile(),
	})
}

func RequestPasswordReset(c *fiber.Ctx) error {
	input := new(PasswordResetRequestInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&user).Error; err != nil {
		return c.JSON(fiber.Map{
			"message": "If that email is registered, a reset link is on its way",
		})
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(time.Hour)
	user.PasswordResetToken = &token
	user.PasswordResetExpires = &expiresAt

	if err := database.GetDB().Save(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create reset link",
		})
	}

	if email.GlobalEmailService != nil {
		link := fmt.Sprintf("%s/auth/reset-password?token=%s", config.Load().Server.BaseURL, token)
		if err := email.GlobalEmailService.SendPasswordResetEmail(user.Email, link); err != nil {
			log.Printf("Could not send password reset email: %v", err)
		}
	}

	return c.JSON(fiber.Map{
		"message": "If that email is registered, a reset link is on its way",
	})
}

func ResetPassword(c *fiber.Ctx) error {
	input := new(PasswordResetInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := database.GetDB().Where("password_reset_token = ?", input.Token).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired reset link",
		})
	}

	if user.PasswordResetExpires == nil || time.Now().After(*user.PasswordResetExpires) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired reset link",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not hash password",
		})
	}

	user.Password = string(hashedPassword)
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil
	if err := database.GetDB().Save(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update password",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Password updated successfully",
	})
}

func GetMe(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	var user model.User
	if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch user",
		})
	}

	return c.JSON(user.PublicProfile())
}
