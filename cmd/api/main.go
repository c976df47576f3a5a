package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"

	"saasgrid_backend/internal/controller"
	"saasgrid_backend/internal/middleware"
	"saasgrid_backend/internal/model"
	"saasgrid_backend/internal/tasks"
	"saasgrid_backend/pkg/config"
	"saasgrid_backend/pkg/cron"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
	"saasgrid_backend/pkg/plans"
	"saasgrid_backend/pkg/seed"
	"saasgrid_backend/pkg/storage"
)

func setupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/magic-link", controller.RequestMagicLink)
	auth.Post("/magic-link/consume", controller.ConsumeMagicLink)
	auth.Post("/request-reset", controller.RequestPasswordReset)
	auth.Post("/reset-password", controller.ResetPassword)

	protected := api.Group("/", middleware.AuthMiddleware())
	protected.Get("/me", controller.GetMe)

	// Organization routes
	orgs := protected.Group("/organizations")
	orgs.Post("/", controller.CreateOrganization)
	orgs.Get("/", controller.ListMyOrganizations)
	orgs.Get("/:org_id/members", middleware.RequireOrgRole(model.RoleMember, model.RoleAdmin, model.RoleOwner), controller.ListMembers)
	orgs.Post("/:org_id/invitations", middleware.RequireOrgRole(model.RoleAdmin, model.RoleOwner), middleware.CheckSeatLimit(), controller.InviteMember)
	protected.Post("/invitations/accept", controller.AcceptInvitation)

	// Billing routes
	api.Get("/billing/plans", controller.ListPlans)

	billing := orgs.Group("/:org_id/billing", middleware.RequireOrgRole(model.RoleAdmin, model.RoleOwner))
	billing.Post("/checkout", controller.CreateCheckoutSession)
	billing.Post("/subscriptions", controller.CreateSubscription)
	billing.Get("/subscription", controller.GetSubscription)
	billing.Post("/subscription/cancel", controller.CancelSubscription)
	billing.Post("/subscription/sync", controller.SyncSubscription)
	billing.Get("/invoices", controller.ListInvoices)
	billing.Get("/payment-methods", controller.ListPaymentMethods)
	billing.Put("/payment-methods/default", controller.SetDefaultPaymentMethod)

	// Feature-gated example surface
	projects := orgs.Group("/:org_id/projects", middleware.RequireOrgRole(model.RoleMember, model.RoleAdmin, model.RoleOwner))
	projects.Get("/", middleware.CheckFeatureAccess(plans.APIAccess), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"projects": []string{}})
	})

	// Gateway webhooks. The raw body must reach the handler untouched.
	api.Post("/billing/webhooks/razorpay", controller.HandleRazorpayWebhook)
	api.Post("/billing/webhooks/:gateway", controller.HandleGatewayWebhook)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment directly")
	}

	cfg := config.Load()

	if err := email.InitEmailService(cfg.Email.ResendAPIKey, cfg.Email.From, cfg.Email.AdminEmails); err != nil {
		log.Printf("Email service disabled: %v", err)
	}

	if cfg.Archive.Bucket != "" {
		if err := storage.InitStorage(cfg.Archive.Bucket, cfg.Archive.Region); err != nil {
			log.Printf("Webhook archive disabled: %v", err)
		}
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	database.InitDB(cfg.Database.URL)
	err := database.MigrateDatabase(
		&model.User{},
		&model.Organization{},
		&model.Membership{},
		&model.Invitation{},
		&model.Plan{},
		&model.Subscription{},
		&model.Invoice{},
		&model.PaymentMethod{},
		&model.WebhookEvent{},
	)
	if err != nil {
		log.Printf("Migration warning: %v", err)
	}

	seed.SeedPlans(database.DB)

	controller.InitAuthController()
	controller.InitOrganizationController()
	controller.InitBillingController()
	tasks.InitTasks()
	cron.InitSubscriptionSyncCron()
	cron.InitSubscriptionExpiryCron()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New())

	setupRoutes(app)

	log.Printf("Server is running on port %s", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}
