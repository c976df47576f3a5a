package seed

import (
	"log"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/config"
)

// SeedPlans creates the default plan catalog. Existing plans are left alone,
// so re-running at startup is safe.
func SeedPlans(db *gorm.DB) {
	defaultGateway := config.Load().Billing.DefaultGateway

	plans := []model.Plan{
		{
			Name:            "Starter",
			Slug:            "starter",
			Gateway:         defaultGateway,
			GatewayPriceID:  "price_test_starter",
			PriceCents:      1999,
			BillingInterval: "month",
			Features: datatypes.JSONMap{
				"api_access":   true,
				"max_seats":    5,
				"max_projects": 3,
			},
		},
		{
			Name:            "Growth",
			Slug:            "growth",
			Gateway:         defaultGateway,
			GatewayPriceID:  "price_test_growth",
			PriceCents:      7999,
			BillingInterval: "month",
			Features: datatypes.JSONMap{
				"api_access":       true,
				"audit_log":        true,
				"priority_support": true,
				"max_seats":        25,
				"max_projects":     20,
			},
		},
		{
			Name:            "Enterprise",
			Slug:            "enterprise",
			Gateway:         defaultGateway,
			GatewayPriceID:  "price_test_enterprise",
			PriceCents:      29999,
			BillingInterval: "month",
			Features: datatypes.JSONMap{
				"api_access":       true,
				"sso":              true,
				"audit_log":        true,
				"priority_support": true,
				"max_seats":        500,
				"max_projects":     1000,
			},
		},
	}

	for _, plan := range plans {
		result := db.FirstOrCreate(&plan, model.Plan{Slug: plan.Slug})
		if result.Error != nil {
			log.Printf("Error creating plan %s: %v", plan.Name, result.Error)
		}
	}

	log.Println("Plans seeded successfully!")
}
