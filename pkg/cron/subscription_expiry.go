package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/pkg/database"
	"saasgrid_backend/pkg/email"
)

// InitSubscriptionExpiryCron warns organizations whose subscription is set to
// lapse at period end. Runs daily at 09:00.
func InitSubscriptionExpiryCron() {
	c := cron.New()

	_, err := c.AddFunc("0 9 * * *", func() {
		checkExpiringSubscriptions()
	})

	if err != nil {
		log.Printf("Could not initialize subscription expiry cron: %v", err)
		return
	}

	c.Start()
}

func checkExpiringSubscriptions() {
	log.Println("Checking for expiring subscriptions...")

	warningDays := []int{7, 3}

	for _, days := range warningDays {
		var subs []model.Subscription
		targetDate := time.Now().AddDate(0, 0, days).Format("2006-01-02")

		err := database.DB.Where("DATE(current_period_end) = ? AND cancel_at_period_end = ? AND status IN ?",
			targetDate, true, []string{model.StatusActive, model.StatusTrialing}).
			Preload("Plan").
			Preload("Organization.Owner").
			Find(&subs).Error

		if err != nil {
			log.Printf("Error fetching expiring subscriptions: %v", err)
			continue
		}

		log.Printf("Found %d subscriptions expiring in %d days", len(subs), days)

		for _, sub := range subs {
			if email.GlobalEmailService == nil || sub.CurrentPeriodEnd == nil {
				continue
			}

			err := email.GlobalEmailService.SendSubscriptionExpiryWarning(
				sub.Organization.Owner.Email,
				sub.Organization.Name,
				sub.Plan.Name,
				*sub.CurrentPeriodEnd,
				days,
			)
			if err != nil {
				log.Printf("Error sending expiry warning to %s: %v", sub.Organization.Owner.Email, err)
			} else {
				log.Printf("Sent expiry warning to %s for subscription expiring in %d days", sub.Organization.Owner.Email, days)
			}
		}
	}
}
