package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"saasgrid_backend/internal/model"
	"saasgrid_backend/internal/service"
	"saasgrid_backend/pkg/database"
)

// perSubRetries bounds gateway calls for a single subscription during one
// sweep; a flaky provider must not stall the whole run.
const perSubRetries = 3

// InitSubscriptionSyncCron starts the hourly reconciliation sweep. Webhooks
// are the primary state source; the sweep catches deliveries that never
// arrived.
func InitSubscriptionSyncCron() {
	c := cron.New()

	_, err := c.AddFunc("0 * * * *", func() {
		syncSubscriptions()
	})

	if err != nil {
		log.Printf("Could not initialize subscription sync cron: %v", err)
		return
	}

	c.Start()
	log.Printf("Subscription sync cron initialized successfully")
}

func syncSubscriptions() {
	log.Println("Running subscription reconciliation sweep...")

	var subs []model.Subscription
	err := database.DB.Where("status IN ?", []string{
		model.StatusActive,
		model.StatusTrialing,
		model.StatusPastDue,
		model.StatusIncomplete,
	}).Find(&subs).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for sync: %v", err)
		return
	}

	billing := service.NewBillingService(database.DB)

	synced, failed := 0, 0
	for i := range subs {
		if syncOne(billing, &subs[i]) {
			synced++
		} else {
			failed++
		}
	}

	log.Printf("Subscription sweep finished: %d synced, %d failed", synced, failed)
}

func syncOne(billing *service.BillingService, sub *model.Subscription) bool {
	var err error
	for attempt := 1; attempt <= perSubRetries; attempt++ {
		if _, err = billing.SyncSubscriptionFromGateway(sub); err == nil {
			return true
		}
		if attempt < perSubRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	log.Printf("Could not sync subscription %s: %v", sub.GatewaySubscriptionID, err)
	return false
}
