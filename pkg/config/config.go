package config

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Email    EmailConfig
	Billing  BillingConfig
	Archive  ArchiveConfig
}

type ServerConfig struct {
	Port    string
	BaseURL string
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
	AdminEmails  []string
}

// GatewayConfig holds the credentials for one payment provider.
type GatewayConfig struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
}

type BillingConfig struct {
	DefaultGateway string
	Razorpay       GatewayConfig
	Stripe         GatewayConfig
}

type ArchiveConfig struct {
	Bucket string
	Region string
}

var (
	loaded *Config
	once   sync.Once
)

// Load reads configuration from the environment. The .env file is optional;
// a missing file falls back to the process environment.
func Load() *Config {
	once.Do(func() {
		godotenv.Load()

		loaded = &Config{
			Server: ServerConfig{
				Port:    getEnv("PORT", "3000"),
				BaseURL: getEnv("BASE_URL", "http://localhost:3000"),
			},
			Database: DatabaseConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			JWT: JWTConfig{
				Secret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			},
			Email: EmailConfig{
				ResendAPIKey: getEnv("RESEND_API_KEY", ""),
				From:         getEnv("EMAIL_FROM", "SaasGrid <noreply@saasgrid.io>"),
				AdminEmails:  splitList(getEnv("ADMIN_EMAILS", "")),
			},
			Billing: BillingConfig{
				DefaultGateway: getEnv("DEFAULT_PAYMENT_GATEWAY", "razorpay"),
				Razorpay: GatewayConfig{
					APIKey:        getEnv("RAZORPAY_KEY_ID", ""),
					APISecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
					WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
				},
				Stripe: GatewayConfig{
					APIKey:        getEnv("STRIPE_PUBLIC_KEY", ""),
					APISecret:     getEnv("STRIPE_SECRET_KEY", ""),
					WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
				},
			},
			Archive: ArchiveConfig{
				Bucket: getEnv("WEBHOOK_ARCHIVE_BUCKET", ""),
				Region: getEnv("AWS_REGION", "eu-central-1"),
			},
		}
	})

	return loaded
}

// Gateway returns the credentials for a named gateway. The second return
// reports whether the name is one this configuration knows about; callers
// decide what an empty credential set means for unknown names.
func (c *Config) Gateway(name string) (GatewayConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "razorpay":
		return c.Billing.Razorpay, true
	case "stripe":
		return c.Billing.Stripe, true
	}
	return GatewayConfig{}, false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
