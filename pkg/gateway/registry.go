package gateway

import (
	"sort"
	"strings"
	"sync"

	"saasgrid_backend/pkg/config"
)

// Factory builds a configured gateway from its credentials.
type Factory func(cfg config.GatewayConfig) (PaymentGateway, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"razorpay": func(cfg config.GatewayConfig) (PaymentGateway, error) {
			return NewRazorpayGateway(cfg.APIKey, cfg.APISecret, cfg.WebhookSecret), nil
		},
		"stripe": func(cfg config.GatewayConfig) (PaymentGateway, error) {
			return NewStripeGateway(cfg.APIKey, cfg.APISecret, cfg.WebhookSecret), nil
		},
	}
)

// Get resolves a gateway by name. An empty name falls back to the configured
// default gateway. Names are matched case-insensitively with surrounding
// whitespace ignored.
func Get(name string) (PaymentGateway, error) {
	cfg := config.Load()

	if strings.TrimSpace(name) == "" {
		name = cfg.Billing.DefaultGateway
	}
	name = strings.ToLower(strings.TrimSpace(name))

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, newError(ErrUnsupportedGateway,
			"unsupported payment gateway: %s (supported: %s)", name, strings.Join(Available(), ", "))
	}

	// Built-in gateways must have credentials in configuration. Runtime
	// registrations are passed whatever the environment provides and may
	// enforce their own requirements.
	creds, known := cfg.Gateway(name)
	if known && creds.APISecret == "" {
		return nil, newError(ErrGatewayConfigMissing, "missing configuration for gateway: %s", name)
	}

	return factory(creds)
}

// Register adds a gateway factory at runtime. Production deployments register
// at startup only; tests that register must restore prior state.
func Register(name string, factory Factory) error {
	if factory == nil {
		return newError(ErrInvalidGatewayClass, "gateway factory must not be nil")
	}

	registryMu.Lock()
	registry[strings.ToLower(strings.TrimSpace(name))] = factory
	registryMu.Unlock()
	return nil
}

// Unregister removes a gateway. Intended for test cleanup.
func Unregister(name string) {
	registryMu.Lock()
	delete(registry, strings.ToLower(strings.TrimSpace(name)))
	registryMu.Unlock()
}

// Available lists the registered gateway names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
