package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasgrid_backend/pkg/config"
)

type stubGateway struct {
	RazorpayGateway
	name string
}

func (g *stubGateway) Name() string { return g.name }

func TestGetUnsupportedGateway(t *testing.T) {
	_, err := Get("notarealgateway")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrUnsupportedGateway))
	assert.Contains(t, err.Error(), "razorpay")
	assert.Contains(t, err.Error(), "stripe")
}

func TestGetConfigMissing(t *testing.T) {
	// Built-in gateways require credentials from the environment; none are
	// set under test.
	_, err := Get("razorpay")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrGatewayConfigMissing))
}

func TestRegisterAndGet(t *testing.T) {
	err := Register("paddle", func(cfg config.GatewayConfig) (PaymentGateway, error) {
		return &stubGateway{name: "paddle"}, nil
	})
	require.NoError(t, err)
	defer Unregister("paddle")

	gw, err := Get("paddle")
	require.NoError(t, err)
	assert.Equal(t, "paddle", gw.Name())

	// Lookup is case-insensitive and trims whitespace.
	gw, err = Get("  PADDLE ")
	require.NoError(t, err)
	assert.Equal(t, "paddle", gw.Name())
}

func TestRegisterNilFactory(t *testing.T) {
	err := Register("broken", nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidGatewayClass))
}

func TestAvailable(t *testing.T) {
	require.NoError(t, Register("zgateway", func(cfg config.GatewayConfig) (PaymentGateway, error) {
		return &stubGateway{name: "zgateway"}, nil
	}))
	defer Unregister("zgateway")

	names := Available()
	assert.Contains(t, names, "razorpay")
	assert.Contains(t, names, "stripe")
	assert.Contains(t, names, "zgateway")
	assert.IsIncreasing(t, names)
}
