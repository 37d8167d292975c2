package platform

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

func TestNewRegistryFromConfig(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()

	r, err := NewRegistryFromConfig([]config.ConnectorConfig{
		{ID: "woo-a1", OrgID: orgA.String(), BaseURL: "https://a1.example.com", ConsumerKey: "k", ConsumerSecret: "s"},
		{ID: "woo-a2", OrgID: orgA.String(), BaseURL: "https://a2.example.com", ConsumerKey: "k", ConsumerSecret: "s", Default: true},
		{ID: "woo-b", OrgID: orgB.String(), Platform: "woocommerce", BaseURL: "https://b.example.com", ConsumerKey: "k", ConsumerSecret: "s"},
	}, nil)
	require.NoError(t, err)

	conn, err := r.Connector("woo-b")
	require.NoError(t, err)
	assert.Equal(t, orgB, conn.OrgID)
	assert.Equal(t, integration.PlatformCodeWooCommerce, conn.Platform)
	assert.Equal(t, "woo-b", conn.Name)

	def, err := r.DefaultConnector(orgA)
	require.NoError(t, err)
	assert.Equal(t, "woo-a2", def.ID, "the connector marked default wins")

	only, err := r.DefaultConnector(orgB)
	require.NoError(t, err)
	assert.Equal(t, "woo-b", only.ID, "a single connector is the default")

	_, err = r.DefaultConnector(uuid.New())
	assert.ErrorIs(t, err, integration.ErrConnectorNotConfigured)

	p, err := r.Platform("woo-a1")
	require.NoError(t, err)
	assert.Equal(t, integration.PlatformCodeWooCommerce, p.Code())

	_, err = r.Platform("missing")
	assert.ErrorIs(t, err, integration.ErrConnectorNotConfigured)

	assert.Len(t, r.Connectors(), 3)
}

func TestNewRegistryFromConfig_Invalid(t *testing.T) {
	_, err := NewRegistryFromConfig([]config.ConnectorConfig{
		{ID: "bad", OrgID: "not-a-uuid", BaseURL: "https://x.example.com", ConsumerKey: "k", ConsumerSecret: "s"},
	}, nil)
	assert.ErrorIs(t, err, integration.ErrInvalidOrgID)

	_, err = NewRegistryFromConfig([]config.ConnectorConfig{
		{ID: "bad", OrgID: uuid.NewString(), Platform: "shopify", BaseURL: "https://x.example.com", ConsumerKey: "k", ConsumerSecret: "s"},
	}, nil)
	assert.Error(t, err)
}

func TestConnectorPolicy(t *testing.T) {
	defaults := resilience.DefaultPolicy()

	p := ConnectorPolicy(config.ConnectorConfig{}, defaults)
	assert.Equal(t, defaults.MaxTokens, p.MaxTokens)
	assert.Equal(t, defaults.Breaker.Cooldown, p.Breaker.Cooldown)

	p = ConnectorPolicy(config.ConnectorConfig{MaxTokens: 40, RefillRate: 4, BreakerFails: 3, BreakerCool: "15s"}, defaults)
	assert.Equal(t, 40, p.MaxTokens)
	assert.Equal(t, 4.0, p.RefillRate)
	assert.Equal(t, 3, p.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, p.Breaker.Cooldown)
}
