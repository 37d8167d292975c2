package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

var errAdapterNil = errors.New("platform: adapter is nil")

// Registry resolves connectors and their adapters. It implements integration.PlatformProvider.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]*integration.Connector
	platforms  map[string]integration.ExternalPlatform
	logger     *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connectors: make(map[string]*integration.Connector),
		platforms:  make(map[string]integration.ExternalPlatform),
		logger:     logger,
	}
}

// NewRegistryFromConfig builds adapters for every configured connector
func NewRegistryFromConfig(cfgs []config.ConnectorConfig, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, c := range cfgs {
		conn, adapter, err := buildConnector(c, r.logger)
		if err != nil {
			return nil, fmt.Errorf("connector %q: %w", c.ID, err)
		}
		if err := r.Register(conn, adapter); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func buildConnector(c config.ConnectorConfig, logger *zap.Logger) (*integration.Connector, integration.ExternalPlatform, error) {
	orgID, err := uuid.Parse(c.OrgID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", integration.ErrInvalidOrgID, c.OrgID)
	}
	code := integration.PlatformCode(c.Platform)
	if code == "" {
		code = integration.PlatformCodeWooCommerce
	}
	if !code.IsValid() {
		return nil, nil, fmt.Errorf("unsupported platform %q", c.Platform)
	}

	adapter, err := NewWooCommerceAdapter(&WooCommerceConfig{
		BaseURL:        c.BaseURL,
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		Timeout:        c.TimeoutDuration(),
	}, logger.With(zap.String("connector_id", c.ID)))
	if err != nil {
		return nil, nil, err
	}

	name := c.Name
	if name == "" {
		name = c.ID
	}
	return &integration.Connector{
		ID:       c.ID,
		OrgID:    orgID,
		Platform: code,
		Name:     name,
		Default:  c.Default,
	}, adapter, nil
}

// Register adds or replaces a connector
func (r *Registry) Register(conn *integration.Connector, adapter integration.ExternalPlatform) error {
	if conn == nil || conn.ID == "" {
		return integration.ErrInvalidConnectorID
	}
	if adapter == nil {
		return errAdapterNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[conn.ID] = conn
	r.platforms[conn.ID] = adapter
	r.logger.Info("connector registered",
		zap.String("connector_id", conn.ID),
		zap.String("org_id", conn.OrgID.String()),
		zap.String("platform", conn.Platform.String()),
	)
	return nil
}

// Connector returns a connector by id
func (r *Registry) Connector(connectorID string) (*integration.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrConnectorNotConfigured, connectorID)
	}
	return c, nil
}

// DefaultConnector returns the org's connector marked default, or its only connector
func (r *Registry) DefaultConnector(orgID uuid.UUID) (*integration.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []*integration.Connector
	for _, c := range r.connectors {
		if c.OrgID != orgID {
			continue
		}
		if c.Default {
			return c, nil
		}
		owned = append(owned, c)
	}
	if len(owned) == 1 {
		return owned[0], nil
	}
	return nil, integration.ErrConnectorNotConfigured
}

// Platform returns the adapter of a connector
func (r *Registry) Platform(connectorID string) (integration.ExternalPlatform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrConnectorNotConfigured, connectorID)
	}
	return p, nil
}

// Connectors returns every registered connector sorted by id
func (r *Registry) Connectors() []*integration.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*integration.Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectorPolicy overlays a connector's rate limit and breaker overrides on defaults
func ConnectorPolicy(c config.ConnectorConfig, defaults resilience.Policy) resilience.Policy {
	p := defaults
	if c.MaxTokens > 0 {
		p.MaxTokens = c.MaxTokens
	}
	if c.RefillRate > 0 {
		p.RefillRate = c.RefillRate
	}
	if c.BreakerFails > 0 {
		p.Breaker.FailureThreshold = c.BreakerFails
	}
	if d := c.CooldownDuration(); d > 0 {
		p.Breaker.Cooldown = d
	}
	return p
}

// Ensure Registry implements PlatformProvider
var _ integration.PlatformProvider = (*Registry)(nil)
