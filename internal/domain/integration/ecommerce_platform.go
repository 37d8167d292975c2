package integration

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// PlatformCode
// ---------------------------------------------------------------------------

// PlatformCode identifies the kind of external commerce platform behind a connector
type PlatformCode string

const (
	PlatformCodeWooCommerce PlatformCode = "woocommerce"
)

// IsValid returns true if the platform code is valid
func (c PlatformCode) IsValid() bool {
	return c == PlatformCodeWooCommerce
}

// String returns the string representation of PlatformCode
func (c PlatformCode) String() string {
	return string(c)
}

// ---------------------------------------------------------------------------
// Connector
// ---------------------------------------------------------------------------

// Connector is a configured link between an org and one external platform account
type Connector struct {
	ID       string
	OrgID    uuid.UUID
	Platform PlatformCode
	Name     string
	// Default marks the connector used when a request does not name one
	Default bool
}

// ---------------------------------------------------------------------------
// ExternalPlatform Port
// ---------------------------------------------------------------------------

// PageQuery selects one page of a remote collection
type PageQuery struct {
	EntityType EntityType
	Page       int
	PageSize   int
	// Search is passed to the platform as a free-text filter (e.g. an email)
	Search string
}

// Page is one page of a remote collection
type Page struct {
	Items   []*ExternalRecord
	HasMore bool
	Total   int
}

// ExternalRecord is a record as returned by the platform, normalized to the
// fields the internal store keeps. Raw carries the untouched payload.
type ExternalRecord struct {
	ExternalID   string
	EntityType   EntityType
	DisplayName  string
	Email        string
	SKU          string
	Amount       decimal.Decimal
	Currency     string
	RemoteStatus string
	Attributes   map[string]any
	Raw          json.RawMessage
}

// Validate rejects records that cannot be written to the internal store.
// These failures are permanent for the item.
func (r *ExternalRecord) Validate() error {
	if r == nil {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return ErrInvalidExternalID
	}
	switch r.EntityType {
	case EntityTypeCustomer:
		if r.Email == "" && r.DisplayName == "" {
			return ErrInvalidPayload
		}
	case EntityTypeProduct, EntityTypeCategory:
		if r.DisplayName == "" {
			return ErrInvalidPayload
		}
	case EntityTypeOrder:
		if r.Amount.IsNegative() {
			return ErrInvalidPayload
		}
	default:
		return ErrInvalidEntityType
	}
	return nil
}

// ExternalPlatform is the port every platform adapter implements.
// Implementations map HTTP failures onto the ErrPlatform* sentinels.
type ExternalPlatform interface {
	// Code returns the platform kind
	Code() PlatformCode
	// ListPage returns one page of a collection. Pages are 1-based.
	ListPage(ctx context.Context, q PageQuery) (*Page, error)
	// Fetch returns a single record by its external identifier
	Fetch(ctx context.Context, entityType EntityType, externalID string) (*ExternalRecord, error)
}

// PlatformProvider resolves connectors and their platform adapters
type PlatformProvider interface {
	Connector(connectorID string) (*Connector, error)
	DefaultConnector(orgID uuid.UUID) (*Connector, error)
	Platform(connectorID string) (ExternalPlatform, error)
}
