package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
)

// WooCommerceAdapter implements integration.ExternalPlatform against the WooCommerce REST API
type WooCommerceAdapter struct {
	config *WooCommerceConfig
	client *resty.Client
	logger *zap.Logger
}

// NewWooCommerceAdapter creates an adapter for one store
func NewWooCommerceAdapter(config *WooCommerceConfig, logger *zap.Logger) (*WooCommerceAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(config.APIRoot()).
		SetBasicAuth(config.ConsumerKey, config.ConsumerSecret).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")

	return &WooCommerceAdapter{
		config: config,
		client: client,
		logger: logger.With(zap.String("platform", integration.PlatformCodeWooCommerce.String())),
	}, nil
}

// Code returns the platform code this adapter handles
func (a *WooCommerceAdapter) Code() integration.PlatformCode {
	return integration.PlatformCodeWooCommerce
}

// endpointFor maps an entity type to its collection path
func endpointFor(entityType integration.EntityType) (string, error) {
	switch entityType {
	case integration.EntityTypeCustomer:
		return "/customers", nil
	case integration.EntityTypeProduct:
		return "/products", nil
	case integration.EntityTypeOrder:
		return "/orders", nil
	case integration.EntityTypeCategory:
		return "/products/categories", nil
	default:
		return "", fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, entityType)
	}
}

// ListPage returns one page of a collection. HasMore comes from the
// X-WP-TotalPages header when present, else from a full page.
func (a *WooCommerceAdapter) ListPage(ctx context.Context, q integration.PageQuery) (*integration.Page, error) {
	path, err := endpointFor(q.EntityType)
	if err != nil {
		return nil, err
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PageSize
	if perPage < 1 || perPage > a.config.MaxPageSize {
		perPage = a.config.MaxPageSize
	}

	params := map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
		"orderby":  "id",
		"order":    "asc",
	}
	if q.Search != "" {
		if q.EntityType == integration.EntityTypeCustomer && strings.Contains(q.Search, "@") {
			params["email"] = q.Search
		} else {
			params["search"] = q.Search
		}
	}

	resp, err := a.get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &raws); err != nil {
		return nil, fmt.Errorf("%w: failed to parse list response: %v", integration.ErrPlatformInvalidResponse, err)
	}

	result := &integration.Page{Items: make([]*integration.ExternalRecord, 0, len(raws))}
	for _, raw := range raws {
		rec, err := decodeRecord(q.EntityType, raw)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, rec)
	}

	result.Total, _ = strconv.Atoi(resp.Header().Get("X-WP-Total"))
	if totalPages, err := strconv.Atoi(resp.Header().Get("X-WP-TotalPages")); err == nil && totalPages > 0 {
		result.HasMore = page < totalPages
	} else {
		result.HasMore = len(raws) == perPage
	}
	return result, nil
}

// Fetch returns a single record by its WooCommerce id
func (a *WooCommerceAdapter) Fetch(ctx context.Context, entityType integration.EntityType, externalID string) (*integration.ExternalRecord, error) {
	path, err := endpointFor(entityType)
	if err != nil {
		return nil, err
	}
	if _, err := strconv.ParseUint(externalID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidExternalID, externalID)
	}

	resp, err := a.get(ctx, path+"/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(entityType, resp.Body())
}

// get performs a GET and maps transport and HTTP failures onto platform errors
func (a *WooCommerceAdapter) get(ctx context.Context, path string, params map[string]string) (*resty.Response, error) {
	var apiErr wooError
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}

	a.logger.Debug("platform request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("latency", resp.Time()),
	)

	if resp.IsError() {
		return nil, newAPIError(resp.StatusCode(), apiErr, resp.Header().Get("Retry-After"))
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Record decoding
// ---------------------------------------------------------------------------

func decodeRecord(entityType integration.EntityType, raw json.RawMessage) (*integration.ExternalRecord, error) {
	rec := &integration.ExternalRecord{EntityType: entityType, Raw: raw}
	var err error
	switch entityType {
	case integration.EntityTypeCustomer:
		err = decodeCustomer(raw, rec)
	case integration.EntityTypeProduct:
		err = decodeProduct(raw, rec)
	case integration.EntityTypeOrder:
		err = decodeOrder(raw, rec)
	case integration.EntityTypeCategory:
		err = decodeCategory(raw, rec)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, entityType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", integration.ErrPlatformInvalidResponse, entityType, err)
	}
	return rec, nil
}

func decodeCustomer(raw json.RawMessage, rec *integration.ExternalRecord) error {
	var c wooCustomer
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	rec.ExternalID = c.ID.String()
	rec.Email = strings.ToLower(strings.TrimSpace(c.Email))
	rec.DisplayName = joinName(c.FirstName, c.LastName)
	if rec.DisplayName == "" {
		rec.DisplayName = joinName(c.Billing.FirstName, c.Billing.LastName)
	}
	if rec.DisplayName == "" {
		rec.DisplayName = c.Username
	}
	rec.Attributes = map[string]any{
		"username": c.Username,
		"company":  c.Billing.Company,
		"phone":    c.Billing.Phone,
		"city":     c.Billing.City,
		"country":  c.Billing.Country,
	}
	return nil
}

func decodeProduct(raw json.RawMessage, rec *integration.ExternalRecord) error {
	var p wooProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	rec.ExternalID = p.ID.String()
	rec.DisplayName = p.Name
	rec.SKU = p.SKU
	rec.RemoteStatus = p.Status
	rec.Amount = parseDecimal(p.Price)
	categories := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		categories = append(categories, c.ID.String())
	}
	rec.Attributes = map[string]any{
		"type":         p.Type,
		"stock_status": p.StockStatus,
		"categories":   categories,
	}
	if p.StockQuantity != nil {
		rec.Attributes["stock_quantity"] = *p.StockQuantity
	}
	return nil
}

func decodeOrder(raw json.RawMessage, rec *integration.ExternalRecord) error {
	var o wooOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return err
	}
	rec.ExternalID = o.ID.String()
	number := o.Number
	if number == "" {
		number = o.ID.String()
	}
	rec.DisplayName = "#" + number
	rec.Email = strings.ToLower(strings.TrimSpace(o.Billing.Email))
	rec.Amount = parseDecimal(o.Total)
	rec.Currency = o.Currency
	rec.RemoteStatus = o.Status
	rec.Attributes = map[string]any{
		"customer_id": o.CustomerID.String(),
		"total_tax":   o.TotalTax,
		"line_items":  len(o.LineItems),
	}
	return nil
}

func decodeCategory(raw json.RawMessage, rec *integration.ExternalRecord) error {
	var c wooCategory
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	rec.ExternalID = c.ID.String()
	rec.DisplayName = c.Name
	rec.Attributes = map[string]any{
		"slug":   c.Slug,
		"parent": c.Parent.String(),
		"count":  c.Count,
	}
	return nil
}

// parseDecimal parses a price string, returning zero for empty or malformed values
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Ensure WooCommerceAdapter implements ExternalPlatform
var _ integration.ExternalPlatform = (*WooCommerceAdapter)(nil)
