package platform

import (
	"encoding/json"
	"strings"
)

// wooAddress is the billing/shipping block shared by customers and orders
type wooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type wooCustomer struct {
	ID        json.Number `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Username  string      `json:"username"`
	Billing   wooAddress  `json:"billing"`
}

type wooCategoryRef struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type wooProduct struct {
	ID            json.Number      `json:"id"`
	Name          string           `json:"name"`
	SKU           string           `json:"sku"`
	Type          string           `json:"type"`
	Status        string           `json:"status"`
	Price         string           `json:"price"`
	StockQuantity *int             `json:"stock_quantity"`
	StockStatus   string           `json:"stock_status"`
	Categories    []wooCategoryRef `json:"categories"`
}

type wooOrder struct {
	ID         json.Number `json:"id"`
	Number     string      `json:"number"`
	Status     string      `json:"status"`
	Currency   string      `json:"currency"`
	Total      string      `json:"total"`
	TotalTax   string      `json:"total_tax"`
	CustomerID json.Number `json:"customer_id"`
	Billing    wooAddress  `json:"billing"`
	// LineItems is kept opaque; only its length is recorded
	LineItems []json.RawMessage `json:"line_items"`
}

type wooCategory struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Slug   string      `json:"slug"`
	Parent json.Number `json:"parent"`
	Count  int         `json:"count"`
}

// wooError is the body WooCommerce returns with non-2xx responses
type wooError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
