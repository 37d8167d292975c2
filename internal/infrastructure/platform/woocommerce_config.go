package platform

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// WooCommerceConfig holds the credentials and endpoint of one WooCommerce store
type WooCommerceConfig struct {
	// BaseURL is the store root, e.g. https://shop.example.com
	BaseURL string
	// ConsumerKey and ConsumerSecret are the REST API key pair
	ConsumerKey    string
	ConsumerSecret string
	// APIVersion is the REST namespace, wc/v3 unless set
	APIVersion string
	Timeout    time.Duration
	// MaxPageSize caps per_page; WooCommerce rejects values above 100
	MaxPageSize int
}

const (
	defaultWooAPIVersion = "wc/v3"
	defaultWooTimeout    = 30 * time.Second
	wooMaxPageSize       = 100
)

// Errors for WooCommerce configuration
var (
	ErrWooConfigMissingBaseURL = errors.New("woocommerce: base url is required")
	ErrWooConfigInvalidBaseURL = errors.New("woocommerce: base url must be an absolute http(s) url")
	ErrWooConfigMissingKey     = errors.New("woocommerce: consumer key is required")
	ErrWooConfigMissingSecret  = errors.New("woocommerce: consumer secret is required")
)

// Validate checks the configuration and fills defaults
func (c *WooCommerceConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrWooConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrWooConfigInvalidBaseURL
	}
	if c.ConsumerKey == "" {
		return ErrWooConfigMissingKey
	}
	if c.ConsumerSecret == "" {
		return ErrWooConfigMissingSecret
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = defaultWooAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultWooTimeout
	}
	if c.MaxPageSize <= 0 || c.MaxPageSize > wooMaxPageSize {
		c.MaxPageSize = wooMaxPageSize
	}
	return nil
}

// APIRoot returns the REST root, e.g. https://shop.example.com/wp-json/wc/v3
func (c *WooCommerceConfig) APIRoot() string {
	return c.BaseURL + "/wp-json/" + c.APIVersion
}
