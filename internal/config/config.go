package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Default endpoints of the hosted Tab service.
const (
	DefaultAPIBaseURL   = "https://tapi.laterpay.net"
	DefaultAuthorizeURL = "https://auth.laterpay.net/oauth2/auth"
	DefaultTokenURL     = "https://auth.laterpay.net/oauth2/token"
	DefaultRedirectURL  = "http://127.0.0.1:8765/oauth2/callback"
)

// Config holds all configuration for the Tab client.
type Config struct {
	APIBaseURL   string
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	RedirectURL  string
	SiteID       string // client config id; defaults to ClientID

	Currency     tab.Currency
	PaymentModel tab.PaymentModel

	Mock        bool
	MockLatency time.Duration

	TokenRefreshLeeway time.Duration
	HTTPTimeout        time.Duration
	DNSCacheTTL        time.Duration

	StripePaymentMethod string
	StripeAPIURL        string // optional backend override

	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty disables the metrics listener
}

// Override adjusts a loaded configuration before it is validated, e.g. to
// apply CLI flags.
type Override func(*Config)

// LoadConfig loads client configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig(overrides ...Override) (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	mock, err := envOrDefaultBool("SUPERTAB_MOCK", false)
	if err != nil {
		return nil, err
	}
	mockLatency, err := envOrDefaultDuration("SUPERTAB_MOCK_LATENCY", time.Second)
	if err != nil {
		return nil, err
	}
	leeway, err := envOrDefaultDuration("SUPERTAB_TOKEN_REFRESH_LEEWAY", 60*time.Second)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := envOrDefaultDuration("SUPERTAB_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	dnsTTL, err := envOrDefaultDuration("SUPERTAB_DNS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL:          strings.TrimRight(envOrDefault("SUPERTAB_API_BASE_URL", DefaultAPIBaseURL), "/"),
		AuthorizeURL:        envOrDefault("SUPERTAB_AUTHORIZE_URL", DefaultAuthorizeURL),
		TokenURL:            envOrDefault("SUPERTAB_TOKEN_URL", DefaultTokenURL),
		ClientID:            strings.TrimSpace(os.Getenv("SUPERTAB_CLIENT_ID")),
		RedirectURL:         envOrDefault("SUPERTAB_REDIRECT_URL", DefaultRedirectURL),
		SiteID:              strings.TrimSpace(os.Getenv("SUPERTAB_SITE_ID")),
		Currency:            tab.Currency(envOrDefault("SUPERTAB_CURRENCY", string(tab.DefaultCurrency))).Normalize(),
		PaymentModel:        tab.PaymentModel(envOrDefault("SUPERTAB_PAYMENT_MODEL", string(tab.PaymentModelPayLater))),
		Mock:                mock,
		MockLatency:         mockLatency,
		TokenRefreshLeeway:  leeway,
		HTTPTimeout:         httpTimeout,
		DNSCacheTTL:         dnsTTL,
		StripePaymentMethod: envOrDefault("STRIPE_PAYMENT_METHOD", "pm_card_visa"),
		StripeAPIURL:        strings.TrimSpace(os.Getenv("STRIPE_API_URL")),
		LogLevel:            envOrDefault("SUPERTAB_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("SUPERTAB_LOG_FORMAT", "auto"),
		MetricsAddr:         strings.TrimSpace(os.Getenv("SUPERTAB_METRICS_ADDR")),
	}
	for _, o := range overrides {
		o(cfg)
	}
	if cfg.SiteID == "" {
		cfg.SiteID = cfg.ClientID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate client config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var missing []string
	if !c.Mock {
		if c.ClientID == "" {
			missing = append(missing, "SUPERTAB_CLIENT_ID")
		}
		if c.SiteID == "" {
			missing = append(missing, "SUPERTAB_SITE_ID")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	urls := []struct {
		key, value string
	}{
		{"SUPERTAB_API_BASE_URL", c.APIBaseURL},
		{"SUPERTAB_AUTHORIZE_URL", c.AuthorizeURL},
		{"SUPERTAB_TOKEN_URL", c.TokenURL},
		{"SUPERTAB_REDIRECT_URL", c.RedirectURL},
	}
	if c.StripeAPIURL != "" {
		urls = append(urls, struct{ key, value string }{"STRIPE_API_URL", c.StripeAPIURL})
	}
	for _, u := range urls {
		if err := validateHTTPURL(u.key, u.value); err != nil {
			return err
		}
	}

	switch c.PaymentModel {
	case tab.PaymentModelPayNow, tab.PaymentModelPayLater, tab.PaymentModelPayMerchantLater, tab.PaymentModelPayNowRecurring:
	default:
		return fmt.Errorf("SUPERTAB_PAYMENT_MODEL must be one of pay_now, pay_later, pay_merchant_later, pay_now_recurring, got %q", c.PaymentModel)
	}

	if c.MockLatency < 0 {
		return fmt.Errorf("SUPERTAB_MOCK_LATENCY must not be negative, got %s", c.MockLatency)
	}
	if c.TokenRefreshLeeway < 0 {
		return fmt.Errorf("SUPERTAB_TOKEN_REFRESH_LEEWAY must not be negative, got %s", c.TokenRefreshLeeway)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("SUPERTAB_HTTP_TIMEOUT must be greater than 0, got %s", c.HTTPTimeout)
	}
	if c.DNSCacheTTL <= 0 {
		return fmt.Errorf("SUPERTAB_DNS_CACHE_TTL must be greater than 0, got %s", c.DNSCacheTTL)
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
