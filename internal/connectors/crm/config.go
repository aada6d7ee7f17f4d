package crm

import (
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the CRM REST API root.
	DefaultBaseURL = "https://api.infusionsoft.com/crm/rest/v1"

	// DefaultTokenURL is the OAuth2 token endpoint for the client credentials grant.
	DefaultTokenURL = "https://api.infusionsoft.com/token"

	// DefaultAPIVersion is sent in the X-Keap-API-Version header.
	DefaultAPIVersion = "1.0"

	// DefaultPageSize is the page size for offset pagination.
	DefaultPageSize = 200

	// DefaultSincePageSize is the page size for since-filtered fetches.
	DefaultSincePageSize = 1000

	// DefaultRequestsPerSecond is the proactive throttle rate.
	DefaultRequestsPerSecond = 2.0

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

// Config holds connection settings for the CRM API.
type Config struct {
	// BaseURL is the REST API root, without a trailing slash.
	BaseURL string

	// APIKey is a service account key sent as a static bearer token.
	// When set it takes precedence over the client credentials grant.
	APIKey string

	// ClientID and ClientSecret enable the OAuth2 client credentials grant.
	ClientID     string
	ClientSecret string

	// TokenURL is the token endpoint for the client credentials grant.
	TokenURL string

	// Scopes requested with the client credentials grant.
	Scopes []string

	// APIVersion is sent in the X-Keap-API-Version header.
	APIVersion string

	// PageSize is the default page size for FetchAll.
	PageSize int

	// SincePageSize is the page size used by FetchSince.
	SincePageSize int

	// RequestsPerSecond throttles outgoing requests. Zero or negative disables throttling.
	RequestsPerSecond float64

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a Config with production defaults and no credentials.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		TokenURL:          DefaultTokenURL,
		Scopes:            []string{"full"},
		APIVersion:        DefaultAPIVersion,
		PageSize:          DefaultPageSize,
		SincePageSize:     DefaultSincePageSize,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Timeout:           DefaultTimeout,
	}
}

// HasCredentials reports whether any authentication method is configured.
func (c Config) HasCredentials() bool {
	return c.APIKey != "" || (c.ClientID != "" && c.ClientSecret != "")
}

// withDefaults fills zero-valued sizing fields. Throttling is left as given.
func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SincePageSize <= 0 {
		c.SincePageSize = DefaultSincePageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
