package bullwark

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

// ProfileMode selects where the user profile comes from. A deployment uses
// exactly one.
type ProfileMode string

const (
	// ProfileFromEndpoint fetches the profile from GET /me.
	ProfileFromEndpoint ProfileMode = "endpoint"
	// ProfileFromClaims reads the profile embedded in the verified token.
	ProfileFromClaims ProfileMode = "claims"
)

// Config configures a Client. Start from DefaultConfig.
type Config struct {
	APIBaseURL         string // Required: e.g. https://auth.example.com
	JWKSURL            string // Optional: defaults to {APIBaseURL}/.well-known/jwks
	TenantIdentifier   string // Required: tenant UUID, sent as X-Tenant-Uuid
	CustomerIdentifier string // Optional: customer UUID, sent as X-Customer-Uuid

	// DevelopmentMode allows running without a signature primitive. Every
	// unverified token is logged loudly.
	DevelopmentMode bool

	// UseCookieForRefresh keeps the refresh token in an HTTP-only cookie
	// instead of client storage.
	UseCookieForRefresh bool

	AutoRefresh          bool          // Refresh in the background before expiry (default: true)
	AutoRefreshBuffer    time.Duration // How long before expiry to refresh (default: 2m)
	RefreshCheckInterval time.Duration // How often the scheduler checks expiry (default: 30s)
	KeySetCacheTTL       time.Duration // Lifetime of a cached verification key (default: 24h)
	ProfileCacheTTL      time.Duration // Age after which the profile is stale (default: 1h)

	Issuer   string   // Expected iss (default: paulauth)
	Audience []string // Accepted aud values (default: fe)

	ProfileMode ProfileMode // endpoint or claims (default: endpoint)

	HTTPTimeout       time.Duration // Per request timeout (default: 10s)
	RequestsPerSecond float64       // Outbound rate limit, 0 disables (default: 0)
}

// DefaultConfig returns a config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		UseCookieForRefresh:  true,
		AutoRefresh:          true,
		AutoRefreshBuffer:    2 * time.Minute,
		RefreshCheckInterval: 30 * time.Second,
		KeySetCacheTTL:       24 * time.Hour,
		ProfileCacheTTL:      time.Hour,
		Issuer:               jwtx.DefaultIssuer,
		Audience:             []string{jwtx.DefaultAudience},
		ProfileMode:          ProfileFromEndpoint,
		HTTPTimeout:          10 * time.Second,
	}
}

// Validate checks required fields and fills zero durations with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.APIBaseURL == "" {
		return newError(KindInvalidConfiguration, "APIBaseURL is required", nil)
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return newError(KindInvalidConfiguration, fmt.Sprintf("APIBaseURL %q is not an absolute URL", c.APIBaseURL), err)
	}
	c.APIBaseURL = strings.TrimSuffix(c.APIBaseURL, "/")

	if c.JWKSURL == "" {
		c.JWKSURL = c.APIBaseURL + "/.well-known/jwks"
	}

	if c.TenantIdentifier == "" {
		return newError(KindInvalidConfiguration, "TenantIdentifier is required", nil)
	}
	if _, err := uuid.Parse(c.TenantIdentifier); err != nil {
		return newError(KindInvalidConfiguration, "TenantIdentifier is not a UUID", err)
	}
	if c.CustomerIdentifier != "" {
		if _, err := uuid.Parse(c.CustomerIdentifier); err != nil {
			return newError(KindInvalidConfiguration, "CustomerIdentifier is not a UUID", err)
		}
	}

	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if len(c.Audience) == 0 {
		c.Audience = def.Audience
	}

	switch c.ProfileMode {
	case "":
		c.ProfileMode = ProfileFromEndpoint
	case ProfileFromEndpoint, ProfileFromClaims:
	default:
		return newError(KindInvalidConfiguration, fmt.Sprintf("unknown ProfileMode %q", c.ProfileMode), nil)
	}

	if c.AutoRefreshBuffer <= 0 {
		c.AutoRefreshBuffer = def.AutoRefreshBuffer
	}
	if c.RefreshCheckInterval <= 0 {
		c.RefreshCheckInterval = def.RefreshCheckInterval
	}
	if c.KeySetCacheTTL <= 0 {
		c.KeySetCacheTTL = def.KeySetCacheTTL
	}
	if c.ProfileCacheTTL <= 0 {
		c.ProfileCacheTTL = def.ProfileCacheTTL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.RequestsPerSecond < 0 {
		return newError(KindInvalidConfiguration, "RequestsPerSecond must not be negative", nil)
	}
	return nil
}
