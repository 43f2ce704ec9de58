package jwtx

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default constraints Bullwark puts on browser facing tokens.
const (
	DefaultIssuer   = "paulauth"
	DefaultAudience = "fe"
)

// Grant is a role or ability as embedded in a token.
type Grant struct {
	UUID  string `json:"uuid"`
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// Claims are the Bullwark access token claims. The profile members are only
// populated by deployments that embed the user in the token.
type Claims struct {
	jwt.RegisteredClaims

	UserUUID     string `json:"userUuid,omitempty"`
	AdminUUID    string `json:"adminUuid,omitempty"`
	TenantUUID   string `json:"tenantUuid,omitempty"`
	CustomerUUID string `json:"customerUuid,omitempty"`

	// DetailsHash changes whenever the user's profile, roles or abilities
	// change server side.
	DetailsHash string `json:"detailsHash,omitempty"`

	Email     string  `json:"email,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`
	IsAdmin   bool    `json:"isAdmin,omitempty"`
	Roles     []Grant `json:"roles,omitempty"`
	Abilities []Grant `json:"abilities,omitempty"`
}

// NewSessionClaims builds claims for a user session issued at now.
func NewSessionClaims(userUUID, tenantUUID, customerUUID, detailsHash string, ttl time.Duration, issuer string, audience []string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userUUID,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserUUID:     userUUID,
		TenantUUID:   tenantUUID,
		CustomerUUID: customerUUID,
		DetailsHash:  detailsHash,
	}
}

// ClaimsFromMap converts verified map claims into the typed view.
func ClaimsFromMap(m map[string]any) (*Claims, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var c Claims
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &c, nil
}

// ValidateIssuer checks the iss claim. An empty expectation passes.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks that at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// Expiry returns exp and whether it is set.
func (c *Claims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}
