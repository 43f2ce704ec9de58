package bullwark

import (
	"slices"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

// Role is a role assigned to a user.
type Role struct {
	UUID  string `json:"uuid"`
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// Ability is a single permission. The key "*" grants everything.
type Ability struct {
	UUID  string `json:"uuid"`
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// WildcardAbility is the ability key that passes every ability check.
const WildcardAbility = "*"

// User is the profile of the signed in user, as returned by /me or embedded
// in the token.
type User struct {
	UUID         string    `json:"uuid"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	TenantUUID   string    `json:"tenantUuid,omitempty"`
	CustomerUUID string    `json:"customerUuid,omitempty"`
	IsAdmin      bool      `json:"isAdmin,omitempty"`
	Roles        []Role    `json:"roles,omitempty"`
	PrimaryRole  *Role     `json:"primaryRole,omitempty"`
	Abilities    []Ability `json:"abilities,omitempty"`
}

// Clone returns a deep copy. A nil user clones to nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.Abilities = slices.Clone(u.Abilities)
	if u.PrimaryRole != nil {
		r := *u.PrimaryRole
		c.PrimaryRole = &r
	}
	return &c
}

// userFromClaims builds a profile from a token that embeds it.
func userFromClaims(c *jwtx.Claims) *User {
	u := &User{
		UUID:         c.UserUUID,
		Email:        c.Email,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		TenantUUID:   c.TenantUUID,
		CustomerUUID: c.CustomerUUID,
		IsAdmin:      c.IsAdmin || c.AdminUUID != "",
	}
	for _, g := range c.Roles {
		u.Roles = append(u.Roles, Role(g))
	}
	for _, g := range c.Abilities {
		u.Abilities = append(u.Abilities, Ability(g))
	}
	if len(u.Roles) > 0 {
		r := u.Roles[0]
		u.PrimaryRole = &r
	}
	return u
}

// LoginCredentials are the credentials for a password login. OTP is only
// needed when the account has TOTP enabled.
type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}

// TokenResponse is what login and refresh return. RefreshToken is only set
// outside cookie mode.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
