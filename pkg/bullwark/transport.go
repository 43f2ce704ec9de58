package bullwark

import (
	"context"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

// Transport talks to the Bullwark API. Every method may fail with a
// KindConnectivity error; Login may also fail with KindInvalidCredentials.
type Transport interface {
	Login(ctx context.Context, creds LoginCredentials) (TokenResponse, error)

	// Refresh exchanges a refresh token for a new access token. An empty
	// refreshToken relies on the HTTP-only cookie.
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)

	// Logout ends the session. An empty token sends no bearer and relies on
	// the HTTP-only cookie.
	Logout(ctx context.Context, token string) error

	FetchUser(ctx context.Context, token string) (*User, error)
	FetchKeySet(ctx context.Context) (jwtx.JWKS, error)
}
