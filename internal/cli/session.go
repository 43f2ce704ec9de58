// Package cli wires the bullwark SDK to the environment for the command line
// tool: config, storage selection and the session a command runs against.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

// Session is an initialized client plus the storage it owns.
type Session struct {
	Client *bullwark.Client
	Logger *slog.Logger

	closeStore func() error
}

// Open builds a client on top of the configured storage and waits for it to
// restore any persisted session.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...bullwark.Option) (*Session, error) {
	store, closeStore, err := OpenStorage(slogx.WithContext(ctx, logger), cfg)
	if err != nil {
		return nil, err
	}

	opts = append([]bullwark.Option{
		bullwark.WithStorage(store),
		bullwark.WithLogger(logger),
	}, opts...)

	client, err := bullwark.New(ctx, cfg.ClientConfig(), opts...)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	if err := client.WaitInitialized(ctx); err != nil {
		_ = client.Close()
		_ = closeStore()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	return &Session{Client: client, Logger: logger, closeStore: closeStore}, nil
}

func (s *Session) Close() error {
	if err := s.Client.Close(); err != nil {
		s.Logger.Error("error closing client", "error", err)
	}
	return s.closeStore()
}

// Credentials builds login credentials. A TOTP secret, when given, takes
// precedence over an explicit code.
func Credentials(email, password, otp, totpSecret string, now time.Time) (bullwark.LoginCredentials, error) {
	creds := bullwark.LoginCredentials{Email: email, Password: password, OTP: otp}
	if totpSecret == "" {
		return creds, nil
	}

	code, err := totp.GenerateCode(totpSecret, now)
	if err != nil {
		return creds, fmt.Errorf("failed to generate one-time code: %w", err)
	}
	creds.OTP = code
	return creds, nil
}

// Status is the machine readable view of a session.
type Status struct {
	Authenticated bool           `json:"authenticated"`
	User          *bullwark.User `json:"user,omitempty"`
	TenantUUID    string         `json:"tenantUuid,omitempty"`
	CustomerUUID  string         `json:"customerUuid,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	ExpiresIn     string         `json:"expiresIn,omitempty"`
	AlmostExpired bool           `json:"almostExpired,omitempty"`
	ProfileStale  bool           `json:"profileStale,omitempty"`
	CachedAt      *time.Time     `json:"cachedAt,omitempty"`
}

func Describe(c *bullwark.Client) Status {
	st := Status{
		Authenticated: c.IsAuthenticated(),
		User:          c.User(),
		TenantUUID:    c.TenantUUID(),
		CustomerUUID:  c.CustomerUUID(),
	}
	if !st.Authenticated {
		return st
	}

	if exp, ok := c.TokenExpiry(); ok {
		st.ExpiresAt = &exp
		st.ExpiresIn = c.TokenExpiresIn().Round(time.Second).String()
		st.AlmostExpired = c.TokenAlmostExpired()
	}
	if at, ok := c.UserCachedAt(); ok {
		st.CachedAt = &at
		st.ProfileStale = c.ProfileStale()
	}
	return st
}
