package devserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
	"github.com/aussiebroadwan/bullwark/pkg/bullwarktest"
	"github.com/aussiebroadwan/bullwark/pkg/cryptox"
)

// DefaultUser is seeded when DEVSERVER_USERS is empty. Its password is
// generated and reported in the contract.
const DefaultUser = "dev@bullwark.local"

var ErrInvalidUser = errors.New("user must be in format 'email:password'")

// grantNamespace keeps role and ability UUIDs stable across restarts so
// clients can check them by UUID.
var grantNamespace = uuid.MustParse("6f1d8c3e-2b4a-5e6f-9a0b-1c2d3e4f5a6b")

// seedSpecs turns the config into user specs.
func seedSpecs(cfg Config) ([]bullwarktest.UserSpec, error) {
	entries := splitList(cfg.Users)
	if len(entries) == 0 {
		password, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		entries = []string{DefaultUser + ":" + password}
	}

	roles := make([]bullwark.Role, 0)
	for _, key := range splitList(cfg.Roles) {
		roles = append(roles, bullwark.Role{UUID: grantUUID("role", key), Key: key, Label: key})
	}
	abilities := make([]bullwark.Ability, 0)
	for _, key := range splitList(cfg.Abilities) {
		abilities = append(abilities, bullwark.Ability{UUID: grantUUID("ability", key), Key: key, Label: key})
	}

	specs := make([]bullwarktest.UserSpec, 0, len(entries))
	for _, entry := range entries {
		email, password, ok := strings.Cut(entry, ":")
		if !ok || email == "" || password == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUser, entry)
		}

		spec := bullwarktest.UserSpec{
			Email:     email,
			Password:  password,
			Roles:     roles,
			Abilities: abilities,
		}
		if cfg.TOTP {
			key, err := totp.Generate(totp.GenerateOpts{Issuer: "Bullwark", AccountName: email})
			if err != nil {
				return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
			}
			spec.TOTPSecret = key.Secret()
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func grantUUID(kind, key string) string {
	return uuid.NewSHA1(grantNamespace, []byte(kind+":"+key)).String()
}
