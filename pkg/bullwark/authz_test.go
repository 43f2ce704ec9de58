package bullwark

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

func clientWithUser(t *testing.T, u *User) (*Client, *logBuffer) {
	t.Helper()

	logger, logs := captureLogger()
	state := NewSessionState(storage.NewMemory(), false, logger)
	if u != nil {
		state.ApplyUserProfile(u)
	}
	return &Client{state: state, logger: logger}, logs
}

var approver = &User{
	UUID:      "u1",
	Roles:     []Role{{UUID: "r-fin", Key: "finance"}},
	Abilities: []Ability{{UUID: "a-approve", Key: "invoices.approve"}},
}

func TestAuthz_CachedProfile(t *testing.T) {
	c, _ := clientWithUser(t, approver)

	require.True(t, c.UserCan("a-approve"))
	require.True(t, c.UserCanKey("invoices.approve"))
	require.False(t, c.UserCan("a-delete"))
	require.False(t, c.UserCanKey("invoices.delete"))

	require.True(t, c.UserHasRole("r-fin"))
	require.True(t, c.UserHasRoleKey("finance"))
	require.False(t, c.UserHasRoleKey("admin"))
	require.False(t, c.IsAdmin())
}

func TestAuthz_NoProfileWarnsAndDenies(t *testing.T) {
	c, logs := clientWithUser(t, nil)

	require.False(t, c.UserCanKey("invoices.approve"))
	require.False(t, c.UserHasRoleKey("finance"))
	require.False(t, c.IsAdmin())
	require.Contains(t, logs.String(), "could not check user abilities")
	require.Contains(t, logs.String(), "could not check user roles")
}

func TestAuthz_SuppliedProfile(t *testing.T) {
	c, logs := clientWithUser(t, nil)

	supplied := &User{
		Roles:     []Role{{UUID: "r-ops", Key: "ops"}},
		Abilities: []Ability{{UUID: "a-deploy", Key: "deploy"}},
	}
	require.True(t, c.UserCanKeyWith("deploy", supplied))
	require.True(t, c.UserCanWith("a-deploy", supplied))
	require.True(t, c.UserHasRoleKeyWith("ops", supplied))
	require.True(t, c.UserHasRoleWith("r-ops", supplied))
	require.False(t, c.UserCanKeyWith("invoices.approve", supplied))
	require.Empty(t, logs.String())

	// The cached profile and the supplied one are both consulted.
	c2, _ := clientWithUser(t, approver)
	require.True(t, c2.UserCanKeyWith("deploy", supplied))
	require.True(t, c2.UserCanKeyWith("invoices.approve", supplied))
}

func TestAuthz_Wildcard(t *testing.T) {
	c, _ := clientWithUser(t, &User{UUID: "root", Abilities: []Ability{{Key: WildcardAbility}}})
	require.True(t, c.UserCanKey("anything.at.all"))
	require.True(t, c.UserCan("any-uuid"))

	// Wildcards grant abilities, never roles.
	require.False(t, c.UserHasRoleKey("finance"))

	plain, _ := clientWithUser(t, approver)
	require.True(t, plain.UserCanKeyWith("anything", &User{Abilities: []Ability{{Key: WildcardAbility}}}))
}

func TestAuthz_Admin(t *testing.T) {
	c, _ := clientWithUser(t, &User{UUID: "u", IsAdmin: true})
	require.True(t, c.IsAdmin())
}
