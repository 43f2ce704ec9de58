package bullwark

import (
	"log/slog"
	"slices"
)

// Authorization checks read the cached profile and, optionally, a profile
// supplied by the caller. They never fail: with nothing to check against
// they log a warning and deny.

// UserCan reports whether the signed in user has the ability with uuid.
func (c *Client) UserCan(uuid string) bool { return c.UserCanWith(uuid, nil) }

// UserCanWith is UserCan that also consults supplied.
func (c *Client) UserCanWith(uuid string, supplied *User) bool {
	cached, _ := c.state.User()
	return checkAbility(c.logger, cached, supplied, func(a Ability) bool { return a.UUID == uuid })
}

// UserCanKey reports whether the signed in user has the ability with key.
func (c *Client) UserCanKey(key string) bool { return c.UserCanKeyWith(key, nil) }

func (c *Client) UserCanKeyWith(key string, supplied *User) bool {
	cached, _ := c.state.User()
	return checkAbility(c.logger, cached, supplied, func(a Ability) bool { return a.Key == key })
}

// UserHasRole reports whether the signed in user has the role with uuid.
func (c *Client) UserHasRole(uuid string) bool { return c.UserHasRoleWith(uuid, nil) }

func (c *Client) UserHasRoleWith(uuid string, supplied *User) bool {
	cached, _ := c.state.User()
	return checkRole(c.logger, cached, supplied, func(r Role) bool { return r.UUID == uuid })
}

// UserHasRoleKey reports whether the signed in user has the role with key.
func (c *Client) UserHasRoleKey(key string) bool { return c.UserHasRoleKeyWith(key, nil) }

func (c *Client) UserHasRoleKeyWith(key string, supplied *User) bool {
	cached, _ := c.state.User()
	return checkRole(c.logger, cached, supplied, func(r Role) bool { return r.Key == key })
}

// IsAdmin reports the admin flag of the cached profile.
func (c *Client) IsAdmin() bool {
	u, ok := c.state.User()
	return ok && u.IsAdmin
}

func abilitiesOf(u *User) []Ability {
	if u == nil {
		return nil
	}
	return u.Abilities
}

func rolesOf(u *User) []Role {
	if u == nil {
		return nil
	}
	return u.Roles
}

func isWildcard(a Ability) bool { return a.Key == WildcardAbility }

func checkAbility(logger *slog.Logger, cached, supplied *User, match func(Ability) bool) bool {
	have, extra := abilitiesOf(cached), abilitiesOf(supplied)
	if len(have) == 0 && len(extra) == 0 {
		logger.Warn("could not check user abilities, no user in cache or supplied")
		return false
	}
	if slices.ContainsFunc(extra, isWildcard) || slices.ContainsFunc(have, isWildcard) {
		return true
	}
	return slices.ContainsFunc(have, match) || slices.ContainsFunc(extra, match)
}

func checkRole(logger *slog.Logger, cached, supplied *User, match func(Role) bool) bool {
	have, extra := rolesOf(cached), rolesOf(supplied)
	if len(have) == 0 && len(extra) == 0 {
		logger.Warn("could not check user roles, no user in cache or supplied")
		return false
	}
	return slices.ContainsFunc(have, match) || slices.ContainsFunc(extra, match)
}
