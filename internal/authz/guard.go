// Package authz centralizes read-path authorization decisions so transport
// handlers never compare identities themselves.
package authz

import (
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/logging"
)

// Identity is the caller identity supplied by the external authentication
// layer. A zero UserID means the request is unauthenticated.
type Identity struct {
	UserID string
	Roles  []string
}

// Present reports whether an identity was supplied at all.
func (i Identity) Present() bool { return i.UserID != "" }

// elevatedRoles grants cross-owner read access.
var elevatedRoles = map[string]bool{
	"admin":     true,
	"moderator": true,
}

// Guard decides whether a caller may read a resource owned by another user.
type Guard struct {
	log *logging.Logger
}

// NewGuard creates an authorization guard.
func NewGuard(log *logging.Logger) *Guard {
	return &Guard{log: log.Sub("authz")}
}

// Authorize allows access when the caller owns the resource or holds an
// elevated role. Denials are logged at warning level and have no other
// side effect.
func (g *Guard) Authorize(caller Identity, resourceOwnerID string) error {
	if !caller.Present() {
		g.log.Warn().Str("owner", resourceOwnerID).Msg("unauthenticated access attempt")
		return domain.ErrUnauthenticated
	}
	if caller.UserID == resourceOwnerID {
		return nil
	}
	for _, role := range caller.Roles {
		if elevatedRoles[role] {
			return nil
		}
	}
	g.log.Warn().
		Str("caller", caller.UserID).
		Str("owner", resourceOwnerID).
		Strs("roles", caller.Roles).
		Msg("forbidden access attempt")
	return domain.ErrForbidden
}
