package gateway

import (
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/authz"
)

// Identity headers set by the fronting auth layer. An absent X-User-ID
// means the request is anonymous; authorization decisions happen in the
// guard, not here.
const (
	headerUserID = "X-User-ID"
	headerRoles  = "X-User-Roles"
)

// identityFromRequest extracts the caller identity from trusted headers.
func identityFromRequest(r *http.Request) authz.Identity {
	id := authz.Identity{UserID: strings.TrimSpace(r.Header.Get(headerUserID))}
	if raw := r.Header.Get(headerRoles); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				id.Roles = append(id.Roles, role)
			}
		}
	}
	return id
}
