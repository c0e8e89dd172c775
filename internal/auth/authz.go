package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("permission denied")
)

// Role is carried in the token's roles claim.
type Role string

const (
	RoleAdmin    Role = "admin"    // any organization, all permissions
	RoleOperator Role = "operator" // own organization, may write overrides
	RoleViewer   Role = "viewer"   // own organization, read only
)

// Permission represents an authorized action
type Permission string

const (
	PermCatalogRead      Permission = "catalog:read"
	PermEntitlementsRead Permission = "entitlements:read"
	PermOverridesWrite   Permission = "overrides:write"
	PermAuditRead        Permission = "audit:read"
)

// RolePermissions maps roles to allowed permissions
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermCatalogRead,
		PermEntitlementsRead,
		PermOverridesWrite,
		PermAuditRead,
	},
	RoleOperator: {
		PermCatalogRead,
		PermEntitlementsRead,
		PermOverridesWrite,
		PermAuditRead,
	},
	RoleViewer: {
		PermCatalogRead,
		PermEntitlementsRead,
	},
}

// HasPermission reports whether any of the roles grants perm.
func HasPermission(roles []Role, perm Permission) bool {
	return slices.ContainsFunc(roles, func(r Role) bool {
		return slices.Contains(RolePermissions[r], perm)
	})
}

// RequirePermission checks that the actor in ctx holds perm. Use it for actions that are not
// scoped to an organization, such as reading the catalog.
func RequirePermission(ctx context.Context, perm Permission) (*Actor, error) {
	actor := ActorFromContext(ctx)
	if actor == nil {
		return nil, ErrUnauthenticated
	}

	if !HasPermission(actor.Roles, perm) {
		return nil, fmt.Errorf("%w: %v requires %s", ErrPermissionDenied, actor.Roles, perm)
	}

	return actor, nil
}

// RequireOrgPermission checks that the actor in ctx holds perm for orgID.
// Admins may act on any organization; everyone else only on their own.
func RequireOrgPermission(ctx context.Context, perm Permission, orgID uuid.UUID) error {
	actor, err := RequirePermission(ctx, perm)
	if err != nil {
		return err
	}

	if orgID == uuid.Nil {
		return fmt.Errorf("%w: no organization given", ErrPermissionDenied)
	}

	if slices.Contains(actor.Roles, RoleAdmin) {
		return nil
	}

	if actor.OrgID == uuid.Nil || actor.OrgID != orgID {
		return fmt.Errorf("%w: actor belongs to a different organization", ErrPermissionDenied)
	}

	return nil
}
