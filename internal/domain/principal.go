package domain

import "strings"

// Role is the authorization role carried by a verified caller.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
)

// ParseRole normalises a role claim. An empty claim is an instructor.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleInstructor:
		return RoleInstructor, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Principal is the verified caller of an operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the caller holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Authenticated fails with Forbidden when the principal carries no identity.
func (p Principal) Authenticated() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewError(KindForbidden, "caller identity is required")
	}
	if p.Role != RoleAdmin && p.Role != RoleInstructor {
		return NewError(KindForbidden, "caller role is not permitted")
	}
	return nil
}

// RequireAdmin fails with Forbidden unless the principal is an authenticated admin.
func (p Principal) RequireAdmin() error {
	if err := p.Authenticated(); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return NewError(KindForbidden, "administrator role required")
	}
	return nil
}

// CanAccess reports whether the principal may read resources owned by holderID.
func (p Principal) CanAccess(holderID string) bool {
	return p.IsAdmin() || p.ID == holderID
}
