package iam

import "strings"

// Well-known role names used by the job board.
const (
	RoleAdmin = "ADMIN"
	RoleHR    = "HR"
	RoleUser  = "USER"
)

// RoleNames returns the names of the identity's roles. Nil-safe.
func (i *Identity) RoleNames() []string {
	if i == nil {
		return nil
	}
	names := make([]string, 0, len(i.Roles))
	for _, r := range i.Roles {
		names = append(names, r.Name)
	}
	return names
}

// HasAnyRole reports whether the identity holds at least one of the required roles.
// Comparison is case-insensitive. A nil identity or an empty requirement never matches.
func HasAnyRole(identity *Identity, required ...string) bool {
	return HasAnyRoleName(identity.RoleNames(), required...)
}

// HasAnyRoleName is HasAnyRole over plain role names (e.g. token claims).
func HasAnyRoleName(held []string, required ...string) bool {
	for _, h := range held {
		for _, r := range required {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(r)) {
				return true
			}
		}
	}
	return false
}
