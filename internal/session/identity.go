// Package session resolves who is signed in: Google ID-token and password
// sign-in, signed session tokens, and the per-connection Provider that
// notifies listeners when the identity changes.
package session

import "strings"

// RoleAdmin grants access to doctor administration and appointment review.
const RoleAdmin = "admin"

// Identity is the signed-in user.
type Identity struct {
	UID         string   `json:"uid"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	PhotoURL    string   `json:"photoURL,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	// EmailVerified is set only by sign-in sources that prove ownership of
	// Email. It is not carried in session tokens.
	EmailVerified bool `json:"-"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// FirstName returns the first word of the display name, or "" when unknown.
func (i *Identity) FirstName() string {
	if i == nil {
		return ""
	}
	fields := strings.Fields(i.DisplayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
