// Package auth verifies bearer credentials and produces the per-request
// caller identity the rest of the pipeline trusts. Verification covers
// signature (one configured algorithm, never negotiated per request), issuer,
// audience, expiry, and revocation; every failure maps to a specific
// client-facing reason code. The raw credential is never logged.
package auth

import (
	"time"
)

// Role is the caller's platform role carried in the credential.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// ParseRole maps a raw role claim to a known Role. Unknown values are
// rejected rather than defaulted; an identity with an unrecognized role is a
// malformed credential, not a user.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAgent, RoleAdmin, RoleSystem:
		return Role(s), true
	default:
		return "", false
	}
}

// Identity is the verified caller. Produced once per request by the
// Verifier, immutable, and scoped to that request; it is never persisted.
type Identity struct {
	SubjectID   string
	Email       string
	Role        Role
	Permissions []string
	TokenID     string
	ExpiresAt   time.Time
}

// IsAdmin reports whether the caller may use the administrative surface.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// HasPermission reports whether the credential carries the named permission.
func (i *Identity) HasPermission(perm string) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
