package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
		ok   bool
	}{
		{"user", RoleUser, true},
		{"agent", RoleAgent, true},
		{"admin", RoleAdmin, true},
		{"system", RoleSystem, true},
		{"root", "", false},
		{"Admin", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run("role "+tt.raw, func(t *testing.T) {
			got, ok := ParseRole(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentity_IsAdmin(t *testing.T) {
	assert.True(t, (&Identity{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&Identity{Role: RoleUser}).IsAdmin())
	assert.False(t, (*Identity)(nil).IsAdmin())
}

func TestIdentity_HasPermission(t *testing.T) {
	ident := &Identity{Permissions: []string{"bookings:read", "bookings:write"}}
	assert.True(t, ident.HasPermission("bookings:write"))
	assert.False(t, ident.HasPermission("disputes:resolve"))
	assert.False(t, (*Identity)(nil).HasPermission("anything"))
}
