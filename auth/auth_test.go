package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticRoles(t *testing.T) {
	roles := NewStaticRoles(map[string][]string{
		"ana":  {RoleReader, "admin"},
		"ben":  {"admin"},
		"cleo": nil,
	})

	assert.True(t, roles.HasRole("ana", RoleReader))
	assert.False(t, roles.HasRole("ben", RoleReader))
	assert.False(t, roles.HasRole("cleo", RoleReader))
	assert.False(t, roles.HasRole("nobody", RoleReader))
	assert.True(t, roles.HasRole("ben", "admin"))
}

func TestReaders(t *testing.T) {
	var rm RoleManager = Readers("ana", "ben")
	assert.True(t, rm.HasRole("ana", RoleReader))
	assert.True(t, rm.HasRole("ben", RoleReader))
	assert.False(t, rm.HasRole("ana", "admin"))
	assert.False(t, rm.HasRole("", RoleReader))
}
