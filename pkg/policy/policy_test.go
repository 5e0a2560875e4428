package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_OrgOwnerIsAlwaysAdmin(t *testing.T) {
	e := NewEngine()
	role, err := e.Resolve(context.Background(), Input{OrgRole: "owner"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestEngine_PublicRepoGrantsReadToAnonymous(t *testing.T) {
	e := NewEngine()
	role, err := e.Resolve(context.Background(), Input{IsPublic: true})
	require.NoError(t, err)
	assert.Equal(t, RoleRead, role)
}

func TestEngine_PrivateRepoGrantsNoneToAnonymous(t *testing.T) {
	e := NewEngine()
	role, err := e.Resolve(context.Background(), Input{IsPublic: false})
	require.NoError(t, err)
	assert.Equal(t, RoleNone, role)
}

func TestEngine_MemberRoleMapsToHierarchy(t *testing.T) {
	e := NewEngine()

	role, err := e.Resolve(context.Background(), Input{MemberRole: "editor"})
	require.NoError(t, err)
	assert.Equal(t, RoleWrite, role)

	role, err = e.Resolve(context.Background(), Input{MemberRole: "viewer"})
	require.NoError(t, err)
	assert.Equal(t, RoleRead, role)

	role, err = e.Resolve(context.Background(), Input{MemberRole: "admin"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestEngine_Allowed_WriteRoleSatisfiesReadRequirement(t *testing.T) {
	e := NewEngine()
	ok, err := e.Allowed(context.Background(), Input{MemberRole: "editor", Required: RoleRead})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_Allowed_ReadRoleDoesNotSatisfyWriteRequirement(t *testing.T) {
	e := NewEngine()
	ok, err := e.Allowed(context.Background(), Input{MemberRole: "viewer", Required: RoleWrite})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_Allowed_PrivateRepoDeniesAnonymousRead(t *testing.T) {
	e := NewEngine()
	ok, err := e.Allowed(context.Background(), Input{IsPublic: false, Required: RoleRead})
	require.NoError(t, err)
	assert.False(t, ok)
}
