package service

import (
	"context"
	"testing"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipRegistry(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.AddMember(as("bob"), "carol")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = h.svc.AddMember(as(testAdmin), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidIdentity)

	first, err := h.svc.AddMember(as(testAdmin), "carol")
	require.NoError(t, err)
	h.clock.Advance(testDay)
	again, err := h.svc.AddMember(as(testAdmin), "carol")
	require.NoError(t, err)
	assert.Equal(t, first.JoinedAt, again.JoinedAt)

	ok, err := h.svc.IsMember(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.svc.RemoveMember(as(testAdmin), "carol"))
	ok, err = h.svc.IsMember(context.Background(), "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	err = h.svc.RemoveMember(as(testAdmin), "carol")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRoleGrants(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "bob")

	err := h.svc.GrantRole(as(testAdmin), "bob", models.Role("root"))
	assert.ErrorIs(t, err, apperr.ErrInvalidRole)

	require.NoError(t, h.svc.GrantRole(as(testAdmin), "bob", models.RoleAdmin))
	_, err = h.svc.AddMember(as("bob"), "dave")
	require.NoError(t, err)

	require.NoError(t, h.svc.RevokeRole(as(testAdmin), "bob", models.RoleAdmin))
	_, err = h.svc.AddMember(as("bob"), "erin")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
