package service

import (
	"context"
	"testing"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateApplicationValidation(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "bob")

	tests := []struct {
		name   string
		caller string
		amount int64
		term   int
		want   error
	}{
		{"zero amount", "bob", 0, 10, apperr.ErrInvalidAmount},
		{"amount above maximum", "bob", 1_000_001, 10, apperr.ErrInvalidAmount},
		{"zero term", "bob", 100, 0, apperr.ErrInvalidTerm},
		{"term above maximum", "bob", 100, 366, apperr.ErrInvalidTerm},
		{"incubating member", "bob", 100, 10, apperr.ErrIncubationNotComplete},
		{"not a member", "eve", 100, 10, apperr.ErrIncubationNotComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateApplication(as(tt.caller), tt.amount, tt.term)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateApplicationAwaitsApproval(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "bob")
	h.clock.Advance(testIncubation)

	app, err := h.svc.CreateApplication(as("bob"), 500, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(1), app.ID)
	assert.Equal(t, models.ApplicationWaitingForApproval, app.State)
	assert.Equal(t, h.clock.Now(), app.CreatedAt)

	got, err := h.svc.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, app, got)

	_, err = h.svc.GetApplication(context.Background(), 2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplicationTransitions(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "bob")
	h.clock.Advance(testIncubation)
	app, err := h.svc.CreateApplication(as("bob"), 500, 12)
	require.NoError(t, err)

	_, err = h.svc.ApproveApplication(as("bob"), app.ID, 500)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = h.svc.ProvideMoreProof(as("bob"), app.ID)
	assert.ErrorIs(t, err, apperr.ErrWrongState)

	app, err = h.svc.RequestMoreProof(as(testAdmin), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationMoreDocumentsNeeded, app.State)

	_, err = h.svc.ApproveApplication(as(testAdmin), app.ID, 500)
	assert.ErrorIs(t, err, apperr.ErrNotInApprovableState)

	_, err = h.svc.RequestMoreProof(as(testAdmin), app.ID)
	assert.ErrorIs(t, err, apperr.ErrWrongState)

	_, err = h.svc.ProvideMoreProof(as(testAdmin), app.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	app, err = h.svc.ProvideMoreProof(as("bob"), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationWaitingForApproval, app.State)

	app, err = h.svc.ApproveApplication(as(testAdmin), app.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationApproved, app.State)
	assert.Equal(t, int64(400), app.ApprovedAmount)
	require.NotNil(t, app.ApprovedAt)

	_, err = h.svc.DeclineApplication(as(testAdmin), app.ID)
	assert.ErrorIs(t, err, apperr.ErrNotInApprovableState)
	_, err = h.svc.RequestMoreProof(as(testAdmin), app.ID)
	assert.ErrorIs(t, err, apperr.ErrWrongState)
}

func TestDeclineApplication(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "bob")
	h.clock.Advance(testIncubation)
	app, err := h.svc.CreateApplication(as("bob"), 500, 12)
	require.NoError(t, err)

	app, err = h.svc.DeclineApplication(as(testAdmin), app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationDeclined, app.State)

	_, err = h.svc.ApproveApplication(as(testAdmin), app.ID, 500)
	assert.ErrorIs(t, err, apperr.ErrNotInApprovableState)
}
