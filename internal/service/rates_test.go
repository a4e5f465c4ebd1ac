package service

import (
	"errors"
	"testing"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncInterestRateAppliesToNewLoans(t *testing.T) {
	h := lendingFund(t)
	h.rates.rate = 137

	_, err := h.svc.SyncInterestRate(as("a"))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, int64(50), h.fund(t).DailyRate)

	rate, err := h.svc.SyncInterestRate(as(testAdmin))
	require.NoError(t, err)
	assert.Equal(t, int64(137), rate)
	assert.Equal(t, int64(137), h.fund(t).DailyRate)

	app := h.approvedApplication(t, "c", 1000, 10)
	loan, err := h.svc.GrantLoan(as(testAdmin), app.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(137), loan.DailyRate)
}

func TestSyncInterestRateSourceFailure(t *testing.T) {
	h := newHarness(t)
	h.rates.err = errors.New("upstream unavailable")

	_, err := h.svc.SyncInterestRate(as(testAdmin))
	assert.Error(t, err)
	assert.Equal(t, int64(50), h.fund(t).DailyRate)
}
