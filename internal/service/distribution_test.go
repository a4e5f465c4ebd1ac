package service

import (
	"fmt"
	"testing"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeInterestRequiresInterestAndInvestors(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.DistributeInterest(as(testAdmin))
	assert.ErrorIs(t, err, apperr.ErrNothingToDistribute)

	h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 100 })
	_, err = h.svc.DistributeInterest(as(testAdmin))
	assert.ErrorIs(t, err, apperr.ErrNoInvestors)

	h.addMembers(t, "alice")
	h.deposit(t, "alice", 10)
	_, err = h.svc.DistributeInterest(as("alice"))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestDistributeInterestProportionalSingleBatch(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "a", "b")
	h.deposit(t, "a", 1000)
	h.deposit(t, "b", 3000)
	h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 101 })

	res, err := h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, int64(100), res.Paid)
	assert.Equal(t, int64(1), res.Dust)
	assert.Equal(t, 0, res.StartIndex)
	assert.Equal(t, []sentTransfer{{to: "a", amount: 25}, {to: "b", amount: 75}}, h.sender.Sent())

	f := h.fund(t)
	assert.Equal(t, int64(0), f.InterestsReceived)
	assert.Equal(t, int64(1), f.Provision)
	assert.Equal(t, models.Cursor{}, f.Cursor)
	assert.Equal(t, int64(4000), f.Vault)
}

func TestDistributeInterestInBatches(t *testing.T) {
	h := newHarness(t)
	const investors = 250
	for i := 0; i < investors; i++ {
		id := fmt.Sprintf("m%03d", i)
		h.addMembers(t, id)
		h.deposit(t, id, 100)
	}
	h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 12345 })

	res, err := h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 100, res.Processed)
	assert.Equal(t, 100, res.StartIndex)
	cur := h.fund(t).Cursor
	assert.True(t, cur.Active)
	assert.Equal(t, int64(12345), cur.Pool)
	assert.Equal(t, int64(25000), cur.Basis)

	// Deposits during a pass only count for the next one
	h.addMembers(t, "late")
	h.deposit(t, "late", 100000)

	res, err = h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 200, res.StartIndex)

	res, err = h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 50, res.Processed)
	assert.Equal(t, 0, res.StartIndex)

	paid := map[string]int64{}
	var total int64
	for _, s := range h.sender.Sent() {
		paid[s.to] += s.amount
		total += s.amount
	}
	assert.Len(t, paid, investors)
	assert.NotContains(t, paid, "late")
	for to, amount := range paid {
		assert.Equal(t, int64(49), amount, to)
	}
	assert.Equal(t, int64(12250), total)

	f := h.fund(t)
	assert.Equal(t, int64(0), f.InterestsReceived)
	assert.Equal(t, int64(95), f.Provision)
	assert.False(t, f.Cursor.Active)

	_, err = h.svc.DistributeInterest(as(testAdmin))
	assert.ErrorIs(t, err, apperr.ErrNothingToDistribute)
}

func TestDistributeInterestKeepsInterestReceivedDuringPass(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("m%03d", i)
		h.addMembers(t, id)
		h.deposit(t, id, 10)
	}
	h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 1500 })

	_, err := h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	h.setFund(t, func(f *models.Fund) { f.InterestsReceived += 70 })

	res, err := h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	require.True(t, res.Complete)
	assert.Equal(t, int64(70), h.fund(t).InterestsReceived)
}

func TestDistributeInterestTransferFailureAbortsBatch(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		h.deposit(t, id, 100)
	}
	h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 300 })
	h.sender.Refuse("b")

	_, err := h.svc.DistributeInterest(as(testAdmin))
	assert.ErrorIs(t, err, apperr.ErrTransferFailed)

	f := h.fund(t)
	assert.Equal(t, int64(300), f.InterestsReceived)
	assert.False(t, f.Cursor.Active)
	assert.Empty(t, h.store.Payouts())
	// "a" was reached before the refusal
	assert.Equal(t, []sentTransfer{{to: "a", amount: 100}}, h.sender.Sent())

	h.sender.Accept("b")
	res, err := h.svc.DistributeInterest(as(testAdmin))
	require.NoError(t, err)
	require.True(t, res.Complete)

	paid := map[string]int64{}
	var total int64
	for _, s := range h.sender.Sent() {
		paid[s.to] += s.amount
		total += s.amount
	}
	assert.Equal(t, map[string]int64{"a": 100, "b": 100, "c": 100}, paid)
	assert.Equal(t, int64(300), total)

	payouts := h.store.Payouts()
	require.Len(t, payouts, 3)
	keys := map[string]bool{}
	for _, p := range payouts {
		keys[p.Key] = true
	}
	assert.Len(t, keys, 3)
	f = h.fund(t)
	assert.Equal(t, int64(0), f.InterestsReceived)
	assert.Equal(t, int64(0), f.Provision)
}

func TestDistributionPassesUseDistinctKeys(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "a")
	h.deposit(t, "a", 100)

	for i := 0; i < 2; i++ {
		h.setFund(t, func(f *models.Fund) { f.InterestsReceived = 50 })
		res, err := h.svc.DistributeInterest(as(testAdmin))
		require.NoError(t, err)
		require.True(t, res.Complete)
	}
	assert.Equal(t, []sentTransfer{{to: "a", amount: 50}, {to: "a", amount: 50}}, h.sender.Sent())
}

func TestPolicyCapsDistributionBatch(t *testing.T) {
	p := PolicyFromConfig(config.Fund{DistributionBatchSize: 500})
	assert.Equal(t, config.MaxDistributionBatchSize, p.DistributionBatchSize)

	p = PolicyFromConfig(config.Fund{DistributionBatchSize: 25})
	assert.Equal(t, 25, p.DistributionBatchSize)
}
