package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/mutual-fund/internal/identity"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testAdmin      = "admin"
	testIncubation = 90 * 24 * time.Hour
	testLock       = 30 * 24 * time.Hour
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentTransfer struct {
	to     string
	amount int64
}

// fakeSender moves value at most once per key, like a real rail
type fakeSender struct {
	mu     sync.Mutex
	refuse map[string]bool
	keys   map[string]bool
	sent   []sentTransfer
}

func (s *fakeSender) Send(_ context.Context, key, to string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse[to] {
		return fmt.Errorf("recipient %s refused", to)
	}
	if s.keys[key] {
		return nil
	}
	s.keys[key] = true
	s.sent = append(s.sent, sentTransfer{to: to, amount: amount})
	return nil
}

func (s *fakeSender) Refuse(to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse[to] = true
}

func (s *fakeSender) Accept(to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refuse, to)
}

func (s *fakeSender) Sent() []sentTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTransfer(nil), s.sent...)
}

// fakeRandom issues "req-N" ids; failAt fails the given call numbers
type fakeRandom struct {
	mu     sync.Mutex
	n      int
	calls  int
	credit int64
	err    error
	failAt map[int]error
}

func (r *fakeRandom) RequestRandom(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	if err := r.failAt[r.calls]; err != nil {
		return "", err
	}
	r.n++
	return fmt.Sprintf("req-%d", r.n), nil
}

func (r *fakeRandom) TopUp(amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credit += amount
}

func (r *fakeRandom) Credit() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credit
}

// plainRandom has no prepaid credit
type plainRandom struct{}

func (plainRandom) RequestRandom(_ context.Context) (string, error) {
	return "req", nil
}

type fakeRates struct {
	rate int64
	err  error
}

func (r *fakeRates) DailyRate(_ context.Context) (int64, error) {
	return r.rate, r.err
}

type harness struct {
	svc    *Service
	store  *repository.Memory
	clock  *testClock
	sender *fakeSender
	random *fakeRandom
	rates  *fakeRates
}

func testPolicy() Policy {
	return Policy{
		MaxLoanAmount:         1_000_000,
		MaxLoanTerm:           365,
		MinVotingWindow:       24 * time.Hour,
		MinCommitteeSize:      3,
		DistributionBatchSize: 100,
		IncubationPeriod:      testIncubation,
		BallotQuorumPercent:   50,
		RandomnessTimeout:     10 * time.Minute,
		RandomnessMaxAttempts: 3,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		store:  repository.NewMemory(),
		clock:  &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		sender: &fakeSender{refuse: make(map[string]bool), keys: make(map[string]bool)},
		random: &fakeRandom{},
		rates:  &fakeRates{rate: 50},
	}
	ctx := context.Background()
	require.NoError(t, h.store.Init(ctx, models.Fund{DailyRate: 50, DepositLockTime: testLock, CommitteeSize: 12}))

	h.svc = NewService(h.store, log, testPolicy(), Dependencies{
		Randomness: h.random,
		Sender:     h.sender,
		Rates:      h.rates,
		Clock:      h.clock.Now,
	})
	require.NoError(t, h.svc.Bootstrap(ctx, []string{testAdmin}))
	return h
}

func as(id string) context.Context {
	return identity.WithCaller(context.Background(), id)
}

func (h *harness) addMembers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := h.svc.AddMember(as(testAdmin), id)
		require.NoError(t, err)
	}
}

func (h *harness) deposit(t *testing.T, id string, amount int64) {
	t.Helper()
	_, err := h.svc.Deposit(as(id), amount)
	require.NoError(t, err)
}

func (h *harness) fund(t *testing.T) models.Fund {
	t.Helper()
	f, err := h.svc.GetFund(context.Background())
	require.NoError(t, err)
	return f
}

func (h *harness) setFund(t *testing.T, mutate func(f *models.Fund)) {
	t.Helper()
	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		f, err := tx.GetFund(context.Background())
		if err != nil {
			return err
		}
		mutate(&f)
		return tx.SaveFund(context.Background(), f)
	})
	require.NoError(t, err)
}

func (h *harness) investors(t *testing.T) []string {
	t.Helper()
	var out []string
	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		n, err := tx.InvestorCount(context.Background())
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			m, err := tx.InvestorAt(context.Background(), i)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// approvedApplication creates and approves an application for borrower,
// who must already be a member
func (h *harness) approvedApplication(t *testing.T, borrower string, amount int64, term int) models.Application {
	t.Helper()
	app, err := h.svc.CreateApplication(as(borrower), amount, term)
	require.NoError(t, err)
	app, err = h.svc.ApproveApplication(as(testAdmin), app.ID, amount)
	require.NoError(t, err)
	return app
}

func ballotWithVotes(size, confirm, decline int) models.Ballot {
	return models.Ballot{CommitteeSize: size, ConfirmCount: confirm, DeclineCount: decline}
}
