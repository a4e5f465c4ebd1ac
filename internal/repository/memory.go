package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Dan9191/mutual-fund/internal/models"
)

// Memory is an in-memory Store used for tests and local development.
// Transactions work on a copy of the state which replaces the original only
// on success.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

var _ Store = (*Memory)(nil)

type voterKey struct {
	ballotID int64
	member   string
}

type memState struct {
	initialized  bool
	fund         models.Fund
	sequences    map[string]int64
	members      map[string]models.Member
	roles        map[string]map[models.Role]bool
	balances     map[string]models.MemberBalance
	investors    []string
	applications map[int64]models.Application
	ballots      map[int64]models.Ballot
	voters       map[voterKey]models.Voter
	loans        map[int64]models.Loan
	loanByApp    map[int64]int64
	randomness   map[string]models.RandomnessRequest
	snapshot     []models.SnapshotEntry
	payouts      []models.Payout
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{state: &memState{
		sequences:    make(map[string]int64),
		members:      make(map[string]models.Member),
		roles:        make(map[string]map[models.Role]bool),
		balances:     make(map[string]models.MemberBalance),
		applications: make(map[int64]models.Application),
		ballots:      make(map[int64]models.Ballot),
		voters:       make(map[voterKey]models.Voter),
		loans:        make(map[int64]models.Loan),
		loanByApp:    make(map[int64]int64),
		randomness:   make(map[string]models.RandomnessRequest),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		initialized:  s.initialized,
		fund:         s.fund,
		sequences:    make(map[string]int64, len(s.sequences)),
		members:      make(map[string]models.Member, len(s.members)),
		roles:        make(map[string]map[models.Role]bool, len(s.roles)),
		balances:     make(map[string]models.MemberBalance, len(s.balances)),
		investors:    append([]string(nil), s.investors...),
		applications: make(map[int64]models.Application, len(s.applications)),
		ballots:      make(map[int64]models.Ballot, len(s.ballots)),
		voters:       make(map[voterKey]models.Voter, len(s.voters)),
		loans:        make(map[int64]models.Loan, len(s.loans)),
		loanByApp:    make(map[int64]int64, len(s.loanByApp)),
		randomness:   make(map[string]models.RandomnessRequest, len(s.randomness)),
		snapshot:     append([]models.SnapshotEntry(nil), s.snapshot...),
		payouts:      append([]models.Payout(nil), s.payouts...),
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.roles {
		grants := make(map[models.Role]bool, len(v))
		for r, ok := range v {
			grants[r] = ok
		}
		c.roles[k] = grants
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.applications {
		c.applications[k] = v
	}
	for k, v := range s.ballots {
		c.ballots[k] = v
	}
	for k, v := range s.voters {
		c.voters[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.loanByApp {
		c.loanByApp[k] = v
	}
	for k, v := range s.randomness {
		c.randomness[k] = v
	}
	return c
}

// Init creates the fund record unless it already exists
func (m *Memory) Init(_ context.Context, defaults models.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.initialized {
		m.state.fund = defaults
		m.state.initialized = true
	}
	return nil
}

// InTx runs fn against a working copy of the state
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

// Payouts returns a copy of the payout journal
func (m *Memory) Payouts() []models.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Payout(nil), m.state.payouts...)
}

type memTx struct {
	st *memState
}

func (t *memTx) GetFund(_ context.Context) (models.Fund, error) {
	if !t.st.initialized {
		return models.Fund{}, fmt.Errorf("fund not initialized")
	}
	return t.st.fund, nil
}

func (t *memTx) SaveFund(_ context.Context, fund models.Fund) error {
	t.st.fund = fund
	t.st.initialized = true
	return nil
}

func (t *memTx) NextID(_ context.Context, sequence string) (int64, error) {
	t.st.sequences[sequence]++
	return t.st.sequences[sequence], nil
}

func (t *memTx) GetMember(_ context.Context, id string) (models.Member, bool, error) {
	m, ok := t.st.members[id]
	return m, ok, nil
}

func (t *memTx) SaveMember(_ context.Context, member models.Member) error {
	t.st.members[member.ID] = member
	return nil
}

func (t *memTx) DeleteMember(_ context.Context, id string) error {
	delete(t.st.members, id)
	return nil
}

func (t *memTx) HasRole(_ context.Context, id string, role models.Role) (bool, error) {
	return t.st.roles[id][role], nil
}

func (t *memTx) GrantRole(_ context.Context, id string, role models.Role) error {
	if t.st.roles[id] == nil {
		t.st.roles[id] = make(map[models.Role]bool)
	}
	t.st.roles[id][role] = true
	return nil
}

func (t *memTx) RevokeRole(_ context.Context, id string, role models.Role) error {
	delete(t.st.roles[id], role)
	return nil
}

func (t *memTx) GetBalance(_ context.Context, member string) (models.MemberBalance, bool, error) {
	b, ok := t.st.balances[member]
	return b, ok, nil
}

func (t *memTx) SaveBalance(_ context.Context, balance models.MemberBalance) error {
	t.st.balances[balance.Member] = balance
	return nil
}

func (t *memTx) InvestorCount(_ context.Context) (int, error) {
	return len(t.st.investors), nil
}

func (t *memTx) InvestorAt(_ context.Context, position int) (string, error) {
	if position < 0 || position >= len(t.st.investors) {
		return "", fmt.Errorf("investor position %d out of range", position)
	}
	return t.st.investors[position], nil
}

func (t *memTx) SetInvestor(_ context.Context, position int, member string) error {
	switch {
	case position == len(t.st.investors):
		t.st.investors = append(t.st.investors, member)
	case position >= 0 && position < len(t.st.investors):
		t.st.investors[position] = member
	default:
		return fmt.Errorf("investor position %d out of range", position)
	}
	return nil
}

func (t *memTx) TruncateInvestors(_ context.Context, size int) error {
	if size < 0 || size > len(t.st.investors) {
		return fmt.Errorf("invalid investor index size %d", size)
	}
	t.st.investors = t.st.investors[:size]
	return nil
}

func (t *memTx) GetApplication(_ context.Context, id int64) (models.Application, bool, error) {
	a, ok := t.st.applications[id]
	return a, ok, nil
}

func (t *memTx) SaveApplication(_ context.Context, app models.Application) error {
	t.st.applications[app.ID] = app
	return nil
}

func (t *memTx) GetBallot(_ context.Context, id int64) (models.Ballot, bool, error) {
	b, ok := t.st.ballots[id]
	return b, ok, nil
}

func (t *memTx) SaveBallot(_ context.Context, ballot models.Ballot) error {
	t.st.ballots[ballot.ID] = ballot
	return nil
}

func (t *memTx) GetVoter(_ context.Context, ballotID int64, member string) (models.Voter, bool, error) {
	v, ok := t.st.voters[voterKey{ballotID, member}]
	return v, ok, nil
}

func (t *memTx) SaveVoter(_ context.Context, voter models.Voter) error {
	t.st.voters[voterKey{voter.BallotID, voter.Member}] = voter
	return nil
}

func (t *memTx) ListVoters(_ context.Context, ballotID int64) ([]models.Voter, error) {
	var out []models.Voter
	for k, v := range t.st.voters {
		if k.ballotID == ballotID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out, nil
}

func (t *memTx) GetLoan(_ context.Context, id int64) (models.Loan, bool, error) {
	l, ok := t.st.loans[id]
	return l, ok, nil
}

func (t *memTx) SaveLoan(_ context.Context, loan models.Loan) error {
	t.st.loans[loan.ID] = loan
	t.st.loanByApp[loan.ApplicationID] = loan.ID
	return nil
}

func (t *memTx) LoanIDForApplication(_ context.Context, applicationID int64) (int64, bool, error) {
	id, ok := t.st.loanByApp[applicationID]
	return id, ok, nil
}

func (t *memTx) GetRandomnessRequest(_ context.Context, requestID string) (models.RandomnessRequest, bool, error) {
	r, ok := t.st.randomness[requestID]
	return r, ok, nil
}

func (t *memTx) SaveRandomnessRequest(_ context.Context, req models.RandomnessRequest) error {
	t.st.randomness[req.RequestID] = req
	return nil
}

func (t *memTx) ListRandomnessRequests(_ context.Context, status models.RandomnessStatus) ([]models.RandomnessRequest, error) {
	var out []models.RandomnessRequest
	for _, r := range t.st.randomness {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (t *memTx) SnapshotInvestors(_ context.Context) (int, int64, error) {
	t.st.snapshot = make([]models.SnapshotEntry, 0, len(t.st.investors))
	var basis int64
	for pos, member := range t.st.investors {
		bal := t.st.balances[member].Balance
		t.st.snapshot = append(t.st.snapshot, models.SnapshotEntry{Position: pos, Member: member, Balance: bal})
		basis += bal
	}
	return len(t.st.snapshot), basis, nil
}

func (t *memTx) SnapshotRange(_ context.Context, from, limit int) ([]models.SnapshotEntry, error) {
	if from >= len(t.st.snapshot) {
		return nil, nil
	}
	end := from + limit
	if end > len(t.st.snapshot) {
		end = len(t.st.snapshot)
	}
	return append([]models.SnapshotEntry(nil), t.st.snapshot[from:end]...), nil
}

func (t *memTx) ClearSnapshot(_ context.Context) error {
	t.st.snapshot = nil
	return nil
}

func (t *memTx) RecordPayout(_ context.Context, payout models.Payout) error {
	t.st.payouts = append(t.st.payouts, payout)
	return nil
}
