package repository

import (
	"context"

	"github.com/Dan9191/mutual-fund/internal/models"
)

// Store runs serialized transactions against the fund ledger
type Store interface {
	// Init creates the fund record with defaults unless it already exists
	Init(ctx context.Context, defaults models.Fund) error
	// InTx runs fn in a transaction; any error rolls back every write made through tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of ledger reads and writes available inside a transaction
type Tx interface {
	GetFund(ctx context.Context) (models.Fund, error)
	SaveFund(ctx context.Context, fund models.Fund) error
	NextID(ctx context.Context, sequence string) (int64, error)

	GetMember(ctx context.Context, id string) (models.Member, bool, error)
	SaveMember(ctx context.Context, member models.Member) error
	DeleteMember(ctx context.Context, id string) error
	HasRole(ctx context.Context, id string, role models.Role) (bool, error)
	GrantRole(ctx context.Context, id string, role models.Role) error
	RevokeRole(ctx context.Context, id string, role models.Role) error

	GetBalance(ctx context.Context, member string) (models.MemberBalance, bool, error)
	SaveBalance(ctx context.Context, balance models.MemberBalance) error

	InvestorCount(ctx context.Context) (int, error)
	InvestorAt(ctx context.Context, position int) (string, error)
	SetInvestor(ctx context.Context, position int, member string) error
	TruncateInvestors(ctx context.Context, size int) error

	GetApplication(ctx context.Context, id int64) (models.Application, bool, error)
	SaveApplication(ctx context.Context, app models.Application) error

	GetBallot(ctx context.Context, id int64) (models.Ballot, bool, error)
	SaveBallot(ctx context.Context, ballot models.Ballot) error
	GetVoter(ctx context.Context, ballotID int64, member string) (models.Voter, bool, error)
	SaveVoter(ctx context.Context, voter models.Voter) error
	ListVoters(ctx context.Context, ballotID int64) ([]models.Voter, error)

	GetLoan(ctx context.Context, id int64) (models.Loan, bool, error)
	SaveLoan(ctx context.Context, loan models.Loan) error
	LoanIDForApplication(ctx context.Context, applicationID int64) (int64, bool, error)

	GetRandomnessRequest(ctx context.Context, requestID string) (models.RandomnessRequest, bool, error)
	SaveRandomnessRequest(ctx context.Context, req models.RandomnessRequest) error
	ListRandomnessRequests(ctx context.Context, status models.RandomnessStatus) ([]models.RandomnessRequest, error)

	// SnapshotInvestors copies the investor index with current balances into the
	// distribution snapshot, returning its size and the sum of balances
	SnapshotInvestors(ctx context.Context) (int, int64, error)
	SnapshotRange(ctx context.Context, from, limit int) ([]models.SnapshotEntry, error)
	ClearSnapshot(ctx context.Context) error

	RecordPayout(ctx context.Context, payout models.Payout) error
}

// Sequence names used with Tx.NextID
const (
	SeqApplications  = "applications"
	SeqBallots       = "ballots"
	SeqLoans         = "loans"
	SeqDistributions = "distributions"
)
