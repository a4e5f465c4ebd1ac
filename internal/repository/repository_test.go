package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func expectTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(int64(advisoryLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestMigrateAppliesSchema(t *testing.T) {
	repo, mock := newMockRepository(t)
	for range schema {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateReportsFailingStatement(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnError(errors.New("permission denied"))

	err := repo.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE TABLE IF NOT EXISTS fund.pool")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestInitInsertsDefaults(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fund.pool`)).
		WithArgs(int64(50), int64(3600), 12).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Init(context.Background(), models.Fund{DailyRate: 50, DepositLockTime: time.Hour, CommitteeSize: 12})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommits(t *testing.T) {
	repo, mock := newMockRepository(t)
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	expectTx(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT joined_at FROM fund.members WHERE id = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"joined_at"}).AddRow(joined))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT joined_at FROM fund.members WHERE id = $1`)).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"joined_at"}))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx Tx) error {
		m, ok, err := tx.GetMember(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, models.Member{ID: "alice", JoinedAt: joined}, m)

		_, ok, err = tx.GetMember(context.Background(), "bob")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectTx(mock)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fund.payouts`)).
		WithArgs("withdrawal-1", "WITHDRAWAL", "alice", int64(10), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	refused := errors.New("refused")
	err := repo.InTx(context.Background(), func(tx Tx) error {
		if err := tx.RecordPayout(context.Background(), models.Payout{
			Key: "withdrawal-1", Kind: models.PayoutWithdrawal, To: "alice", Amount: 10, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return refused
	})
	assert.ErrorIs(t, err, refused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextID(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectTx(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO fund.sequences`)).
		WithArgs(SeqLoans).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(3)))
	mock.ExpectCommit()

	var id int64
	err := repo.InTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.NextID(context.Background(), SeqLoans)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFundConvertsLockTime(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectTx(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM fund.pool`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"vault", "loan_outstanding", "interests_received", "provision", "accrued_loans", "accrued_interests",
			"daily_rate", "deposit_lock_seconds", "committee_size",
			"cursor_pass", "cursor_start", "cursor_active", "cursor_pool", "cursor_basis", "cursor_paid", "cursor_size",
		}).AddRow(4000, 2000, 100, 1, 2000, 100, 50, 86400, 12, 7, 100, true, 100, 4000, 40, 250))
	mock.ExpectCommit()

	var fund models.Fund
	err := repo.InTx(context.Background(), func(tx Tx) error {
		var err error
		fund, err = tx.GetFund(context.Background())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, fund.DepositLockTime)
	assert.Equal(t, int64(4000), fund.Vault)
	assert.Equal(t, models.Cursor{Pass: 7, StartIndex: 100, Active: true, Pool: 100, Basis: 4000, Paid: 40, Size: 250}, fund.Cursor)
}

func TestSnapshotInvestors(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectTx(mock)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM fund.distribution_snapshot`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fund.distribution_snapshot`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM fund.distribution_snapshot`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(2, int64(4000)))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM fund.distribution_snapshot`)).
		WithArgs(0, 100).
		WillReturnRows(sqlmock.NewRows([]string{"position", "member", "balance"}).
			AddRow(0, "a", int64(1000)).
			AddRow(1, "b", int64(3000)))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx Tx) error {
		size, basis, err := tx.SnapshotInvestors(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, size)
		assert.Equal(t, int64(4000), basis)

		entries, err := tx.SnapshotRange(context.Background(), 0, 100)
		require.NoError(t, err)
		assert.Equal(t, []models.SnapshotEntry{
			{Position: 0, Member: "a", Balance: 1000},
			{Position: 1, Member: "b", Balance: 3000},
		}, entries)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoanNullLastRepayment(t *testing.T) {
	repo, mock := newMockRepository(t)
	granted := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	expectTx(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM fund.loans`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "application_id", "borrower", "amount", "term", "installments", "installments_repaid",
			"granted_at", "last_repaid_at", "amount_due", "daily_rate", "interest_paid", "fully_repaid",
		}).AddRow(int64(7), int64(3), "c", int64(2000), 30, 30, 0, granted, nil, int64(2000), int64(50), int64(0), false))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx Tx) error {
		loan, ok, err := tx.GetLoan(context.Background(), 7)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, loan.LastRepaidAt)
		assert.Equal(t, granted, loan.GrantedAt)
		assert.Equal(t, "c", loan.Borrower)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
