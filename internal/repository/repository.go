package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/mutual-fund/internal/models"
)

// advisoryLockKey serializes fund transactions across processes
const advisoryLockKey = 0x66756e64

// Repository provides the PostgreSQL-backed Store
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the database handle
func (r *Repository) Close() error {
	return r.db.Close()
}

// Init inserts the fund row with defaults unless it exists
func (r *Repository) Init(ctx context.Context, defaults models.Fund) error {
	query := `
		INSERT INTO fund.pool (id, daily_rate, deposit_lock_seconds, committee_size)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, defaults.DailyRate, int64(defaults.DepositLockTime/time.Second), defaults.CommitteeSize)
	if err != nil {
		return fmt.Errorf("failed to initialize fund: %w", err)
	}
	return nil
}

// InTx runs fn inside a database transaction holding the fund advisory lock
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("failed to acquire fund lock: %w", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (t *pgTx) GetFund(ctx context.Context) (models.Fund, error) {
	var (
		f        models.Fund
		lockSecs int64
	)
	query := `
		SELECT vault, loan_outstanding, interests_received, provision, accrued_loans, accrued_interests,
		       daily_rate, deposit_lock_seconds, committee_size,
		       cursor_pass, cursor_start, cursor_active, cursor_pool, cursor_basis, cursor_paid, cursor_size
		FROM fund.pool
		WHERE id = 1`
	err := t.tx.QueryRowContext(ctx, query).Scan(
		&f.Vault, &f.LoanOutstanding, &f.InterestsReceived, &f.Provision, &f.AccruedLoans, &f.AccruedInterests,
		&f.DailyRate, &lockSecs, &f.CommitteeSize,
		&f.Cursor.Pass, &f.Cursor.StartIndex, &f.Cursor.Active, &f.Cursor.Pool, &f.Cursor.Basis, &f.Cursor.Paid, &f.Cursor.Size)
	if err == sql.ErrNoRows {
		return models.Fund{}, fmt.Errorf("fund not initialized")
	}
	if err != nil {
		return models.Fund{}, fmt.Errorf("failed to load fund: %w", err)
	}
	f.DepositLockTime = time.Duration(lockSecs) * time.Second
	return f, nil
}

func (t *pgTx) SaveFund(ctx context.Context, f models.Fund) error {
	query := `
		UPDATE fund.pool
		SET vault = $1, loan_outstanding = $2, interests_received = $3, provision = $4,
		    accrued_loans = $5, accrued_interests = $6, daily_rate = $7, deposit_lock_seconds = $8,
		    committee_size = $9, cursor_start = $10, cursor_active = $11, cursor_pool = $12,
		    cursor_basis = $13, cursor_paid = $14, cursor_size = $15, cursor_pass = $16,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`
	_, err := t.tx.ExecContext(ctx, query,
		f.Vault, f.LoanOutstanding, f.InterestsReceived, f.Provision,
		f.AccruedLoans, f.AccruedInterests, f.DailyRate, int64(f.DepositLockTime/time.Second),
		f.CommitteeSize, f.Cursor.StartIndex, f.Cursor.Active, f.Cursor.Pool,
		f.Cursor.Basis, f.Cursor.Paid, f.Cursor.Size, f.Cursor.Pass)
	if err != nil {
		return fmt.Errorf("failed to save fund: %w", err)
	}
	return nil
}

func (t *pgTx) NextID(ctx context.Context, sequence string) (int64, error) {
	var id int64
	query := `
		INSERT INTO fund.sequences (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = fund.sequences.value + 1
		RETURNING value`
	if err := t.tx.QueryRowContext(ctx, query, sequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", sequence, err)
	}
	return id, nil
}

func (t *pgTx) GetMember(ctx context.Context, id string) (models.Member, bool, error) {
	m := models.Member{ID: id}
	err := t.tx.QueryRowContext(ctx, `SELECT joined_at FROM fund.members WHERE id = $1`, id).Scan(&m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Member{}, false, nil
	}
	if err != nil {
		return models.Member{}, false, fmt.Errorf("failed to find member: %w", err)
	}
	return m, true, nil
}

func (t *pgTx) SaveMember(ctx context.Context, m models.Member) error {
	query := `
		INSERT INTO fund.members (id, joined_at) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET joined_at = EXCLUDED.joined_at`
	if _, err := t.tx.ExecContext(ctx, query, m.ID, m.JoinedAt); err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteMember(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fund.members WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

func (t *pgTx) HasRole(ctx context.Context, id string, role models.Role) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM fund.role_grants WHERE member = $1 AND role = $2)`
	if err := t.tx.QueryRowContext(ctx, query, id, string(role)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return exists, nil
}

func (t *pgTx) GrantRole(ctx context.Context, id string, role models.Role) error {
	query := `INSERT INTO fund.role_grants (member, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, query, id, string(role)); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

func (t *pgTx) RevokeRole(ctx context.Context, id string, role models.Role) error {
	query := `DELETE FROM fund.role_grants WHERE member = $1 AND role = $2`
	if _, err := t.tx.ExecContext(ctx, query, id, string(role)); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

func (t *pgTx) GetBalance(ctx context.Context, member string) (models.MemberBalance, bool, error) {
	b := models.MemberBalance{Member: member}
	query := `SELECT balance, deposited_at, position FROM fund.balances WHERE member = $1`
	err := t.tx.QueryRowContext(ctx, query, member).Scan(&b.Balance, &b.DepositedAt, &b.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MemberBalance{}, false, nil
	}
	if err != nil {
		return models.MemberBalance{}, false, fmt.Errorf("failed to find balance: %w", err)
	}
	return b, true, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, b models.MemberBalance) error {
	query := `
		INSERT INTO fund.balances (member, balance, deposited_at, position) VALUES ($1, $2, $3, $4)
		ON CONFLICT (member) DO UPDATE
		SET balance = EXCLUDED.balance, deposited_at = EXCLUDED.deposited_at, position = EXCLUDED.position`
	if _, err := t.tx.ExecContext(ctx, query, b.Member, b.Balance, b.DepositedAt, b.Position); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (t *pgTx) InvestorCount(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fund.investor_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count investors: %w", err)
	}
	return n, nil
}

func (t *pgTx) InvestorAt(ctx context.Context, position int) (string, error) {
	var member string
	err := t.tx.QueryRowContext(ctx, `SELECT member FROM fund.investor_index WHERE position = $1`, position).Scan(&member)
	if err != nil {
		return "", fmt.Errorf("failed to find investor at %d: %w", position, err)
	}
	return member, nil
}

func (t *pgTx) SetInvestor(ctx context.Context, position int, member string) error {
	query := `
		INSERT INTO fund.investor_index (position, member) VALUES ($1, $2)
		ON CONFLICT (position) DO UPDATE SET member = EXCLUDED.member`
	if _, err := t.tx.ExecContext(ctx, query, position, member); err != nil {
		return fmt.Errorf("failed to set investor at %d: %w", position, err)
	}
	return nil
}

func (t *pgTx) TruncateInvestors(ctx context.Context, size int) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fund.investor_index WHERE position >= $1`, size); err != nil {
		return fmt.Errorf("failed to truncate investor index: %w", err)
	}
	return nil
}

func (t *pgTx) GetApplication(ctx context.Context, id int64) (models.Application, bool, error) {
	var (
		a          models.Application
		state      string
		approvedAt sql.NullTime
	)
	query := `
		SELECT id, borrower, amount, term, state, approved_amount, created_at, approved_at
		FROM fund.applications
		WHERE id = $1`
	err := t.tx.QueryRowContext(ctx, query, id).
		Scan(&a.ID, &a.Borrower, &a.Amount, &a.Term, &state, &a.ApprovedAmount, &a.CreatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Application{}, false, nil
	}
	if err != nil {
		return models.Application{}, false, fmt.Errorf("failed to find application: %w", err)
	}
	a.State = models.ApplicationState(state)
	a.ApprovedAt = timePtr(approvedAt)
	return a, true, nil
}

func (t *pgTx) SaveApplication(ctx context.Context, a models.Application) error {
	query := `
		INSERT INTO fund.applications (id, borrower, amount, term, state, approved_amount, created_at, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, approved_amount = EXCLUDED.approved_amount, approved_at = EXCLUDED.approved_at`
	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.Borrower, a.Amount, a.Term, string(a.State), a.ApprovedAmount, a.CreatedAt, nullTime(a.ApprovedAt))
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (t *pgTx) GetBallot(ctx context.Context, id int64) (models.Ballot, bool, error) {
	var (
		b                      models.Ballot
		committeeStatus, state string
	)
	query := `
		SELECT id, application_id, borrower, confirm_count, decline_count, committee_size,
		       committee_status, state, created_at, deadline
		FROM fund.ballots
		WHERE id = $1`
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.ApplicationID, &b.Borrower, &b.ConfirmCount,
		&b.DeclineCount, &b.CommitteeSize, &committeeStatus, &state, &b.CreatedAt, &b.Deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ballot{}, false, nil
	}
	if err != nil {
		return models.Ballot{}, false, fmt.Errorf("failed to find ballot: %w", err)
	}
	b.CommitteeStatus = models.CommitteeStatus(committeeStatus)
	b.State = models.BallotState(state)
	return b, true, nil
}

func (t *pgTx) SaveBallot(ctx context.Context, b models.Ballot) error {
	query := `
		INSERT INTO fund.ballots (id, application_id, borrower, confirm_count, decline_count, committee_size,
		                          committee_status, state, created_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET confirm_count = EXCLUDED.confirm_count, decline_count = EXCLUDED.decline_count,
		    committee_size = EXCLUDED.committee_size, committee_status = EXCLUDED.committee_status,
		    state = EXCLUDED.state`
	_, err := t.tx.ExecContext(ctx, query, b.ID, b.ApplicationID, b.Borrower, b.ConfirmCount, b.DeclineCount,
		b.CommitteeSize, string(b.CommitteeStatus), string(b.State), b.CreatedAt, b.Deadline)
	if err != nil {
		return fmt.Errorf("failed to save ballot: %w", err)
	}
	return nil
}

func (t *pgTx) GetVoter(ctx context.Context, ballotID int64, member string) (models.Voter, bool, error) {
	v := models.Voter{BallotID: ballotID, Member: member}
	var votedAt sql.NullTime
	query := `SELECT voted, confirm, voted_at FROM fund.ballot_voters WHERE ballot_id = $1 AND member = $2`
	err := t.tx.QueryRowContext(ctx, query, ballotID, member).Scan(&v.Voted, &v.Confirm, &votedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Voter{}, false, nil
	}
	if err != nil {
		return models.Voter{}, false, fmt.Errorf("failed to find voter: %w", err)
	}
	v.VotedAt = timePtr(votedAt)
	return v, true, nil
}

func (t *pgTx) SaveVoter(ctx context.Context, v models.Voter) error {
	query := `
		INSERT INTO fund.ballot_voters (ballot_id, member, voted, confirm, voted_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ballot_id, member) DO UPDATE
		SET voted = EXCLUDED.voted, confirm = EXCLUDED.confirm, voted_at = EXCLUDED.voted_at`
	if _, err := t.tx.ExecContext(ctx, query, v.BallotID, v.Member, v.Voted, v.Confirm, nullTime(v.VotedAt)); err != nil {
		return fmt.Errorf("failed to save voter: %w", err)
	}
	return nil
}

func (t *pgTx) ListVoters(ctx context.Context, ballotID int64) ([]models.Voter, error) {
	query := `
		SELECT member, voted, confirm, voted_at
		FROM fund.ballot_voters
		WHERE ballot_id = $1
		ORDER BY member`
	rows, err := t.tx.QueryContext(ctx, query, ballotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voters: %w", err)
	}
	defer rows.Close()

	var out []models.Voter
	for rows.Next() {
		v := models.Voter{BallotID: ballotID}
		var votedAt sql.NullTime
		if err := rows.Scan(&v.Member, &v.Voted, &v.Confirm, &votedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voter: %w", err)
		}
		v.VotedAt = timePtr(votedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *pgTx) GetLoan(ctx context.Context, id int64) (models.Loan, bool, error) {
	var (
		l          models.Loan
		lastRepaid sql.NullTime
	)
	query := `
		SELECT id, application_id, borrower, amount, term, installments, installments_repaid,
		       granted_at, last_repaid_at, amount_due, daily_rate, interest_paid, fully_repaid
		FROM fund.loans
		WHERE id = $1`
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.ApplicationID, &l.Borrower, &l.Amount, &l.Term,
		&l.Installments, &l.InstallmentsRepaid, &l.GrantedAt, &lastRepaid, &l.AmountDue, &l.DailyRate,
		&l.InterestPaid, &l.FullyRepaid)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Loan{}, false, nil
	}
	if err != nil {
		return models.Loan{}, false, fmt.Errorf("failed to find loan: %w", err)
	}
	l.LastRepaidAt = timePtr(lastRepaid)
	return l, true, nil
}

func (t *pgTx) SaveLoan(ctx context.Context, l models.Loan) error {
	query := `
		INSERT INTO fund.loans (id, application_id, borrower, amount, term, installments, installments_repaid,
		                        granted_at, last_repaid_at, amount_due, daily_rate, interest_paid, fully_repaid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET installments_repaid = EXCLUDED.installments_repaid, last_repaid_at = EXCLUDED.last_repaid_at,
		    amount_due = EXCLUDED.amount_due, interest_paid = EXCLUDED.interest_paid,
		    fully_repaid = EXCLUDED.fully_repaid`
	_, err := t.tx.ExecContext(ctx, query, l.ID, l.ApplicationID, l.Borrower, l.Amount, l.Term, l.Installments,
		l.InstallmentsRepaid, l.GrantedAt, nullTime(l.LastRepaidAt), l.AmountDue, l.DailyRate, l.InterestPaid,
		l.FullyRepaid)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

func (t *pgTx) LoanIDForApplication(ctx context.Context, applicationID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM fund.loans WHERE application_id = $1`, applicationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find loan for application: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) GetRandomnessRequest(ctx context.Context, requestID string) (models.RandomnessRequest, bool, error) {
	r := models.RandomnessRequest{RequestID: requestID}
	var status string
	query := `SELECT ballot_id, attempt, status, requested_at FROM fund.randomness_requests WHERE request_id = $1`
	err := t.tx.QueryRowContext(ctx, query, requestID).Scan(&r.BallotID, &r.Attempt, &status, &r.RequestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RandomnessRequest{}, false, nil
	}
	if err != nil {
		return models.RandomnessRequest{}, false, fmt.Errorf("failed to find randomness request: %w", err)
	}
	r.Status = models.RandomnessStatus(status)
	return r, true, nil
}

func (t *pgTx) SaveRandomnessRequest(ctx context.Context, r models.RandomnessRequest) error {
	query := `
		INSERT INTO fund.randomness_requests (request_id, ballot_id, attempt, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE SET status = EXCLUDED.status`
	if _, err := t.tx.ExecContext(ctx, query, r.RequestID, r.BallotID, r.Attempt, string(r.Status), r.RequestedAt); err != nil {
		return fmt.Errorf("failed to save randomness request: %w", err)
	}
	return nil
}

func (t *pgTx) ListRandomnessRequests(ctx context.Context, status models.RandomnessStatus) ([]models.RandomnessRequest, error) {
	query := `
		SELECT request_id, ballot_id, attempt, requested_at
		FROM fund.randomness_requests
		WHERE status = $1
		ORDER BY requested_at`
	rows, err := t.tx.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list randomness requests: %w", err)
	}
	defer rows.Close()

	var out []models.RandomnessRequest
	for rows.Next() {
		r := models.RandomnessRequest{Status: status}
		if err := rows.Scan(&r.RequestID, &r.BallotID, &r.Attempt, &r.RequestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan randomness request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) SnapshotInvestors(ctx context.Context) (int, int64, error) {
	if err := t.ClearSnapshot(ctx); err != nil {
		return 0, 0, err
	}
	query := `
		INSERT INTO fund.distribution_snapshot (position, member, balance)
		SELECT i.position, i.member, b.balance
		FROM fund.investor_index i
		JOIN fund.balances b ON b.member = i.member`
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return 0, 0, fmt.Errorf("failed to snapshot investors: %w", err)
	}
	var (
		size  int
		basis int64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM fund.distribution_snapshot`).
		Scan(&size, &basis)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to summarize snapshot: %w", err)
	}
	return size, basis, nil
}

func (t *pgTx) SnapshotRange(ctx context.Context, from, limit int) ([]models.SnapshotEntry, error) {
	query := `
		SELECT position, member, balance
		FROM fund.distribution_snapshot
		WHERE position >= $1
		ORDER BY position
		LIMIT $2`
	rows, err := t.tx.QueryContext(ctx, query, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer rows.Close()

	var out []models.SnapshotEntry
	for rows.Next() {
		var e models.SnapshotEntry
		if err := rows.Scan(&e.Position, &e.Member, &e.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) ClearSnapshot(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fund.distribution_snapshot`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

func (t *pgTx) RecordPayout(ctx context.Context, p models.Payout) error {
	query := `
		INSERT INTO fund.payouts (key, kind, recipient, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, query, p.Key, string(p.Kind), p.To, p.Amount, p.Reference, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}
