package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/Dan9191/mutual-fund/internal/identity"
	"github.com/Dan9191/mutual-fund/internal/metrics"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/repository"
	"github.com/sirupsen/logrus"
)

// RandomnessSource issues requests for one unpredictable value each; the
// value arrives later through Service.OnRandomnessDelivered
type RandomnessSource interface {
	RequestRandom(ctx context.Context) (string, error)
}

// PrepaidRandomness is a randomness source that charges its fee from credit
// paid in advance
type PrepaidRandomness interface {
	TopUp(amount int64)
	Credit() int64
}

// Sender moves value out of the fund; an error means nothing was sent. A
// transfer is made at most once per key: resending a key that already
// succeeded is acknowledged without moving value again.
type Sender interface {
	Send(ctx context.Context, key, to string, amount int64) error
}

// RateSource supplies the per-100000 daily lending rate
type RateSource interface {
	DailyRate(ctx context.Context) (int64, error)
}

// Policy holds the lending parameters the service enforces
type Policy struct {
	MaxLoanAmount         int64
	MaxLoanTerm           int
	MinVotingWindow       time.Duration
	MinCommitteeSize      int
	DistributionBatchSize int
	IncubationPeriod      time.Duration
	BallotQuorumPercent   int
	RandomnessTimeout     time.Duration
	RandomnessMaxAttempts int
}

// PolicyFromConfig extracts the policy from the fund configuration. The
// distribution batch never exceeds config.MaxDistributionBatchSize.
func PolicyFromConfig(cfg config.Fund) Policy {
	return Policy{
		MaxLoanAmount:         cfg.MaxLoanAmount,
		MaxLoanTerm:           cfg.MaxLoanTerm,
		MinVotingWindow:       cfg.MinVotingWindow,
		MinCommitteeSize:      cfg.MinCommitteeSize,
		DistributionBatchSize: min(cfg.DistributionBatchSize, config.MaxDistributionBatchSize),
		IncubationPeriod:      cfg.IncubationPeriod,
		BallotQuorumPercent:   cfg.BallotQuorumPercent,
		RandomnessTimeout:     cfg.RandomnessTimeout,
		RandomnessMaxAttempts: cfg.RandomnessMaxAttempts,
	}
}

// FundDefaults returns the initial fund record for a fresh store
func FundDefaults(cfg config.Fund) models.Fund {
	return models.Fund{
		DailyRate:       cfg.DailyInterestRate,
		DepositLockTime: cfg.DepositLockTime,
		CommitteeSize:   cfg.CommitteeSize,
	}
}

// Dependencies are the external collaborators of the service
type Dependencies struct {
	Randomness RandomnessSource
	Sender     Sender
	Notifier   notifier.Notifier
	Rates      RateSource
	Clock      func() time.Time
}

// Service handles the fund's business logic. Every operation runs as one
// serialized store transaction.
type Service struct {
	store  repository.Store
	log    *logrus.Logger
	policy Policy
	random RandomnessSource
	sender Sender
	notify notifier.Notifier
	rates  RateSource
	now    func() time.Time
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, policy Policy, deps Dependencies) *Service {
	s := &Service{
		store:  store,
		log:    log,
		policy: policy,
		random: deps.Randomness,
		sender: deps.Sender,
		notify: deps.Notifier,
		rates:  deps.Rates,
		now:    deps.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notify == nil {
		s.notify = notifier.NewLogNotifier(log)
	}
	return s
}

// run executes fn in a transaction and records the outcome
func (s *Service) run(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := s.store.InTx(ctx, fn)
	metrics.RecordOperation(op, err)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind != apperr.KindTransfer {
			s.log.Debugf("%s rejected: %v", op, err)
		} else {
			s.log.Errorf("%s failed: %v", op, err)
		}
	}
	return err
}

func (s *Service) publish(ctx context.Context, evt notifier.Event) {
	if err := s.notify.Notify(ctx, evt); err != nil {
		s.log.Warnf("Failed to publish %s: %v", evt.Type, err)
	}
}

func callerFrom(ctx context.Context) (string, error) {
	caller, ok := identity.Caller(ctx)
	if !ok {
		return "", apperr.ErrUnauthenticated
	}
	return caller, nil
}

func requireRole(ctx context.Context, tx repository.Tx, caller string, role models.Role) error {
	ok, err := tx.HasRole(ctx, caller, role)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrUnauthorized.WithMessage("%s lacks role %s", caller, role)
	}
	return nil
}

// requireAdmin resolves the caller and checks the admin role
func requireAdmin(ctx context.Context, tx repository.Tx) (string, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return "", err
	}
	return caller, requireRole(ctx, tx, caller, models.RoleAdmin)
}

// send performs a transfer after the ledger writes are staged; a refusal
// fails the whole transaction
func (s *Service) send(ctx context.Context, tx repository.Tx, payout models.Payout) error {
	if err := tx.RecordPayout(ctx, payout); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, payout.Key, payout.To, payout.Amount); err != nil {
		s.log.Warnf("Transfer of %d to %s refused: %v", payout.Amount, payout.To, err)
		return apperr.ErrTransferFailed.WithMessage("transfer of %d to %s failed: %v", payout.Amount, payout.To, err)
	}
	return nil
}

// recordFund refreshes the aggregate gauges after a committed change
func (s *Service) recordFund(ctx context.Context) {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		n, err := tx.InvestorCount(ctx)
		if err != nil {
			return err
		}
		metrics.RecordFund(fund, n)
		return nil
	})
	if err != nil {
		s.log.Warnf("Failed to refresh fund metrics: %v", err)
	}
}

// GetFund returns the fund aggregates and distribution cursor
func (s *Service) GetFund(ctx context.Context) (models.Fund, error) {
	var fund models.Fund
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		fund, err = tx.GetFund(ctx)
		return err
	})
	return fund, err
}
