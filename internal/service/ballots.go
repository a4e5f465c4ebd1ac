package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/repository"
)

// CreateBallot opens a committee vote on an application
func (s *Service) CreateBallot(ctx context.Context, applicationID int64, borrower string, window time.Duration) (models.Ballot, error) {
	var ballot models.Ballot
	err := s.run(ctx, "create_ballot", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if window < s.policy.MinVotingWindow {
			return apperr.ErrWindowTooShort.WithMessage("window %s is below %s", window, s.policy.MinVotingWindow)
		}
		if borrower == "" {
			return apperr.ErrInvalidBorrower
		}
		app, err := loadApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app.Borrower != borrower {
			return apperr.ErrInvalidBorrower.WithMessage("application %d belongs to %s", app.ID, app.Borrower)
		}

		id, err := tx.NextID(ctx, repository.SeqBallots)
		if err != nil {
			return err
		}
		now := s.now()
		ballot = models.Ballot{
			ID:              id,
			ApplicationID:   app.ID,
			Borrower:        borrower,
			CommitteeStatus: models.CommitteeNone,
			State:           models.BallotCreated,
			CreatedAt:       now,
			Deadline:        now.Add(window),
		}
		return tx.SaveBallot(ctx, ballot)
	})
	if err != nil {
		return models.Ballot{}, err
	}

	s.log.Infof("Ballot %d created for application %d, deadline %s", ballot.ID, ballot.ApplicationID, ballot.Deadline.Format(time.RFC3339))
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventBallotCreated,
		Member:    ballot.Borrower,
		Reference: ballot.ID,
		Message:   fmt.Sprintf("Ballot %d opened for application %d.", ballot.ID, ballot.ApplicationID),
	})
	return ballot, nil
}

// RequestCommitteeSelection asks the randomness source for the value that will
// pick the ballot committee. The committee is assigned on delivery.
func (s *Service) RequestCommitteeSelection(ctx context.Context, ballotID int64) (models.RandomnessRequest, error) {
	var req models.RandomnessRequest
	err := s.run(ctx, "request_committee", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		ballot, err := loadBallot(ctx, tx, ballotID)
		if err != nil {
			return err
		}
		if ballot.State == models.BallotFinished {
			return apperr.ErrBallotFinished.WithMessage("ballot %d is finished", ballot.ID)
		}
		if ballot.CommitteeStatus != models.CommitteeNone {
			return apperr.ErrCommitteeAssigned.WithMessage("ballot %d committee is %s", ballot.ID, ballot.CommitteeStatus)
		}
		req, err = s.requestRandomness(ctx, tx, ballot, 1)
		return err
	})
	if err != nil {
		return models.RandomnessRequest{}, err
	}
	s.log.Infof("Committee randomness %s requested for ballot %d", req.RequestID, req.BallotID)
	return req, nil
}

func (s *Service) requestRandomness(ctx context.Context, tx repository.Tx, ballot models.Ballot, attempt int) (models.RandomnessRequest, error) {
	id, err := s.random.RequestRandom(ctx)
	if err != nil {
		return models.RandomnessRequest{}, err
	}
	req := models.RandomnessRequest{
		RequestID:   id,
		BallotID:    ballot.ID,
		Attempt:     attempt,
		Status:      models.RandomnessPending,
		RequestedAt: s.now(),
	}
	if err := tx.SaveRandomnessRequest(ctx, req); err != nil {
		return models.RandomnessRequest{}, err
	}
	ballot.CommitteeStatus = models.CommitteeRequested
	return req, tx.SaveBallot(ctx, ballot)
}

// OnRandomnessDelivered assigns the committee of the ballot waiting on
// requestID. Deliveries for requests that are no longer pending are ignored.
func (s *Service) OnRandomnessDelivered(ctx context.Context, requestID string, value [32]byte) error {
	var assigned *models.Ballot
	err := s.run(ctx, "deliver_randomness", func(tx repository.Tx) error {
		var err error
		assigned, err = s.applyRandomness(ctx, tx, requestID, value)
		return err
	})
	if err == nil && assigned != nil {
		s.publishCommittee(ctx, *assigned)
	}
	return err
}

// DeliverRandomness is OnRandomnessDelivered for an external oracle; the
// caller must hold the oracle role
func (s *Service) DeliverRandomness(ctx context.Context, requestID string, value [32]byte) error {
	var assigned *models.Ballot
	err := s.run(ctx, "deliver_randomness", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if err := requireRole(ctx, tx, caller, models.RoleOracle); err != nil {
			return err
		}
		assigned, err = s.applyRandomness(ctx, tx, requestID, value)
		return err
	})
	if err == nil && assigned != nil {
		s.publishCommittee(ctx, *assigned)
	}
	return err
}

func (s *Service) applyRandomness(ctx context.Context, tx repository.Tx, requestID string, value [32]byte) (*models.Ballot, error) {
	req, ok, err := tx.GetRandomnessRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFound.WithMessage("randomness request %s not found", requestID)
	}
	if req.Status != models.RandomnessPending {
		s.log.Warnf("Ignoring randomness for %s request %s", req.Status, requestID)
		return nil, nil
	}

	ballot, err := loadBallot(ctx, tx, req.BallotID)
	if err != nil {
		return nil, err
	}
	if ballot.State == models.BallotFinished || ballot.CommitteeStatus != models.CommitteeRequested {
		s.log.Warnf("Ignoring randomness for ballot %d in state %s/%s", ballot.ID, ballot.State, ballot.CommitteeStatus)
		req.Status = models.RandomnessFulfilled
		return nil, tx.SaveRandomnessRequest(ctx, req)
	}

	n, err := tx.InvestorCount(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		s.log.Warnf("No investors to draw a committee for ballot %d", ballot.ID)
		req.Status = models.RandomnessFailed
		ballot.CommitteeStatus = models.CommitteeNone
		if err := tx.SaveRandomnessRequest(ctx, req); err != nil {
			return nil, err
		}
		return nil, tx.SaveBallot(ctx, ballot)
	}

	fund, err := tx.GetFund(ctx)
	if err != nil {
		return nil, err
	}
	positions := deriveCommittee(value, n, fund.CommitteeSize)
	for _, pos := range positions {
		member, err := tx.InvestorAt(ctx, pos)
		if err != nil {
			return nil, err
		}
		if err := tx.SaveVoter(ctx, models.Voter{BallotID: ballot.ID, Member: member}); err != nil {
			return nil, err
		}
	}
	ballot.CommitteeSize = len(positions)
	ballot.CommitteeStatus = models.CommitteeAssigned
	req.Status = models.RandomnessFulfilled
	if err := tx.SaveRandomnessRequest(ctx, req); err != nil {
		return nil, err
	}
	if err := tx.SaveBallot(ctx, ballot); err != nil {
		return nil, err
	}
	return &ballot, nil
}

func (s *Service) publishCommittee(ctx context.Context, ballot models.Ballot) {
	s.log.Infof("Committee of %d assigned to ballot %d", ballot.CommitteeSize, ballot.ID)
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventCommitteeAssigned,
		Member:    ballot.Borrower,
		Reference: ballot.ID,
		Message:   fmt.Sprintf("A committee of %d was drawn for ballot %d.", ballot.CommitteeSize, ballot.ID),
	})
}

// RetryStaleRandomness expires pending requests older than the randomness
// timeout and issues a fresh request for their ballots until the attempt
// limit is reached. It returns the number of requests re-issued.
func (s *Service) RetryStaleRandomness(ctx context.Context) (int, error) {
	var stale []string
	err := s.run(ctx, "list_stale_randomness", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		pending, err := tx.ListRandomnessRequests(ctx, models.RandomnessPending)
		if err != nil {
			return err
		}
		cutoff := s.now().Add(-s.policy.RandomnessTimeout)
		for _, req := range pending {
			if !req.RequestedAt.After(cutoff) {
				stale = append(stale, req.RequestID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// One transaction per request: a failure leaves the other retries committed
	retried := 0
	var errs []error
	for _, id := range stale {
		ok, err := s.retryRandomness(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("retry randomness %s: %w", id, err))
			continue
		}
		if ok {
			retried++
		}
	}
	return retried, errors.Join(errs...)
}

// retryRandomness expires one stale request and re-issues it when the ballot
// still waits for a committee. It reports whether a new request was issued.
func (s *Service) retryRandomness(ctx context.Context, requestID string) (bool, error) {
	var next *models.RandomnessRequest
	err := s.run(ctx, "retry_randomness", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		req, ok, err := tx.GetRandomnessRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !ok || req.Status != models.RandomnessPending {
			return nil
		}
		req.Status = models.RandomnessExpired
		if err := tx.SaveRandomnessRequest(ctx, req); err != nil {
			return err
		}
		ballot, err := loadBallot(ctx, tx, req.BallotID)
		if err != nil {
			return err
		}
		if ballot.State == models.BallotFinished || ballot.CommitteeStatus != models.CommitteeRequested {
			return nil
		}
		if req.Attempt >= s.policy.RandomnessMaxAttempts {
			s.log.Warnf("Randomness for ballot %d expired after %d attempts", ballot.ID, req.Attempt)
			ballot.CommitteeStatus = models.CommitteeNone
			return tx.SaveBallot(ctx, ballot)
		}
		issued, err := s.requestRandomness(ctx, tx, ballot, req.Attempt+1)
		if errors.Is(err, apperr.ErrInsufficientFee) {
			s.log.Warnf("Cannot retry randomness for ballot %d: %v", ballot.ID, err)
			ballot.CommitteeStatus = models.CommitteeNone
			return tx.SaveBallot(ctx, ballot)
		}
		if err != nil {
			return err
		}
		next = &issued
		return nil
	})
	if err != nil || next == nil {
		return false, err
	}
	s.log.Infof("Randomness for ballot %d re-requested as %s, attempt %d", next.BallotID, next.RequestID, next.Attempt)
	return true, nil
}

// TopUpRandomness adds prepaid credit to the randomness source and returns
// the resulting credit. Only admins may top up.
func (s *Service) TopUpRandomness(ctx context.Context, amount int64) (int64, error) {
	prepaid, ok := s.random.(PrepaidRandomness)
	if !ok {
		return 0, apperr.ErrWrongState.WithMessage("randomness source has no prepaid credit")
	}
	err := s.run(ctx, "topup_randomness", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if amount <= 0 {
			return apperr.ErrZeroAmount
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	prepaid.TopUp(amount)
	credit := prepaid.Credit()
	s.log.Infof("Randomness credit topped up by %d to %d", amount, credit)
	return credit, nil
}

// RandomnessCredit returns the prepaid credit left for randomness fees
func (s *Service) RandomnessCredit() (int64, error) {
	prepaid, ok := s.random.(PrepaidRandomness)
	if !ok {
		return 0, apperr.ErrWrongState.WithMessage("randomness source has no prepaid credit")
	}
	return prepaid.Credit(), nil
}

// Vote records the caller's decision on a ballot
func (s *Service) Vote(ctx context.Context, ballotID int64, confirm bool) (models.Ballot, error) {
	var ballot models.Ballot
	err := s.run(ctx, "vote", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if ballot, err = loadBallot(ctx, tx, ballotID); err != nil {
			return err
		}
		if ballot.State == models.BallotFinished {
			return apperr.ErrBallotFinished.WithMessage("ballot %d is finished", ballot.ID)
		}
		now := s.now()
		if !now.Before(ballot.Deadline) {
			return apperr.ErrDeadlinePassed.WithMessage("ballot %d closed at %s", ballot.ID, ballot.Deadline.Format(time.RFC3339))
		}
		voter, ok, err := tx.GetVoter(ctx, ballot.ID, caller)
		if err != nil {
			return err
		}
		if ok && voter.Voted {
			return apperr.ErrAlreadyVoted.WithMessage("%s already voted on ballot %d", caller, ballot.ID)
		}
		if !ok {
			return apperr.ErrNotEligible.WithMessage("%s is not on the committee of ballot %d", caller, ballot.ID)
		}

		voter.Voted = true
		voter.Confirm = confirm
		voter.VotedAt = &now
		if confirm {
			ballot.ConfirmCount++
		} else {
			ballot.DeclineCount++
		}
		if err := tx.SaveVoter(ctx, voter); err != nil {
			return err
		}
		return tx.SaveBallot(ctx, ballot)
	})
	if err != nil {
		return models.Ballot{}, err
	}
	s.log.Infof("Vote recorded on ballot %d: %d confirm, %d decline", ballot.ID, ballot.ConfirmCount, ballot.DeclineCount)
	return ballot, nil
}

// SetCommitteeSize changes the number of voters drawn for new committees
func (s *Service) SetCommitteeSize(ctx context.Context, n int) error {
	err := s.run(ctx, "set_committee_size", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if n < s.policy.MinCommitteeSize {
			return apperr.ErrTooSmall.WithMessage("committee size %d is below %d", n, s.policy.MinCommitteeSize)
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		fund.CommitteeSize = n
		return tx.SaveFund(ctx, fund)
	})
	if err == nil {
		s.log.Infof("Committee size set to %d", n)
	}
	return err
}

// FinalizeBallot closes a ballot and applies its outcome to the application.
// Before the deadline it is only allowed once every committee member voted.
func (s *Service) FinalizeBallot(ctx context.Context, ballotID int64) (models.BallotOutcome, error) {
	var (
		outcome models.BallotOutcome
		ballot  models.Ballot
		app     models.Application
		decided bool
	)
	err := s.run(ctx, "finalize_ballot", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		var err error
		if ballot, err = loadBallot(ctx, tx, ballotID); err != nil {
			return err
		}
		if ballot.State == models.BallotFinished {
			return apperr.ErrBallotFinished.WithMessage("ballot %d is finished", ballot.ID)
		}
		allVoted := ballot.CommitteeStatus == models.CommitteeAssigned && ballot.Votes() >= ballot.CommitteeSize
		if s.now().Before(ballot.Deadline) && !allVoted {
			return apperr.ErrDeadlineNotReached.WithMessage("ballot %d is open until %s", ballot.ID, ballot.Deadline.Format(time.RFC3339))
		}

		ballot.State = models.BallotFinished
		if err := tx.SaveBallot(ctx, ballot); err != nil {
			return err
		}
		outcome = tally(ballot, s.policy.BallotQuorumPercent)

		if app, err = loadApplication(ctx, tx, ballot.ApplicationID); err != nil {
			return err
		}
		if app.State != models.ApplicationWaitingForApproval {
			return nil
		}
		switch outcome {
		case models.OutcomeApproved:
			decided = true
			return s.approve(ctx, tx, &app, app.Amount)
		case models.OutcomeDeclined:
			decided = true
			return s.decline(ctx, tx, &app)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Infof("Ballot %d finalized: %s (%d confirm, %d decline)", ballot.ID, outcome, ballot.ConfirmCount, ballot.DeclineCount)
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventBallotFinalized,
		Member:    ballot.Borrower,
		Reference: ballot.ID,
		Message:   fmt.Sprintf("Ballot %d finished with outcome %s.", ballot.ID, outcome),
	})
	if decided {
		s.publishDecision(ctx, app)
	}
	return outcome, nil
}

// tally compares the votes of a ballot against its quorum
func tally(ballot models.Ballot, quorumPercent int) models.BallotOutcome {
	if ballot.CommitteeSize == 0 {
		return models.OutcomeNoQuorum
	}
	quorum := (ballot.CommitteeSize*quorumPercent + 99) / 100
	if quorum < 1 {
		quorum = 1
	}
	if ballot.Votes() < quorum {
		return models.OutcomeNoQuorum
	}
	if ballot.ConfirmCount > ballot.DeclineCount {
		return models.OutcomeApproved
	}
	return models.OutcomeDeclined
}

// GetBallot returns a ballot by id
func (s *Service) GetBallot(ctx context.Context, id int64) (models.Ballot, error) {
	var ballot models.Ballot
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ballot, err = loadBallot(ctx, tx, id)
		return err
	})
	return ballot, err
}

// ListVoters returns the committee of a ballot
func (s *Service) ListVoters(ctx context.Context, id int64) ([]models.Voter, error) {
	var voters []models.Voter
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := loadBallot(ctx, tx, id); err != nil {
			return err
		}
		var err error
		voters, err = tx.ListVoters(ctx, id)
		return err
	})
	return voters, err
}

func loadBallot(ctx context.Context, tx repository.Tx, id int64) (models.Ballot, error) {
	ballot, ok, err := tx.GetBallot(ctx, id)
	if err != nil {
		return models.Ballot{}, err
	}
	if !ok {
		return models.Ballot{}, apperr.ErrNotFound.WithMessage("ballot %d not found", id)
	}
	return ballot, nil
}
