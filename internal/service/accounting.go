package service

import (
	"context"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/repository"
	"github.com/google/uuid"
)

// Deposit credits amount to the caller's balance and the vault
func (s *Service) Deposit(ctx context.Context, amount int64) (models.MemberBalance, error) {
	var bal models.MemberBalance
	err := s.run(ctx, "deposit", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return apperr.ErrZeroAmount
		}
		if _, ok, err := tx.GetMember(ctx, caller); err != nil {
			return err
		} else if !ok {
			return apperr.ErrNotMember.WithMessage("%s is not a member", caller)
		}

		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		bal, _, err = tx.GetBalance(ctx, caller)
		if err != nil {
			return err
		}
		bal.Member = caller
		if bal.Balance == 0 {
			if bal.Position, err = appendInvestor(ctx, tx, caller); err != nil {
				return err
			}
		}
		bal.Balance += amount
		bal.DepositedAt = s.now()
		fund.Vault += amount

		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}
		return tx.SaveFund(ctx, fund)
	})
	if err != nil {
		return models.MemberBalance{}, err
	}
	s.log.Infof("Deposit of %d by %s, balance %d", amount, bal.Member, bal.Balance)
	s.recordFund(ctx)
	return bal, nil
}

// Withdraw debits amount from the caller's balance and sends it out
func (s *Service) Withdraw(ctx context.Context, amount int64) (models.MemberBalance, error) {
	var bal models.MemberBalance
	err := s.run(ctx, "withdraw", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return apperr.ErrZeroAmount
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		var ok bool
		bal, ok, err = tx.GetBalance(ctx, caller)
		if err != nil {
			return err
		}
		if !ok || amount > bal.Balance {
			return apperr.ErrInsufficientBalance.WithMessage("balance %d, requested %d", bal.Balance, amount)
		}
		unlock := bal.DepositedAt.Add(fund.DepositLockTime)
		if s.now().Before(unlock) {
			return apperr.ErrLockPeriodActive.WithMessage("locked until %s", unlock.Format(time.RFC3339))
		}
		// Part of the members' capital may be lent out
		if amount > fund.Vault {
			return apperr.ErrInsufficientPool.WithMessage("vault %d, requested %d", fund.Vault, amount)
		}

		bal.Balance -= amount
		fund.Vault -= amount
		if bal.Balance == 0 {
			if err := removeInvestor(ctx, tx, bal.Position); err != nil {
				return err
			}
		}
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}
		if err := tx.SaveFund(ctx, fund); err != nil {
			return err
		}
		return s.send(ctx, tx, models.Payout{
			Key:       "withdrawal-" + uuid.NewString(),
			Kind:      models.PayoutWithdrawal,
			To:        caller,
			Amount:    amount,
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return models.MemberBalance{}, err
	}
	s.log.Infof("Withdrawal of %d by %s, balance %d", amount, bal.Member, bal.Balance)
	s.recordFund(ctx)
	return bal, nil
}

// SetDepositLockTime raises the deposit lock period
func (s *Service) SetDepositLockTime(ctx context.Context, lock time.Duration) error {
	err := s.run(ctx, "set_deposit_lock_time", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		if lock <= fund.DepositLockTime {
			return apperr.ErrLockTimeTooShort.WithMessage("lock time %s must exceed %s", lock, fund.DepositLockTime)
		}
		fund.DepositLockTime = lock
		return tx.SaveFund(ctx, fund)
	})
	if err == nil {
		s.log.Infof("Deposit lock time set to %s", lock)
	}
	return err
}

// GetBalance returns the ledger entry of a member; absent members have zero balance
func (s *Service) GetBalance(ctx context.Context, member string) (models.MemberBalance, error) {
	var bal models.MemberBalance
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		bal, _, err = tx.GetBalance(ctx, member)
		return err
	})
	bal.Member = member
	return bal, err
}

// appendInvestor adds member at the end of the investor index
func appendInvestor(ctx context.Context, tx repository.Tx, member string) (int, error) {
	pos, err := tx.InvestorCount(ctx)
	if err != nil {
		return 0, err
	}
	return pos, tx.SetInvestor(ctx, pos, member)
}

// removeInvestor drops the entry at position by moving the last entry into
// its slot and truncating, keeping positions dense
func removeInvestor(ctx context.Context, tx repository.Tx, position int) error {
	n, err := tx.InvestorCount(ctx)
	if err != nil {
		return err
	}
	last := n - 1
	if position != last {
		moved, err := tx.InvestorAt(ctx, last)
		if err != nil {
			return err
		}
		if err := tx.SetInvestor(ctx, position, moved); err != nil {
			return err
		}
		movedBal, _, err := tx.GetBalance(ctx, moved)
		if err != nil {
			return err
		}
		movedBal.Position = position
		if err := tx.SaveBalance(ctx, movedBal); err != nil {
			return err
		}
	}
	return tx.TruncateInvestors(ctx, last)
}
