package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/mutual-fund/internal/repository"
)

// SyncInterestRate fetches the current daily lending rate and makes it the
// rate of subsequent loans. The rate source is queried outside of any
// transaction.
func (s *Service) SyncInterestRate(ctx context.Context) (int64, error) {
	if err := s.run(ctx, "sync_interest_rate", func(tx repository.Tx) error {
		_, err := requireAdmin(ctx, tx)
		return err
	}); err != nil {
		return 0, err
	}

	if s.rates == nil {
		return 0, fmt.Errorf("no rate source configured")
	}
	rate, err := s.rates.DailyRate(ctx)
	if err != nil {
		s.log.Errorf("Failed to fetch interest rate: %v", err)
		return 0, err
	}

	err = s.run(ctx, "set_interest_rate", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		fund.DailyRate = rate
		return tx.SaveFund(ctx, fund)
	})
	if err != nil {
		return 0, err
	}
	s.log.Infof("Daily interest rate set to %d", rate)
	return rate, nil
}
