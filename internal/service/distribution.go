package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/repository"
)

// DistributeInterest pays one batch of the current distribution pass. The
// first call of a pass snapshots the investors, the interest pool and the
// balance basis; later calls resume from the persisted cursor until the pass
// completes. Any failed transfer aborts the whole batch; shares already sent
// are not sent again when the batch is retried.
func (s *Service) DistributeInterest(ctx context.Context) (models.Distribution, error) {
	var res models.Distribution
	err := s.run(ctx, "distribute_interest", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}

		cur := fund.Cursor
		if !cur.Active {
			if fund.InterestsReceived == 0 {
				return apperr.ErrNothingToDistribute
			}
			size, basis, err := tx.SnapshotInvestors(ctx)
			if err != nil {
				return err
			}
			if size == 0 || basis <= 0 {
				return apperr.ErrNoInvestors
			}
			pass, err := tx.NextID(ctx, repository.SeqDistributions)
			if err != nil {
				return err
			}
			cur = models.Cursor{
				Pass:   pass,
				Active: true,
				Pool:   fund.InterestsReceived,
				Basis:  basis,
				Size:   size,
			}
			s.log.Infof("Distribution pass started: pool %d over %d investors, basis %d", cur.Pool, cur.Size, cur.Basis)
		}

		entries, err := tx.SnapshotRange(ctx, cur.StartIndex, s.policy.DistributionBatchSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			share := mulDiv(cur.Pool, e.Balance, cur.Basis)
			if share == 0 {
				continue
			}
			// One key per pass and position: a retried batch skips investors already paid
			if err := s.send(ctx, tx, models.Payout{
				Key:       fmt.Sprintf("interest-%d-%d-%s", cur.Pass, e.Position, e.Member),
				Kind:      models.PayoutInterest,
				To:        e.Member,
				Amount:    share,
				Reference: int64(e.Position),
				CreatedAt: s.now(),
			}); err != nil {
				return err
			}
			cur.Paid += share
			res.Paid += share
		}
		res.Processed = len(entries)

		end := cur.StartIndex + len(entries)
		if end >= cur.Size {
			res.Complete = true
			res.Dust = cur.Pool - cur.Paid
			fund.Provision += res.Dust
			fund.InterestsReceived -= cur.Pool
			if err := tx.ClearSnapshot(ctx); err != nil {
				return err
			}
			fund.Cursor = models.Cursor{}
		} else {
			cur.StartIndex = end
			fund.Cursor = cur
		}
		res.StartIndex = fund.Cursor.StartIndex
		return tx.SaveFund(ctx, fund)
	})
	if err != nil {
		return models.Distribution{}, err
	}

	s.log.Infof("Distributed %d to %d investors, next index %d", res.Paid, res.Processed, res.StartIndex)
	s.recordFund(ctx)
	if res.Complete {
		s.publish(ctx, notifier.Event{
			Type:    notifier.EventDistributionComplete,
			Amount:  res.Paid,
			Message: fmt.Sprintf("Interest distribution pass complete, %d moved to provision.", res.Dust),
		})
	}
	return res, nil
}
