package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/repository"
)

// GrantLoan disburses the approved amount of an application to its borrower
func (s *Service) GrantLoan(ctx context.Context, applicationID int64) (models.Loan, error) {
	var loan models.Loan
	err := s.run(ctx, "grant_loan", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		app, err := loadApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app.State != models.ApplicationApproved {
			return apperr.ErrApplicationNotApproved.WithMessage("application %d is %s", app.ID, app.State)
		}
		if existing, ok, err := tx.LoanIDForApplication(ctx, app.ID); err != nil {
			return err
		} else if ok {
			return apperr.ErrAlreadyGranted.WithMessage("application %d already has loan %d", app.ID, existing)
		}
		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		if fund.Vault <= app.ApprovedAmount {
			return apperr.ErrInsufficientPool.WithMessage("vault %d does not exceed %d", fund.Vault, app.ApprovedAmount)
		}

		id, err := tx.NextID(ctx, repository.SeqLoans)
		if err != nil {
			return err
		}
		loan = models.Loan{
			ID:            id,
			ApplicationID: app.ID,
			Borrower:      app.Borrower,
			Amount:        app.ApprovedAmount,
			Term:          app.Term,
			Installments:  app.Term,
			GrantedAt:     s.now(),
			AmountDue:     app.ApprovedAmount,
			DailyRate:     fund.DailyRate,
		}
		fund.Vault -= loan.Amount
		fund.LoanOutstanding += loan.Amount
		fund.AccruedLoans += loan.Amount

		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		if err := tx.SaveFund(ctx, fund); err != nil {
			return err
		}
		return s.send(ctx, tx, models.Payout{
			Key:       fmt.Sprintf("disbursement-%d", app.ID),
			Kind:      models.PayoutDisbursement,
			To:        loan.Borrower,
			Amount:    loan.Amount,
			Reference: loan.ID,
			CreatedAt: loan.GrantedAt,
		})
	})
	if err != nil {
		return models.Loan{}, err
	}

	s.log.Infof("Loan %d of %d granted to %s for application %d", loan.ID, loan.Amount, loan.Borrower, loan.ApplicationID)
	s.recordFund(ctx)
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventLoanGranted,
		Member:    loan.Borrower,
		Reference: loan.ID,
		Amount:    loan.Amount,
		Message:   fmt.Sprintf("Loan %d of %d was disbursed.", loan.ID, loan.Amount),
	})
	return loan, nil
}

// RepayLoan applies a payment from the borrower to one installment plus the
// interest accrued since the last repayment
func (s *Service) RepayLoan(ctx context.Context, loanID int64, payment int64) (models.Repayment, error) {
	var rep models.Repayment
	var borrower string
	err := s.run(ctx, "repay_loan", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if payment <= 0 {
			return apperr.ErrZeroAmount
		}
		loan, ok, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrLoanNotFound.WithMessage("loan %d not found", loanID)
		}
		if loan.Borrower != caller {
			return apperr.ErrWrongPayer.WithMessage("loan %d belongs to another borrower", loanID)
		}
		if loan.FullyRepaid {
			return apperr.ErrLoanRepaid.WithMessage("loan %d is fully repaid", loanID)
		}

		now := s.now()
		rep = computeRepayment(loan, now)
		if payment < rep.PrincipalApplied+rep.Interest {
			return apperr.ErrInsufficientPayment.WithMessage("payment %d is below %d principal plus %d interest",
				payment, rep.PrincipalApplied, rep.Interest)
		}
		// The whole payment above interest goes to principal, up to what is due
		rep.PrincipalApplied = payment - rep.Interest
		if rep.PrincipalApplied > loan.AmountDue {
			rep.PrincipalApplied = loan.AmountDue
		}
		rep.Charged = rep.PrincipalApplied + rep.Interest

		loan.InterestPaid += rep.Interest
		loan.AmountDue -= rep.PrincipalApplied
		if loan.AmountDue == 0 {
			loan.FullyRepaid = true
		}
		loan.InstallmentsRepaid++
		loan.LastRepaidAt = &now
		rep.AmountDue = loan.AmountDue
		rep.FullyRepaid = loan.FullyRepaid

		fund, err := tx.GetFund(ctx)
		if err != nil {
			return err
		}
		fund.Vault += rep.PrincipalApplied
		fund.LoanOutstanding -= rep.PrincipalApplied
		fund.AccruedInterests += rep.Interest
		fund.InterestsReceived += rep.Interest

		borrower = loan.Borrower
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		return tx.SaveFund(ctx, fund)
	})
	if err != nil {
		return models.Repayment{}, err
	}

	s.log.Infof("Loan %d repaid: principal %d, interest %d, due %d", rep.LoanID, rep.PrincipalApplied, rep.Interest, rep.AmountDue)
	s.recordFund(ctx)
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventLoanRepaid,
		Member:    borrower,
		Reference: rep.LoanID,
		Amount:    rep.Charged,
		Message:   fmt.Sprintf("Repayment of %d received for loan %d, %d still due.", rep.Charged, rep.LoanID, rep.AmountDue),
	})
	return rep, nil
}

// computeRepayment returns the minimum installment for loan at now:
// PrincipalApplied holds the installment principal
func computeRepayment(loan models.Loan, now time.Time) models.Repayment {
	since := loan.GrantedAt
	if loan.LastRepaidAt != nil && loan.LastRepaidAt.After(since) {
		since = *loan.LastRepaidAt
	}
	days := wholeDays(since, now)

	principal := loan.AmountDue
	if loan.Installments > 0 && loan.InstallmentsRepaid+1 < loan.Installments {
		principal = loan.Amount / int64(loan.Installments)
		if principal > loan.AmountDue {
			principal = loan.AmountDue
		}
	}
	return models.Repayment{
		LoanID:           loan.ID,
		Interest:         interestFor(loan.AmountDue, days, loan.DailyRate),
		PrincipalApplied: principal,
		DaysLapsed:       days,
		AmountDue:        loan.AmountDue,
	}
}

// QuoteRepayment returns the minimum payment the next installment of a loan
// requires right now
func (s *Service) QuoteRepayment(ctx context.Context, loanID int64) (models.Repayment, error) {
	var rep models.Repayment
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		loan, err := loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.FullyRepaid {
			return apperr.ErrLoanRepaid.WithMessage("loan %d is fully repaid", loanID)
		}
		rep = computeRepayment(loan, s.now())
		rep.Charged = rep.PrincipalApplied + rep.Interest
		return nil
	})
	return rep, err
}

// GetLoan returns a loan by id
func (s *Service) GetLoan(ctx context.Context, id int64) (models.Loan, error) {
	var loan models.Loan
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = loadLoan(ctx, tx, id)
		return err
	})
	return loan, err
}

func loadLoan(ctx context.Context, tx repository.Tx, id int64) (models.Loan, error) {
	loan, ok, err := tx.GetLoan(ctx, id)
	if err != nil {
		return models.Loan{}, err
	}
	if !ok {
		return models.Loan{}, apperr.ErrLoanNotFound.WithMessage("loan %d not found", id)
	}
	return loan, nil
}
