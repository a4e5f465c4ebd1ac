package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/repository"
)

// CreateApplication submits a loan application for the caller
func (s *Service) CreateApplication(ctx context.Context, amount int64, term int) (models.Application, error) {
	var app models.Application
	err := s.run(ctx, "create_application", func(tx repository.Tx) error {
		borrower, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if amount <= 0 || amount > s.policy.MaxLoanAmount {
			return apperr.ErrInvalidAmount.WithMessage("amount %d outside 1..%d", amount, s.policy.MaxLoanAmount)
		}
		if term <= 0 || term > s.policy.MaxLoanTerm {
			return apperr.ErrInvalidTerm.WithMessage("term %d outside 1..%d", term, s.policy.MaxLoanTerm)
		}
		done, err := s.incubationComplete(ctx, tx, borrower)
		if err != nil {
			return err
		}
		if !done {
			return apperr.ErrIncubationNotComplete.WithMessage("%s has not completed incubation", borrower)
		}

		id, err := tx.NextID(ctx, repository.SeqApplications)
		if err != nil {
			return err
		}
		app = models.Application{
			ID:        id,
			Borrower:  borrower,
			Amount:    amount,
			Term:      term,
			State:     models.ApplicationCreated,
			CreatedAt: s.now(),
		}
		// No committee step is needed before the application can be reviewed
		app.State = models.ApplicationWaitingForApproval
		return tx.SaveApplication(ctx, app)
	})
	if err != nil {
		return models.Application{}, err
	}

	s.log.Infof("Application %d created by %s for %d over %d", app.ID, app.Borrower, app.Amount, app.Term)
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventApplicationCreated,
		Member:    app.Borrower,
		Reference: app.ID,
		Amount:    app.Amount,
		Message:   fmt.Sprintf("Application %d was submitted.", app.ID),
	})
	return app, nil
}

// GetApplication returns an application by id
func (s *Service) GetApplication(ctx context.Context, id int64) (models.Application, error) {
	var app models.Application
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		app, err = loadApplication(ctx, tx, id)
		return err
	})
	return app, err
}

func loadApplication(ctx context.Context, tx repository.Tx, id int64) (models.Application, error) {
	app, ok, err := tx.GetApplication(ctx, id)
	if err != nil {
		return models.Application{}, err
	}
	if !ok {
		return models.Application{}, apperr.ErrNotFound.WithMessage("application %d not found", id)
	}
	return app, nil
}

// approve moves a waiting application to APPROVED
func (s *Service) approve(ctx context.Context, tx repository.Tx, app *models.Application, amount int64) error {
	if app.State != models.ApplicationWaitingForApproval {
		return apperr.ErrNotInApprovableState.WithMessage("application %d is %s", app.ID, app.State)
	}
	now := s.now()
	app.State = models.ApplicationApproved
	app.ApprovedAmount = amount
	app.ApprovedAt = &now
	return tx.SaveApplication(ctx, *app)
}

func (s *Service) decline(ctx context.Context, tx repository.Tx, app *models.Application) error {
	if app.State != models.ApplicationWaitingForApproval {
		return apperr.ErrNotInApprovableState.WithMessage("application %d is %s", app.ID, app.State)
	}
	app.State = models.ApplicationDeclined
	return tx.SaveApplication(ctx, *app)
}

// ApproveApplication approves a waiting application for approvedAmount
func (s *Service) ApproveApplication(ctx context.Context, id int64, approvedAmount int64) (models.Application, error) {
	var app models.Application
	err := s.run(ctx, "approve_application", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if approvedAmount <= 0 || approvedAmount > s.policy.MaxLoanAmount {
			return apperr.ErrInvalidAmount.WithMessage("approved amount %d outside 1..%d", approvedAmount, s.policy.MaxLoanAmount)
		}
		var err error
		if app, err = loadApplication(ctx, tx, id); err != nil {
			return err
		}
		return s.approve(ctx, tx, &app, approvedAmount)
	})
	if err != nil {
		return models.Application{}, err
	}
	s.log.Infof("Application %d approved for %d", app.ID, app.ApprovedAmount)
	s.publishDecision(ctx, app)
	return app, nil
}

// DeclineApplication declines a waiting application
func (s *Service) DeclineApplication(ctx context.Context, id int64) (models.Application, error) {
	var app models.Application
	err := s.run(ctx, "decline_application", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		var err error
		if app, err = loadApplication(ctx, tx, id); err != nil {
			return err
		}
		return s.decline(ctx, tx, &app)
	})
	if err != nil {
		return models.Application{}, err
	}
	s.log.Infof("Application %d declined", app.ID)
	s.publishDecision(ctx, app)
	return app, nil
}

// RequestMoreProof asks the borrower for more documents
func (s *Service) RequestMoreProof(ctx context.Context, id int64) (models.Application, error) {
	var app models.Application
	err := s.run(ctx, "request_more_proof", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		var err error
		if app, err = loadApplication(ctx, tx, id); err != nil {
			return err
		}
		if app.State != models.ApplicationWaitingForApproval {
			return apperr.ErrWrongState.WithMessage("application %d is %s", app.ID, app.State)
		}
		app.State = models.ApplicationMoreDocumentsNeeded
		return tx.SaveApplication(ctx, app)
	})
	if err != nil {
		return models.Application{}, err
	}
	s.publish(ctx, notifier.Event{
		Type:      notifier.EventMoreProofRequested,
		Member:    app.Borrower,
		Reference: app.ID,
		Message:   fmt.Sprintf("Application %d needs more documents.", app.ID),
	})
	return app, nil
}

// ProvideMoreProof returns the caller's application to review
func (s *Service) ProvideMoreProof(ctx context.Context, id int64) (models.Application, error) {
	var app models.Application
	err := s.run(ctx, "provide_more_proof", func(tx repository.Tx) error {
		caller, err := callerFrom(ctx)
		if err != nil {
			return err
		}
		if app, err = loadApplication(ctx, tx, id); err != nil {
			return err
		}
		if app.Borrower != caller {
			return apperr.ErrUnauthorized.WithMessage("application %d belongs to another borrower", id)
		}
		if app.State != models.ApplicationMoreDocumentsNeeded {
			return apperr.ErrWrongState.WithMessage("application %d is %s", app.ID, app.State)
		}
		app.State = models.ApplicationWaitingForApproval
		return tx.SaveApplication(ctx, app)
	})
	if err != nil {
		return models.Application{}, err
	}
	s.log.Infof("Application %d back to review", app.ID)
	return app, nil
}

func (s *Service) publishDecision(ctx context.Context, app models.Application) {
	evt := notifier.Event{Member: app.Borrower, Reference: app.ID}
	if app.State == models.ApplicationApproved {
		evt.Type = notifier.EventApplicationApproved
		evt.Amount = app.ApprovedAmount
		evt.Message = fmt.Sprintf("Application %d was approved.", app.ID)
	} else {
		evt.Type = notifier.EventApplicationDeclined
		evt.Message = fmt.Sprintf("Application %d was declined.", app.ID)
	}
	s.publish(ctx, evt)
}
