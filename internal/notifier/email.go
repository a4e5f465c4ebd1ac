package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// sendFunc delivers a prepared message; replaced in tests
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// EmailNotifier sends event notifications via SMTP
type EmailNotifier struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   sendFunc
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.Config, logger *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Notify sends the event to the configured recipients
func (n *EmailNotifier) Notify(_ context.Context, evt Event) error {
	if len(n.cfg.NotifyEmails) == 0 {
		return nil
	}
	e := n.compose(evt, time.Now())

	addr := fmt.Sprintf("%s:%s", n.cfg.SMTPHost, n.cfg.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	if err := n.send(e, addr, auth); err != nil {
		n.logger.Errorf("Failed to send %s notification: %v", evt.Type, err)
		return fmt.Errorf("failed to send %s notification: %w", evt.Type, err)
	}

	n.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ","), e.Subject)
	return nil
}

func (n *EmailNotifier) compose(evt Event, at time.Time) *email.Email {
	e := email.NewEmail()
	e.From = n.cfg.SenderEmail
	e.To = append([]string(nil), n.cfg.NotifyEmails...)
	e.Subject = subjectFor(evt)

	var body strings.Builder
	body.WriteString("Hello,\n\n")
	body.WriteString(evt.Message)
	body.WriteString("\n\n")
	if evt.Member != "" {
		fmt.Fprintf(&body, "Member: %s\n", evt.Member)
	}
	if evt.Reference != 0 {
		fmt.Fprintf(&body, "Reference: %d\n", evt.Reference)
	}
	if evt.Amount != 0 {
		fmt.Fprintf(&body, "Amount: %d\n", evt.Amount)
	}
	fmt.Fprintf(&body, "Time: %s\n", at.Format("2006-01-02 15:04:05"))
	body.WriteString("\nBest regards,\nMutual Fund")
	e.Text = []byte(body.String())
	return e
}

func subjectFor(evt Event) string {
	switch evt.Type {
	case EventApplicationCreated:
		return fmt.Sprintf("Loan application #%d submitted", evt.Reference)
	case EventApplicationApproved:
		return fmt.Sprintf("Loan application #%d approved", evt.Reference)
	case EventApplicationDeclined:
		return fmt.Sprintf("Loan application #%d declined", evt.Reference)
	case EventMoreProofRequested:
		return fmt.Sprintf("More documents needed for application #%d", evt.Reference)
	case EventBallotCreated:
		return fmt.Sprintf("Ballot #%d opened", evt.Reference)
	case EventCommitteeAssigned:
		return fmt.Sprintf("Committee selected for ballot #%d", evt.Reference)
	case EventBallotFinalized:
		return fmt.Sprintf("Ballot #%d closed", evt.Reference)
	case EventLoanGranted:
		return fmt.Sprintf("Loan #%d disbursed", evt.Reference)
	case EventLoanRepaid:
		return fmt.Sprintf("Repayment received for loan #%d", evt.Reference)
	case EventDistributionComplete:
		return "Interest distribution completed"
	default:
		return "Fund notification"
	}
}
