package notifier

import (
	"context"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotifier(recipients []string) (*EmailNotifier, *[]*email.Email) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		SMTPHost:     "smtp.example.org",
		SMTPPort:     "587",
		SenderEmail:  "fund@example.org",
		NotifyEmails: recipients,
	}
	n := NewEmailNotifier(cfg, log)
	sent := &[]*email.Email{}
	n.send = func(e *email.Email, addr string, _ smtp.Auth) error {
		if addr != "smtp.example.org:587" {
			return errors.New("unexpected address " + addr)
		}
		*sent = append(*sent, e)
		return nil
	}
	return n, sent
}

func TestComposeEmail(t *testing.T) {
	n, _ := testNotifier([]string{"board@example.org"})
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	e := n.compose(Event{
		Type:      EventLoanGranted,
		Member:    "alice",
		Reference: 7,
		Amount:    1500,
		Message:   "Loan 7 was disbursed.",
	}, at)

	assert.Equal(t, "fund@example.org", e.From)
	assert.Equal(t, []string{"board@example.org"}, e.To)
	assert.Equal(t, "Loan #7 disbursed", e.Subject)
	text := string(e.Text)
	assert.Contains(t, text, "Loan 7 was disbursed.")
	assert.Contains(t, text, "Member: alice\n")
	assert.Contains(t, text, "Reference: 7\n")
	assert.Contains(t, text, "Amount: 1500\n")
	assert.Contains(t, text, "Time: 2024-03-01 12:30:00\n")
}

func TestComposeOmitsEmptyFields(t *testing.T) {
	n, _ := testNotifier([]string{"board@example.org"})
	e := n.compose(Event{Type: EventDistributionComplete, Message: "done"}, time.Now())

	assert.Equal(t, "Interest distribution completed", e.Subject)
	text := string(e.Text)
	assert.NotContains(t, text, "Member:")
	assert.NotContains(t, text, "Reference:")
	assert.NotContains(t, text, "Amount:")
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		evt  Event
		want string
	}{
		{Event{Type: EventApplicationCreated, Reference: 1}, "Loan application #1 submitted"},
		{Event{Type: EventApplicationApproved, Reference: 2}, "Loan application #2 approved"},
		{Event{Type: EventApplicationDeclined, Reference: 3}, "Loan application #3 declined"},
		{Event{Type: EventMoreProofRequested, Reference: 4}, "More documents needed for application #4"},
		{Event{Type: EventBallotCreated, Reference: 5}, "Ballot #5 opened"},
		{Event{Type: EventCommitteeAssigned, Reference: 6}, "Committee selected for ballot #6"},
		{Event{Type: EventBallotFinalized, Reference: 7}, "Ballot #7 closed"},
		{Event{Type: EventLoanRepaid, Reference: 8}, "Repayment received for loan #8"},
		{Event{Type: "other"}, "Fund notification"},
	}
	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, subjectFor(tt.evt))
		})
	}
}

func TestNotifySends(t *testing.T) {
	n, sent := testNotifier([]string{"a@example.org", "b@example.org"})

	err := n.Notify(context.Background(), Event{Type: EventBallotCreated, Reference: 3, Message: "open"})
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Equal(t, "Ballot #3 opened", (*sent)[0].Subject)
	assert.Len(t, (*sent)[0].To, 2)
}

func TestNotifyWithoutRecipientsIsNoop(t *testing.T) {
	n, sent := testNotifier(nil)

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventBallotCreated}))
	assert.Empty(t, *sent)
}

func TestNotifySendFailure(t *testing.T) {
	n, _ := testNotifier([]string{"a@example.org"})
	n.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }

	err := n.Notify(context.Background(), Event{Type: EventLoanRepaid, Reference: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
