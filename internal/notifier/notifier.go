package notifier

import (
	"context"

	"github.com/sirupsen/logrus"
)

// EventType names a fund event
type EventType string

const (
	EventApplicationCreated   EventType = "application_created"
	EventApplicationApproved  EventType = "application_approved"
	EventApplicationDeclined  EventType = "application_declined"
	EventMoreProofRequested   EventType = "more_proof_requested"
	EventBallotCreated        EventType = "ballot_created"
	EventCommitteeAssigned    EventType = "committee_assigned"
	EventBallotFinalized      EventType = "ballot_finalized"
	EventLoanGranted          EventType = "loan_granted"
	EventLoanRepaid           EventType = "loan_repaid"
	EventDistributionComplete EventType = "distribution_complete"
)

// Event is a state change worth telling people about
type Event struct {
	Type      EventType
	Member    string
	Reference int64
	Amount    int64
	Message   string
}

// Notifier delivers events; delivery failures never affect fund state
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// LogNotifier writes events to the log
type LogNotifier struct {
	log *logrus.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the event
func (n *LogNotifier) Notify(_ context.Context, evt Event) error {
	n.log.WithFields(logrus.Fields{
		"event":     evt.Type,
		"member":    evt.Member,
		"reference": evt.Reference,
		"amount":    evt.Amount,
	}).Info(evt.Message)
	return nil
}
