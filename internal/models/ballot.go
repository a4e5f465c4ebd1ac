package models

import "time"

// BallotState is the ballot lifecycle state
type BallotState string

const (
	BallotCreated  BallotState = "CREATED"
	BallotFinished BallotState = "FINISHED"
)

// CommitteeStatus tracks randomized committee selection for a ballot
type CommitteeStatus string

const (
	CommitteeNone      CommitteeStatus = "NONE"
	CommitteeRequested CommitteeStatus = "REQUESTED"
	CommitteeAssigned  CommitteeStatus = "ASSIGNED"
)

// Ballot is the committee vote record for one loan application
type Ballot struct {
	ID              int64           `json:"id"`
	ApplicationID   int64           `json:"application_id"`
	Borrower        string          `json:"borrower"`
	ConfirmCount    int             `json:"confirm_count"`
	DeclineCount    int             `json:"decline_count"`
	CommitteeSize   int             `json:"committee_size"`
	CommitteeStatus CommitteeStatus `json:"committee_status"`
	State           BallotState     `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
	Deadline        time.Time       `json:"deadline"`
}

// Votes returns the number of votes cast
func (b *Ballot) Votes() int {
	return b.ConfirmCount + b.DeclineCount
}

// Voter is a committee slot on a ballot; Voted is the explicit has-voted flag
type Voter struct {
	BallotID int64      `json:"ballot_id"`
	Member   string     `json:"member"`
	Voted    bool       `json:"voted"`
	Confirm  bool       `json:"confirm"`
	VotedAt  *time.Time `json:"voted_at,omitempty"`
}

// BallotOutcome is the result of finalizing a ballot
type BallotOutcome string

const (
	OutcomeApproved BallotOutcome = "APPROVED"
	OutcomeDeclined BallotOutcome = "DECLINED"
	OutcomeNoQuorum BallotOutcome = "NO_QUORUM"
)
