package models

import "time"

// RandomnessStatus is the state of a committee randomness request
type RandomnessStatus string

const (
	RandomnessPending   RandomnessStatus = "PENDING"
	RandomnessFulfilled RandomnessStatus = "FULFILLED"
	RandomnessExpired   RandomnessStatus = "EXPIRED"
	RandomnessFailed    RandomnessStatus = "FAILED"
)

// RandomnessRequest maps an oracle request to the ballot awaiting a committee
type RandomnessRequest struct {
	RequestID   string           `json:"request_id"`
	BallotID    int64            `json:"ballot_id"`
	Attempt     int              `json:"attempt"`
	Status      RandomnessStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
}
