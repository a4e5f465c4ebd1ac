package models

import "time"

// PayoutKind names the operation that moved funds out of the pool
type PayoutKind string

const (
	PayoutWithdrawal   PayoutKind = "WITHDRAWAL"
	PayoutDisbursement PayoutKind = "DISBURSEMENT"
	PayoutInterest     PayoutKind = "INTEREST"
)

// Payout is a journal entry for a successful value transfer. Key identifies
// the transfer on the settlement rail; a resend with the same key is a no-op.
type Payout struct {
	Key       string     `json:"key"`
	Kind      PayoutKind `json:"kind"`
	To        string     `json:"to"`
	Amount    int64      `json:"amount"`
	Reference int64      `json:"reference"`
	CreatedAt time.Time  `json:"created_at"`
}
