package models

import "time"

// Fund holds the pool aggregates and fund-wide settings
type Fund struct {
	Vault             int64         `json:"vault"`
	LoanOutstanding   int64         `json:"loan_outstanding"`
	InterestsReceived int64         `json:"interests_received"`
	Provision         int64         `json:"provision"`
	AccruedLoans      int64         `json:"accrued_loans"`
	AccruedInterests  int64         `json:"accrued_interests"`
	DailyRate         int64         `json:"daily_rate"`
	DepositLockTime   time.Duration `json:"deposit_lock_time"`
	CommitteeSize     int           `json:"committee_size"`
	Cursor            Cursor        `json:"cursor"`
}

// Cursor is the persisted progress of an interest distribution pass.
// Pool and Basis are fixed when a pass starts.
type Cursor struct {
	Pass       int64 `json:"pass"`
	StartIndex int   `json:"start_index"`
	Active     bool  `json:"active"`
	Pool       int64 `json:"pool"`
	Basis      int64 `json:"basis"`
	Paid       int64 `json:"paid"`
	Size       int   `json:"size"`
}

// SnapshotEntry is one investor captured at the start of a distribution pass
type SnapshotEntry struct {
	Position int    `json:"position"`
	Member   string `json:"member"`
	Balance  int64  `json:"balance"`
}

// Distribution reports the result of one distribution batch
type Distribution struct {
	Processed  int   `json:"processed"`
	Paid       int64 `json:"paid"`
	StartIndex int   `json:"start_index"`
	Complete   bool  `json:"complete"`
	Dust       int64 `json:"dust"`
}
