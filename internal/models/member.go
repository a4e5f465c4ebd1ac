package models

import "time"

// Role names a capability granted through the access registry
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleOracle Role = "oracle"
)

// Valid reports whether the role is known
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOracle
}

// Member is an entry of the membership registry
type Member struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// MemberBalance is a row of the member balance ledger
type MemberBalance struct {
	Member      string    `json:"member"`
	Balance     int64     `json:"balance"`
	DepositedAt time.Time `json:"deposited_at"`
	// Position in the investor index, meaningful only while Balance > 0
	Position int `json:"position"`
}
