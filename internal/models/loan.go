package models

import "time"

// Loan represents a disbursed loan
type Loan struct {
	ID                 int64      `json:"id"`
	ApplicationID      int64      `json:"application_id"`
	Borrower           string     `json:"borrower"`
	Amount             int64      `json:"amount"`
	Term               int        `json:"term"`
	Installments       int        `json:"installments"`
	InstallmentsRepaid int        `json:"installments_repaid"`
	GrantedAt          time.Time  `json:"granted_at"`
	LastRepaidAt       *time.Time `json:"last_repaid_at,omitempty"`
	AmountDue          int64      `json:"amount_due"`
	DailyRate          int64      `json:"daily_rate"`
	InterestPaid       int64      `json:"interest_paid"`
	FullyRepaid        bool       `json:"fully_repaid"`
}

// Repayment describes the effect of one accepted repayment
type Repayment struct {
	LoanID           int64 `json:"loan_id"`
	Interest         int64 `json:"interest"`
	PrincipalApplied int64 `json:"principal_applied"`
	Charged          int64 `json:"charged"`
	DaysLapsed       int64 `json:"days_lapsed"`
	AmountDue        int64 `json:"amount_due"`
	FullyRepaid      bool  `json:"fully_repaid"`
}
