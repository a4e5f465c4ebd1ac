package models

import "time"

// ApplicationState is the loan application lifecycle state
type ApplicationState string

const (
	ApplicationCreated             ApplicationState = "CREATED"
	ApplicationWaitingForApproval  ApplicationState = "WAITING_FOR_APPROVAL"
	ApplicationMoreDocumentsNeeded ApplicationState = "MORE_DOCUMENTS_NEEDED"
	ApplicationApproved            ApplicationState = "APPROVED"
	ApplicationDeclined            ApplicationState = "DECLINED"
)

// Terminal reports whether no further transition is possible
func (s ApplicationState) Terminal() bool {
	return s == ApplicationApproved || s == ApplicationDeclined
}

// Application represents a loan application
type Application struct {
	ID             int64            `json:"id"`
	Borrower       string           `json:"borrower"`
	Amount         int64            `json:"amount"`
	Term           int              `json:"term"`
	State          ApplicationState `json:"state"`
	ApprovedAmount int64            `json:"approved_amount"`
	CreatedAt      time.Time        `json:"created_at"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
}
