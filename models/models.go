// Package models holds the wallet's domain records as they are persisted:
// users, transactions, loan requests, money requests, admin audit rows and
// notifications.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role distinguishes standard wallet users from administrators.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// User is a wallet account. Balance is mutated only through the ledger and
// admin operations and never goes negative.
type User struct {
	ID        uuid.UUID       `json:"id"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	Frozen    bool            `json:"frozen"`
	PINHash   string          `json:"-"`
	Role      Role            `json:"role"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// HasPIN reports whether a confirmation PIN has been set.
func (u *User) HasPIN() bool { return u.PINHash != "" }

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	TxTransferSent     TransactionKind = "transfer_sent"
	TxTransferReceived TransactionKind = "transfer_received"
	TxDeposit          TransactionKind = "deposit"
	TxWithdrawal       TransactionKind = "withdrawal"
	TxLoanCredit       TransactionKind = "loan_credit"
	TxLoanPayment      TransactionKind = "loan_payment"
)

// Transaction is one append-only ledger entry. Rows are immutable once
// written; "most recent" listings order by (created_at, id) descending.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	RecipientID *uuid.UUID      `json:"recipient_id,omitempty"`
	AdminID     *uuid.UUID      `json:"admin_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        TransactionKind `json:"type"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LoanStatus is the loan lifecycle state. paid and rejected are terminal.
type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanPaid     LoanStatus = "paid"
)

// IDType is the applicant's accepted identity document type.
type IDType string

const (
	IDCitizenship    IDType = "citizenship"
	IDNationalCard   IDType = "nic"
	IDDrivingLicense IDType = "driving_license"
)

// ValidIDType reports whether t is one of the accepted document types.
func ValidIDType(t IDType) bool {
	switch t {
	case IDCitizenship, IDNationalCard, IDDrivingLicense:
		return true
	}
	return false
}

// LoanRequest is a user's micro-loan application and its lifecycle state.
type LoanRequest struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Name             string          `json:"name"`
	Address          string          `json:"address"`
	PermanentAddress string          `json:"permanent_address"`
	IDType           IDType          `json:"id_type"`
	IDNumber         string          `json:"id_number"`
	Amount           decimal.Decimal `json:"loan_amount"`
	DurationDays     int             `json:"duration_days"`
	Status           LoanStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
}

// Active reports whether the loan counts against the per-user limits.
func (l *LoanRequest) Active() bool {
	return l.Status == LoanPending || l.Status == LoanApproved
}

// MoneyRequestStatus is the peer money-request state. accepted and rejected
// are terminal.
type MoneyRequestStatus string

const (
	RequestPending  MoneyRequestStatus = "pending"
	RequestAccepted MoneyRequestStatus = "accepted"
	RequestRejected MoneyRequestStatus = "rejected"
)

// MoneyRequest asks the recipient to send the sender money. Sender and
// recipient are always distinct users.
type MoneyRequest struct {
	ID          uuid.UUID          `json:"id"`
	SenderID    uuid.UUID          `json:"sender_id"`
	RecipientID uuid.UUID          `json:"recipient_id"`
	Amount      decimal.Decimal    `json:"amount"`
	Status      MoneyRequestStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// AdminActionKind classifies an audited privileged mutation.
type AdminActionKind string

const (
	ActionAddBalance    AdminActionKind = "add_balance"
	ActionRemoveBalance AdminActionKind = "remove_balance"
	ActionLoanApprove   AdminActionKind = "loan_approve"
	ActionLoanReject    AdminActionKind = "loan_reject"
	ActionFreeze        AdminActionKind = "freeze"
	ActionUnfreeze      AdminActionKind = "unfreeze"
)

// AdminAction is an immutable audit record of an admin acting on a user.
type AdminAction struct {
	ID          uuid.UUID        `json:"id"`
	AdminID     uuid.UUID        `json:"admin_id"`
	UserID      uuid.UUID        `json:"user_id"`
	Action      AdminActionKind  `json:"action"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notification is a durable fire-and-forget event message shown to a user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Message   string    `json:"message"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}
