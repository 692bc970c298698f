// Package store is the durable state layer behind the wallet: user rows with
// atomic conditional writes, the append-only transaction log, loan and money
// request rows, the admin audit trail and notifications.
//
// Two implementations exist: Postgres for production and an in-memory store
// for tests and local development. Both honor the same contract:
//
//   - Atomic runs a unit of work that commits fully or not at all.
//   - LockUsers pins user rows for the rest of the unit of work, always in
//     ascending id order so opposite-direction transfers cannot deadlock.
//   - SetLoanStatus and SetMoneyRequestStatus are compare-and-set: they
//     succeed only when the row still holds the expected prior status, so
//     exactly one of two concurrent callers wins.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saugat-sapkota-2/digital-wallet/models"
)

// Store is the persistence contract shared by every engine.
type Store interface {
	// Atomic executes fn as one unit of work. Mutations made through the
	// Store handed to fn are committed if fn returns nil and rolled back
	// otherwise. Nested calls join the enclosing unit.
	Atomic(ctx context.Context, fn func(Store) error) error

	// Users.

	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// LockUsers reads the given users for update, in ascending id order.
	// Must run inside Atomic.
	LockUsers(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.User, error)
	// Credit adds amount to the user's balance.
	Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	// Debit subtracts amount, guarded so the balance can never go
	// negative even if the caller's own check has gone stale.
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	SetFrozen(ctx context.Context, id uuid.UUID, frozen bool) error
	SetPINHash(ctx context.Context, id uuid.UUID, hash string) error
	// ListUsers returns non-admin users, optionally filtered by a
	// username substring.
	ListUsers(ctx context.Context, search string) ([]*models.User, error)
	// DeleteUserCascade removes the user plus their transactions (as
	// actor or counterparty), audit rows, loans, money requests and
	// notifications.
	DeleteUserCascade(ctx context.Context, id uuid.UUID) error

	// Append-only transaction log.

	AppendTransaction(ctx context.Context, t *models.Transaction) error
	TransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
	AllTransactions(ctx context.Context, limit int) ([]*models.Transaction, error)

	// Loan requests.

	CreateLoan(ctx context.Context, l *models.LoanRequest) error
	LoanByID(ctx context.Context, id uuid.UUID) (*models.LoanRequest, error)
	// SetLoanStatus flips the status only if the row still holds from.
	SetLoanStatus(ctx context.Context, id uuid.UUID, from, to models.LoanStatus, paidAt *time.Time) error
	// ActiveLoanStats returns the count and amount sum of the user's
	// loans in pending or approved status.
	ActiveLoanStats(ctx context.Context, userID uuid.UUID) (int, decimal.Decimal, error)
	LoansByUser(ctx context.Context, userID uuid.UUID) ([]*models.LoanRequest, error)
	LoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.LoanRequest, error)

	// Money requests.

	CreateMoneyRequest(ctx context.Context, r *models.MoneyRequest) error
	MoneyRequestByID(ctx context.Context, id uuid.UUID) (*models.MoneyRequest, error)
	// SetMoneyRequestStatus flips the status only if the row still holds
	// from.
	SetMoneyRequestStatus(ctx context.Context, id uuid.UUID, from, to models.MoneyRequestStatus) error
	PendingMoneyRequests(ctx context.Context, recipientID uuid.UUID) ([]*models.MoneyRequest, error)

	// Admin audit trail.

	AppendAdminAction(ctx context.Context, a *models.AdminAction) error

	// Notifications.

	AppendNotification(ctx context.Context, n *models.Notification) error
	NotificationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error)
	MarkNotificationsSeen(ctx context.Context, userID uuid.UUID) error
}

// stampID fills a zero id with a fresh one.
func stampID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// stampTime fills a zero timestamp with now.
func stampTime(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}
