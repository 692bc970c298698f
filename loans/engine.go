// Package loans runs the micro-loan lifecycle: pending → approved → paid,
// with pending → rejected as the other terminal branch. A user may hold at
// most two loans in pending or approved status, and the amounts across those
// may never exceed the ceiling.
package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

// MaxActiveLoans is the per-user cap on loans in pending or approved status.
const MaxActiveLoans = 2

// Ceiling is the maximum total amount a user may hold across active loans.
var Ceiling = decimal.NewFromInt(500000)

// Application carries the applicant fields of a loan request.
type Application struct {
	Name             string
	Address          string
	PermanentAddress string
	IDType           models.IDType
	IDNumber         string
}

// Engine is the loan request state machine.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	sink   notify.Sink
	cur    notify.Currency
	log    *zap.Logger
}

// New builds a loan engine.
func New(s store.Store, l *ledger.Ledger, sink notify.Sink, cur notify.Currency, log *zap.Logger) *Engine {
	return &Engine{store: s, ledger: l, sink: sink, cur: cur, log: log}
}

// Request validates and inserts a pending loan request. The active-loan
// count and ceiling are checked inside the unit of work so two concurrent
// requests cannot both slip under the limit.
func (e *Engine) Request(ctx context.Context, userID uuid.UUID, app Application, amount decimal.Decimal, durationDays int, termsAccepted bool) (*models.LoanRequest, error) {
	if !termsAccepted {
		return nil, faults.Validation("You must accept the terms and conditions to request a loan.")
	}
	if amount.Sign() <= 0 {
		return nil, faults.Validation("Loan amount must be greater than zero.")
	}
	if durationDays <= 0 {
		return nil, faults.Validation("Loan duration must be greater than zero.")
	}
	if app.Name == "" || app.Address == "" || app.PermanentAddress == "" || app.IDNumber == "" || app.IDType == "" {
		return nil, faults.Validation("All fields are required.")
	}
	if !models.ValidIDType(app.IDType) {
		return nil, faults.Validation("Invalid ID type.")
	}

	loan := &models.LoanRequest{
		UserID:           userID,
		Name:             app.Name,
		Address:          app.Address,
		PermanentAddress: app.PermanentAddress,
		IDType:           app.IDType,
		IDNumber:         app.IDNumber,
		Amount:           amount,
		DurationDays:     durationDays,
		Status:           models.LoanPending,
	}
	err := e.store.Atomic(ctx, func(s store.Store) error {
		locked, err := s.LockUsers(ctx, userID)
		if err != nil {
			return err
		}
		if locked[userID].Frozen {
			return faults.Authorization("Your account is frozen. Contact admin.")
		}

		count, total, err := s.ActiveLoanStats(ctx, userID)
		if err != nil {
			return err
		}
		if count >= MaxActiveLoans {
			return faults.Conflict("You have reached the maximum limit of 2 active loan requests. Please pay off an existing loan before requesting a new one.")
		}
		if total.Add(amount).GreaterThan(Ceiling) {
			return faults.Conflict("Total loan amount cannot exceed 500,000. Please pay off an existing loan first.")
		}
		return s.CreateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("loan requested",
		zap.String("loan_id", loan.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()))
	return loan, nil
}

// Approve flips a pending loan to approved, credits the borrower and records
// the audit row, all in one unit. The status flip is compare-and-set: of two
// concurrent approvals exactly one wins, the other observes a conflict.
func (e *Engine) Approve(ctx context.Context, adminID, loanID uuid.UUID) error {
	var loan *models.LoanRequest
	err := e.store.Atomic(ctx, func(s store.Store) error {
		if err := requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		var err error
		loan, err = s.LoanByID(ctx, loanID)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.NotFound("Loan request not found or already processed.")
			}
			return err
		}
		if _, err := s.LockUsers(ctx, loan.UserID); err != nil {
			return err
		}
		if err := s.SetLoanStatus(ctx, loanID, models.LoanPending, models.LoanApproved, nil); err != nil {
			return err
		}
		if err := e.ledger.LoanCredit(ctx, s, loan.UserID, adminID, loan.Amount); err != nil {
			return err
		}
		return s.AppendAdminAction(ctx, &models.AdminAction{
			AdminID:     adminID,
			UserID:      loan.UserID,
			Action:      models.ActionLoanApprove,
			Amount:      &loan.Amount,
			Description: "Admin approved loan",
		})
	})
	if err != nil {
		return err
	}
	e.log.Info("loan approved",
		zap.String("loan_id", loanID.String()),
		zap.String("admin_id", adminID.String()))
	e.sink.Notify(loan.UserID, adminID,
		"Your loan request of "+e.cur.Format(loan.Amount)+" has been approved by admin (Request ID: "+loanID.String()+").")
	return nil
}

// Reject flips a pending loan to rejected. No balance changes.
func (e *Engine) Reject(ctx context.Context, adminID, loanID uuid.UUID) error {
	var loan *models.LoanRequest
	err := e.store.Atomic(ctx, func(s store.Store) error {
		if err := requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		var err error
		loan, err = s.LoanByID(ctx, loanID)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.NotFound("Loan request not found or already processed.")
			}
			return err
		}
		if err := s.SetLoanStatus(ctx, loanID, models.LoanPending, models.LoanRejected, nil); err != nil {
			return err
		}
		return s.AppendAdminAction(ctx, &models.AdminAction{
			AdminID:     adminID,
			UserID:      loan.UserID,
			Action:      models.ActionLoanReject,
			Amount:      &loan.Amount,
			Description: "Admin rejected loan",
		})
	})
	if err != nil {
		return err
	}
	e.log.Info("loan rejected",
		zap.String("loan_id", loanID.String()),
		zap.String("admin_id", adminID.String()))
	e.sink.Notify(loan.UserID, adminID,
		"Your loan request of "+e.cur.Format(loan.Amount)+" has been rejected by admin (Request ID: "+loanID.String()+").")
	return nil
}

// Pay settles an approved loan out of the borrower's balance and marks it
// paid with a payment timestamp.
func (e *Engine) Pay(ctx context.Context, userID, loanID uuid.UUID) error {
	return e.store.Atomic(ctx, func(s store.Store) error {
		locked, err := s.LockUsers(ctx, userID)
		if err != nil {
			return err
		}
		user := locked[userID]
		if user.Frozen {
			return faults.Authorization("Your account is frozen. Contact admin.")
		}

		loan, err := s.LoanByID(ctx, loanID)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.Conflict("Invalid loan request or loan already paid.")
			}
			return err
		}
		if loan.UserID != userID || loan.Status != models.LoanApproved {
			return faults.Conflict("Invalid loan request or loan already paid.")
		}
		if user.Balance.LessThan(loan.Amount) {
			return faults.Conflict("Insufficient balance to pay the loan.")
		}

		now := time.Now().UTC()
		if err := s.SetLoanStatus(ctx, loanID, models.LoanApproved, models.LoanPaid, &now); err != nil {
			return err
		}
		return e.ledger.LoanPayment(ctx, s, userID, loanID, loan.Amount)
	})
}

// ByUser lists the user's loan requests, newest first.
func (e *Engine) ByUser(ctx context.Context, userID uuid.UUID) ([]*models.LoanRequest, error) {
	return e.store.LoansByUser(ctx, userID)
}

// ByStatus lists loan requests in the given status, newest first.
func (e *Engine) ByStatus(ctx context.Context, status models.LoanStatus) ([]*models.LoanRequest, error) {
	return e.store.LoansByStatus(ctx, status)
}

// Remaining reports how many days are left on a loan and the fraction of the
// term remaining as a percentage. Derived from the creation timestamp on
// every read; never stored.
func Remaining(l *models.LoanRequest, now time.Time) (days int, percentage float64) {
	if l.DurationDays <= 0 {
		return 0, 0
	}
	elapsed := int(now.Sub(l.CreatedAt).Hours() / 24)
	days = l.DurationDays - elapsed
	if days < 0 {
		days = 0
	}
	return days, float64(days) / float64(l.DurationDays) * 100
}

// requireAdmin rejects callers without the admin role.
func requireAdmin(ctx context.Context, s store.Store, adminID uuid.UUID) error {
	u, err := s.UserByID(ctx, adminID)
	if err != nil {
		return err
	}
	if !u.IsAdmin() {
		return faults.Authorization("You are not authorized to perform this action.")
	}
	return nil
}
