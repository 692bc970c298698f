// Package ledger is the wallet's balance-mutation engine. Every operation
// that moves money runs as one atomic unit: the debit, the credit and the
// transaction rows commit together or not at all, and no balance ever goes
// negative.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

// Ledger mutates balances and appends the transaction history.
type Ledger struct {
	store store.Store
	sink  notify.Sink
	cur   notify.Currency
	log   *zap.Logger
}

// New builds a ledger over the given store.
func New(s store.Store, sink notify.Sink, cur notify.Currency, log *zap.Logger) *Ledger {
	return &Ledger{store: s, sink: sink, cur: cur, log: log}
}

// Transfer moves amount from the sender to the user named by
// recipientUsername. Both accounts are locked in ascending id order, all
// checks re-run under the locks, and the debit, credit and both history rows
// commit as one unit. Each party is notified after the commit.
func (l *Ledger) Transfer(ctx context.Context, senderID uuid.UUID, recipientUsername string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return faults.Validation("Amount must be greater than zero.")
	}

	var sender, recipient *models.User
	err := l.store.Atomic(ctx, func(s store.Store) error {
		var err error
		sender, err = s.UserByID(ctx, senderID)
		if err != nil {
			return err
		}
		recipient, err = s.UserByUsername(ctx, recipientUsername)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.NotFound("Recipient not found or invalid.")
			}
			return err
		}
		if recipient.ID == senderID {
			return faults.NotFound("Recipient not found or invalid.")
		}

		locked, err := s.LockUsers(ctx, sender.ID, recipient.ID)
		if err != nil {
			return err
		}
		sender, recipient = locked[sender.ID], locked[recipient.ID]

		if sender.Frozen {
			return faults.Authorization("Your account is frozen. Contact admin.")
		}
		if sender.Balance.LessThan(amount) {
			return faults.Conflict("Insufficient balance for transfer.")
		}

		if err := s.Debit(ctx, sender.ID, amount); err != nil {
			return err
		}
		if err := s.Credit(ctx, recipient.ID, amount); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, &models.Transaction{
			UserID:      sender.ID,
			RecipientID: &recipient.ID,
			Amount:      amount,
			Kind:        models.TxTransferSent,
			Description: "Transfer to " + recipient.Username,
		}); err != nil {
			return err
		}
		return s.AppendTransaction(ctx, &models.Transaction{
			UserID:      recipient.ID,
			RecipientID: &sender.ID,
			Amount:      amount,
			Kind:        models.TxTransferReceived,
			Description: "Transfer from " + sender.Username,
		})
	})
	if err != nil {
		return err
	}

	l.log.Info("transfer committed",
		zap.String("sender_id", sender.ID.String()),
		zap.String("recipient_id", recipient.ID.String()),
		zap.String("amount", amount.String()))
	l.sink.Notify(sender.ID, sender.ID,
		"You have transferred "+l.cur.Format(amount)+" to "+recipient.Username+".")
	l.sink.Notify(recipient.ID, sender.ID,
		"You have received "+l.cur.Format(amount)+" from "+sender.Username+".")
	return nil
}

// AdminCredit adds amount to the target's balance and records a deposit
// entry. Runs inside the caller's unit of work.
func (l *Ledger) AdminCredit(ctx context.Context, s store.Store, targetID, adminID uuid.UUID, amount decimal.Decimal) error {
	if err := s.Credit(ctx, targetID, amount); err != nil {
		return err
	}
	return s.AppendTransaction(ctx, &models.Transaction{
		UserID:      targetID,
		AdminID:     &adminID,
		Amount:      amount,
		Kind:        models.TxDeposit,
		Description: "Admin added balance",
	})
}

// AdminDebit removes amount from the target's balance and records a
// withdrawal entry. Runs inside the caller's unit of work; the target must
// still cover the amount.
func (l *Ledger) AdminDebit(ctx context.Context, s store.Store, targetID, adminID uuid.UUID, amount decimal.Decimal) error {
	if err := s.Debit(ctx, targetID, amount); err != nil {
		return err
	}
	return s.AppendTransaction(ctx, &models.Transaction{
		UserID:      targetID,
		AdminID:     &adminID,
		Amount:      amount,
		Kind:        models.TxWithdrawal,
		Description: "Admin removed balance",
	})
}

// LoanCredit disburses an approved loan into the user's balance. Runs inside
// the caller's unit of work.
func (l *Ledger) LoanCredit(ctx context.Context, s store.Store, targetID, adminID uuid.UUID, amount decimal.Decimal) error {
	if err := s.Credit(ctx, targetID, amount); err != nil {
		return err
	}
	return s.AppendTransaction(ctx, &models.Transaction{
		UserID:      targetID,
		AdminID:     &adminID,
		Amount:      amount,
		Kind:        models.TxLoanCredit,
		Description: "Loan credited by admin",
	})
}

// LoanPayment settles a loan out of the user's balance. Runs inside the
// caller's unit of work.
func (l *Ledger) LoanPayment(ctx context.Context, s store.Store, userID, loanID uuid.UUID, amount decimal.Decimal) error {
	if err := s.Debit(ctx, userID, amount); err != nil {
		return err
	}
	return s.AppendTransaction(ctx, &models.Transaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        models.TxLoanPayment,
		Description: "Loan payment for Loan ID: " + loanID.String(),
	})
}

// RequestTransfer moves amount from payer to payee when a money request is
// accepted, recording the usual transfer pair. Runs inside the caller's unit
// of work; the caller holds locks on both users.
func (l *Ledger) RequestTransfer(ctx context.Context, s store.Store, payerID, payeeID uuid.UUID, amount decimal.Decimal) error {
	if err := s.Debit(ctx, payerID, amount); err != nil {
		return err
	}
	if err := s.Credit(ctx, payeeID, amount); err != nil {
		return err
	}
	if err := s.AppendTransaction(ctx, &models.Transaction{
		UserID:      payerID,
		RecipientID: &payeeID,
		Amount:      amount,
		Kind:        models.TxTransferSent,
		Description: "Accepted money request",
	}); err != nil {
		return err
	}
	return s.AppendTransaction(ctx, &models.Transaction{
		UserID:      payeeID,
		RecipientID: &payerID,
		Amount:      amount,
		Kind:        models.TxTransferReceived,
		Description: "Received from money request",
	})
}

// History returns the user's most recent transactions.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	return l.store.TransactionsByUser(ctx, userID, limit)
}

// All returns the most recent transactions across every account.
func (l *Ledger) All(ctx context.Context, limit int) ([]*models.Transaction, error) {
	return l.store.AllTransactions(ctx, limit)
}
