// Package requests brokers peer money requests: a sender asks a recipient
// for money; the recipient either accepts, moving the money through the
// ledger, or rejects. Both outcomes are terminal.
package requests

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

// Engine is the money-request state machine.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	sink   notify.Sink
	cur    notify.Currency
	log    *zap.Logger
}

// New builds a money-request engine.
func New(s store.Store, l *ledger.Ledger, sink notify.Sink, cur notify.Currency, log *zap.Logger) *Engine {
	return &Engine{store: s, ledger: l, sink: sink, cur: cur, log: log}
}

// Create inserts a pending request and notifies the recipient. Creation is
// only ever reached through the confirmation protocol: callers stage the
// command and the confirmation dispatcher invokes this after the PIN check.
func (e *Engine) Create(ctx context.Context, senderID uuid.UUID, recipientUsername string, amount decimal.Decimal) (*models.MoneyRequest, error) {
	if amount.Sign() <= 0 {
		return nil, faults.Validation("Invalid recipient or amount.")
	}

	var sender, recipient *models.User
	request := &models.MoneyRequest{Amount: amount, Status: models.RequestPending}
	err := e.store.Atomic(ctx, func(s store.Store) error {
		var err error
		sender, err = s.UserByID(ctx, senderID)
		if err != nil {
			return err
		}
		if sender.Frozen {
			return faults.Authorization("Your account is frozen. Contact admin.")
		}
		recipient, err = s.UserByUsername(ctx, recipientUsername)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.NotFound("Invalid recipient or amount.")
			}
			return err
		}
		if recipient.ID == senderID {
			return faults.NotFound("Invalid recipient or amount.")
		}
		request.SenderID = senderID
		request.RecipientID = recipient.ID
		return s.CreateMoneyRequest(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("money request created",
		zap.String("request_id", request.ID.String()),
		zap.String("sender_id", senderID.String()))
	e.sink.Notify(recipient.ID, senderID,
		"You have a new money request of "+e.cur.Format(amount)+" from "+sender.Username+" (ID: "+request.ID.String()+")")
	return request, nil
}

// Accept moves the requested amount from the recipient to the sender. The
// status flip is compare-and-set, so a request can be settled exactly once;
// the transfer pair and the flip commit as one unit.
func (e *Engine) Accept(ctx context.Context, recipientID, requestID uuid.UUID) error {
	var request *models.MoneyRequest
	err := e.store.Atomic(ctx, func(s store.Store) error {
		var err error
		request, err = s.MoneyRequestByID(ctx, requestID)
		if err != nil {
			if faults.IsNotFound(err) {
				return faults.NotFound("Invalid request or insufficient balance.")
			}
			return err
		}
		if request.RecipientID != recipientID || request.Status != models.RequestPending {
			return faults.Conflict("Invalid request or insufficient balance.")
		}

		locked, err := s.LockUsers(ctx, request.SenderID, request.RecipientID)
		if err != nil {
			return err
		}
		payer := locked[request.RecipientID]
		if payer.Frozen {
			return faults.Authorization("Your account is frozen. Contact admin.")
		}
		if payer.Balance.LessThan(request.Amount) {
			return faults.Conflict("Invalid request or insufficient balance.")
		}

		if err := s.SetMoneyRequestStatus(ctx, requestID, models.RequestPending, models.RequestAccepted); err != nil {
			return err
		}
		return e.ledger.RequestTransfer(ctx, s, request.RecipientID, request.SenderID, request.Amount)
	})
	if err != nil {
		return err
	}

	e.log.Info("money request accepted",
		zap.String("request_id", requestID.String()),
		zap.String("recipient_id", recipientID.String()))
	e.sink.Notify(request.SenderID, recipientID,
		"Your money request of "+e.cur.Format(request.Amount)+" has been accepted.")
	return nil
}

// Reject marks a pending request rejected. No balances change.
func (e *Engine) Reject(ctx context.Context, recipientID, requestID uuid.UUID) error {
	return e.store.Atomic(ctx, func(s store.Store) error {
		request, err := s.MoneyRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.RecipientID != recipientID {
			return faults.Conflict("Money request not found or already processed.")
		}
		return s.SetMoneyRequestStatus(ctx, requestID, models.RequestPending, models.RequestRejected)
	})
}

// PendingFor lists pending requests addressed to the recipient, newest
// first.
func (e *Engine) PendingFor(ctx context.Context, recipientID uuid.UUID) ([]*models.MoneyRequest, error) {
	return e.store.PendingMoneyRequests(ctx, recipientID)
}
