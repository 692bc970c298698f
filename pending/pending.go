// Package pending implements the two-phase confirmation protocol that gates
// every money-moving action: a command is staged against the caller's
// session, then applied only after the caller confirms with their PIN.
//
// Staging holds no locks and closes no race by itself. The guarantee comes
// from the confirm step: after the PIN matches, the staged command is handed
// to its engine, which re-validates every business invariant against current
// state before applying. The staged entry is cleared unconditionally once a
// confirmation is attempted, whatever the outcome.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/admin"
	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/requests"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

// KeyPrefix namespaces staged actions in Redis.
const KeyPrefix = "pending_action:"

// Kind identifies which operation a staged action will apply.
type Kind string

const (
	KindTransfer           Kind = "transfer"
	KindRequestMoney       Kind = "request_money"
	KindAdminAddBalance    Kind = "admin_add_balance"
	KindAdminRemoveBalance Kind = "admin_remove_balance"
)

func validKind(k Kind) bool {
	switch k {
	case KindTransfer, KindRequestMoney, KindAdminAddBalance, KindAdminRemoveBalance:
		return true
	}
	return false
}

// TransferPayload stages a peer transfer.
type TransferPayload struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// RequestMoneyPayload stages a peer money request.
type RequestMoneyPayload struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// AdminAdjustPayload stages an admin balance adjustment.
type AdminAdjustPayload struct {
	TargetID uuid.UUID       `json:"target_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Action is the staged command persisted against a session. A session holds
// at most one.
type Action struct {
	Kind      Kind            `json:"kind"`
	UserID    uuid.UUID       `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store stages commands in Redis and dispatches them to the engines on
// confirmation.
type Store struct {
	rdb      *redis.Client
	accounts store.Store
	ledger   *ledger.Ledger
	requests *requests.Engine
	admins   *admin.Actions
	log      *zap.Logger
}

// NewStore wires the confirmation protocol over Redis and the four engines
// it dispatches into.
func NewStore(rdb *redis.Client, accounts store.Store, l *ledger.Ledger, r *requests.Engine, a *admin.Actions, log *zap.Logger) *Store {
	return &Store{rdb: rdb, accounts: accounts, ledger: l, requests: r, admins: a, log: log}
}

func key(sessionID string) string { return KeyPrefix + sessionID }

// Stage persists a command against the session and marks it awaiting
// confirmation. Frozen users are turned away before anything is staged, and
// a non-admin user without a PIN on file cannot stage at all. Transfers are
// additionally pre-validated the way the confirm step will validate them,
// so obvious mistakes surface before the PIN prompt.
//
// No TTL is set: the staging window lives as long as the session, which is
// owned by the external session layer.
func (p *Store) Stage(ctx context.Context, sessionID string, userID uuid.UUID, kind Kind, payload any) error {
	if !validKind(kind) {
		return faults.Validation("Unknown action.")
	}
	user, err := p.accounts.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Frozen {
		return faults.Authorization("Your account is frozen. Contact admin.")
	}
	if !user.IsAdmin() && !user.HasPIN() {
		return faults.Authorization("Please set your MPIN during registration.")
	}

	switch kind {
	case KindTransfer:
		tp, ok := payload.(TransferPayload)
		if !ok {
			return faults.Validation("Unknown action.")
		}
		if err := p.prevalidateTransfer(ctx, user.ID, user.Balance, tp); err != nil {
			return err
		}
	case KindAdminAddBalance, KindAdminRemoveBalance:
		ap, ok := payload.(AdminAdjustPayload)
		if !ok {
			return faults.Validation("Unknown action.")
		}
		if !user.IsAdmin() {
			return faults.Authorization("You are not authorized to perform this action.")
		}
		if ap.Amount.Sign() <= 0 {
			return faults.Validation("Invalid amount.")
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return faults.Persistence(err)
	}
	action := Action{Kind: kind, UserID: userID, Payload: raw, CreatedAt: time.Now().UTC()}
	blob, err := json.Marshal(action)
	if err != nil {
		return faults.Persistence(err)
	}
	if err := p.rdb.Set(ctx, key(sessionID), blob, 0).Err(); err != nil {
		return faults.Persistence(err)
	}
	p.log.Info("action staged",
		zap.String("kind", string(kind)),
		zap.String("user_id", userID.String()))
	return nil
}

func (p *Store) prevalidateTransfer(ctx context.Context, senderID uuid.UUID, balance decimal.Decimal, tp TransferPayload) error {
	if tp.Amount.Sign() <= 0 {
		return faults.Validation("Amount must be greater than zero.")
	}
	recipient, err := p.accounts.UserByUsername(ctx, tp.Recipient)
	if err != nil {
		if faults.IsNotFound(err) {
			return faults.NotFound("Recipient not found or invalid.")
		}
		return err
	}
	if recipient.ID == senderID {
		return faults.NotFound("Recipient not found or invalid.")
	}
	if balance.LessThan(tp.Amount) {
		return faults.Conflict("Insufficient balance for transfer.")
	}
	return nil
}

// Confirm verifies the entered PIN against the caller's stored hash and
// dispatches the staged command to its engine. The staged entry is cleared
// before dispatch, so any outcome — PIN mismatch, business rejection or
// success — requires re-initiating to try again. The engines re-validate
// every invariant at apply time; values observed at staging get no trust.
func (p *Store) Confirm(ctx context.Context, sessionID string, userID uuid.UUID, enteredPIN string) error {
	blob, err := p.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return faults.Conflict("No action is awaiting confirmation.")
	}
	if err != nil {
		return faults.Persistence(err)
	}
	if err := p.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return faults.Persistence(err)
	}

	var action Action
	if err := json.Unmarshal(blob, &action); err != nil {
		return faults.Persistence(err)
	}
	if action.UserID != userID {
		return faults.Conflict("No action is awaiting confirmation.")
	}

	user, err := p.accounts.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPIN(user.PINHash, enteredPIN) {
		p.log.Info("confirmation rejected, PIN mismatch",
			zap.String("user_id", userID.String()))
		return faults.Authorization("Incorrect MPIN.")
	}

	switch action.Kind {
	case KindTransfer:
		var tp TransferPayload
		if err := json.Unmarshal(action.Payload, &tp); err != nil {
			return faults.Persistence(err)
		}
		return p.ledger.Transfer(ctx, userID, tp.Recipient, tp.Amount)
	case KindRequestMoney:
		var rp RequestMoneyPayload
		if err := json.Unmarshal(action.Payload, &rp); err != nil {
			return faults.Persistence(err)
		}
		_, err := p.requests.Create(ctx, userID, rp.Recipient, rp.Amount)
		return err
	case KindAdminAddBalance:
		var ap AdminAdjustPayload
		if err := json.Unmarshal(action.Payload, &ap); err != nil {
			return faults.Persistence(err)
		}
		return p.admins.AddBalance(ctx, userID, ap.TargetID, ap.Amount)
	case KindAdminRemoveBalance:
		var ap AdminAdjustPayload
		if err := json.Unmarshal(action.Payload, &ap); err != nil {
			return faults.Persistence(err)
		}
		return p.admins.RemoveBalance(ctx, userID, ap.TargetID, ap.Amount)
	}
	return faults.Validation("Unknown action.")
}

// Cancel clears the staged action with no side effects.
func (p *Store) Cancel(ctx context.Context, sessionID string) error {
	if err := p.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return faults.Persistence(err)
	}
	return nil
}

// Staged returns the session's staged action, or nil when the session is
// idle.
func (p *Store) Staged(ctx context.Context, sessionID string) (*Action, error) {
	blob, err := p.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Persistence(err)
	}
	var action Action
	if err := json.Unmarshal(blob, &action); err != nil {
		return nil, faults.Persistence(err)
	}
	return &action, nil
}
