// Package admin implements privileged, audited mutations: balance
// adjustments, account freezing, user deletion and administrative messages.
// Every mutation verifies the caller's admin role and appends an audit row
// in the same unit of work as the change it describes.
package admin

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

// Actions performs privileged mutations on behalf of administrators.
type Actions struct {
	store  store.Store
	ledger *ledger.Ledger
	sink   notify.Sink
	cur    notify.Currency
	log    *zap.Logger
}

// New builds the admin action set.
func New(s store.Store, l *ledger.Ledger, sink notify.Sink, cur notify.Currency, log *zap.Logger) *Actions {
	return &Actions{store: s, ledger: l, sink: sink, cur: cur, log: log}
}

// AddBalance credits the target's balance, recording a deposit transaction
// and an add_balance audit row, then notifies the target. PIN-gated through
// the confirmation protocol.
func (a *Actions) AddBalance(ctx context.Context, adminID, targetID uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return faults.Validation("Invalid amount.")
	}
	err := a.store.Atomic(ctx, func(s store.Store) error {
		if err := a.requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		if _, err := s.LockUsers(ctx, targetID); err != nil {
			return err
		}
		if err := a.ledger.AdminCredit(ctx, s, targetID, adminID, amount); err != nil {
			return err
		}
		return s.AppendAdminAction(ctx, &models.AdminAction{
			AdminID:     adminID,
			UserID:      targetID,
			Action:      models.ActionAddBalance,
			Amount:      &amount,
			Description: "Admin added balance",
		})
	})
	if err != nil {
		return err
	}
	a.log.Info("admin added balance",
		zap.String("admin_id", adminID.String()),
		zap.String("target_id", targetID.String()),
		zap.String("amount", amount.String()))
	a.sink.Notify(targetID, adminID,
		"Admin has added "+a.cur.Format(amount)+" to your balance.")
	return nil
}

// RemoveBalance debits the target's balance, recording a withdrawal
// transaction and a remove_balance audit row. PIN-gated through the
// confirmation protocol; the target must cover the amount.
func (a *Actions) RemoveBalance(ctx context.Context, adminID, targetID uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return faults.Validation("Invalid amount or insufficient balance.")
	}
	err := a.store.Atomic(ctx, func(s store.Store) error {
		if err := a.requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		locked, err := s.LockUsers(ctx, targetID)
		if err != nil {
			return err
		}
		if locked[targetID].Balance.LessThan(amount) {
			return faults.Conflict("Invalid amount or insufficient balance.")
		}
		if err := a.ledger.AdminDebit(ctx, s, targetID, adminID, amount); err != nil {
			return err
		}
		return s.AppendAdminAction(ctx, &models.AdminAction{
			AdminID:     adminID,
			UserID:      targetID,
			Action:      models.ActionRemoveBalance,
			Amount:      &amount,
			Description: "Admin removed balance",
		})
	})
	if err != nil {
		return err
	}
	a.log.Info("admin removed balance",
		zap.String("admin_id", adminID.String()),
		zap.String("target_id", targetID.String()),
		zap.String("amount", amount.String()))
	return nil
}

// FreezeUser flags the target account frozen. Admin accounts cannot be
// targeted. Not PIN-gated.
func (a *Actions) FreezeUser(ctx context.Context, adminID, targetID uuid.UUID) error {
	return a.setFrozen(ctx, adminID, targetID, true,
		models.ActionFreeze, "Admin froze account due to suspicious activity")
}

// UnfreezeUser lifts the frozen flag. Not PIN-gated.
func (a *Actions) UnfreezeUser(ctx context.Context, adminID, targetID uuid.UUID) error {
	return a.setFrozen(ctx, adminID, targetID, false,
		models.ActionUnfreeze, "Admin unfroze account")
}

func (a *Actions) setFrozen(ctx context.Context, adminID, targetID uuid.UUID, frozen bool, kind models.AdminActionKind, desc string) error {
	err := a.store.Atomic(ctx, func(s store.Store) error {
		if err := a.requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		if err := a.requireStandardTarget(ctx, s, targetID); err != nil {
			return err
		}
		if err := s.SetFrozen(ctx, targetID, frozen); err != nil {
			return err
		}
		return s.AppendAdminAction(ctx, &models.AdminAction{
			AdminID:     adminID,
			UserID:      targetID,
			Action:      kind,
			Description: desc,
		})
	})
	if err != nil {
		return err
	}
	a.log.Info("admin changed frozen flag",
		zap.String("admin_id", adminID.String()),
		zap.String("target_id", targetID.String()),
		zap.Bool("frozen", frozen))
	return nil
}

// DeleteUser removes a non-admin user and everything tied to them:
// transactions where they act or receive, audit rows, loans, money requests
// and notifications. Irreversible, not PIN-gated.
func (a *Actions) DeleteUser(ctx context.Context, adminID, targetID uuid.UUID) error {
	err := a.store.Atomic(ctx, func(s store.Store) error {
		if err := a.requireAdmin(ctx, s, adminID); err != nil {
			return err
		}
		if err := a.requireStandardTarget(ctx, s, targetID); err != nil {
			return err
		}
		return s.DeleteUserCascade(ctx, targetID)
	})
	if err != nil {
		return err
	}
	a.log.Info("admin deleted user",
		zap.String("admin_id", adminID.String()),
		zap.String("target_id", targetID.String()))
	return nil
}

// Message sends a direct notification from an admin to one user.
func (a *Actions) Message(ctx context.Context, adminID, targetID uuid.UUID, message string) error {
	if message == "" {
		return faults.Validation("Message cannot be empty.")
	}
	admin, err := a.store.UserByID(ctx, adminID)
	if err != nil {
		return err
	}
	if !admin.IsAdmin() {
		return faults.Authorization("You are not authorized to perform this action.")
	}
	if _, err := a.store.UserByID(ctx, targetID); err != nil {
		return err
	}
	a.sink.Notify(targetID, adminID, message)
	return nil
}

// Broadcast sends a notification from an admin to every non-admin user.
func (a *Actions) Broadcast(ctx context.Context, adminID uuid.UUID, message string) error {
	if message == "" {
		return faults.Validation("Message cannot be empty.")
	}
	admin, err := a.store.UserByID(ctx, adminID)
	if err != nil {
		return err
	}
	if !admin.IsAdmin() {
		return faults.Authorization("You are not authorized to perform this action.")
	}
	users, err := a.store.ListUsers(ctx, "")
	if err != nil {
		return err
	}
	for _, u := range users {
		a.sink.Notify(u.ID, adminID, message)
	}
	a.log.Info("admin broadcast sent",
		zap.String("admin_id", adminID.String()),
		zap.Int("recipients", len(users)))
	return nil
}

// Users lists non-admin users, optionally filtered by username substring.
func (a *Actions) Users(ctx context.Context, search string) ([]*models.User, error) {
	return a.store.ListUsers(ctx, search)
}

func (a *Actions) requireAdmin(ctx context.Context, s store.Store, adminID uuid.UUID) error {
	u, err := s.UserByID(ctx, adminID)
	if err != nil {
		return err
	}
	if !u.IsAdmin() {
		return faults.Authorization("You are not authorized to perform this action.")
	}
	return nil
}

// requireStandardTarget rejects operations aimed at another admin.
func (a *Actions) requireStandardTarget(ctx context.Context, s store.Store, targetID uuid.UUID) error {
	u, err := s.UserByID(ctx, targetID)
	if err != nil {
		return err
	}
	if u.IsAdmin() {
		return faults.Authorization("You are not authorized to perform this action.")
	}
	return nil
}
