package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same methods serve
// standalone calls and calls inside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is the production Store backed by a Postgres database reached
// through the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
	q  querier
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// Atomic runs fn inside a database transaction. A nested call joins the
// transaction already in flight.
func (p *Postgres) Atomic(ctx context.Context, fn func(Store) error) error {
	if _, nested := p.q.(*sql.Tx); nested {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Persistence(err)
	}
	defer tx.Rollback() // no-op once committed
	if err := fn(&Postgres{db: p.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return faults.Persistence(err)
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	stampID(&u.ID)
	stampTime(&u.CreatedAt)
	if u.Role == "" {
		u.Role = models.RoleStandard
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO users (id, username, balance, frozen, pin_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Balance, u.Frozen, u.PINHash, u.Role, u.CreatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

const userColumns = `id, username, balance, frozen, pin_hash, role, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.Frozen, &u.PINHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, faults.NotFound("User not found.")
		}
		return nil, faults.Persistence(err)
	}
	return &u, nil
}

func (p *Postgres) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(p.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(p.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// LockUsers acquires row locks one user at a time in ascending id order, the
// deadlock-avoidance rule for operations touching two accounts.
func (p *Postgres) LockUsers(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.User, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	users := make(map[uuid.UUID]*models.User, len(sorted))
	for _, id := range sorted {
		if _, done := users[id]; done {
			continue
		}
		u, err := scanUser(p.q.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return nil, err
		}
		users[id] = u
	}
	return users, nil
}

func (p *Postgres) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2`, amount, id)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.NotFound("User not found."))
}

// Debit applies only while the balance covers the amount, so a stale caller
// check cannot push the balance negative.
func (p *Postgres) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1`, amount, id)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.Conflict("Insufficient balance."))
}

func (p *Postgres) SetFrozen(ctx context.Context, id uuid.UUID, frozen bool) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE users SET frozen = $1 WHERE id = $2`, frozen, id)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.NotFound("User not found."))
}

func (p *Postgres) SetPINHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE users SET pin_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.NotFound("User not found."))
}

func (p *Postgres) ListUsers(ctx context.Context, search string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role <> $1`
	args := []any{models.RoleAdmin}
	if search != "" {
		query += ` AND username LIKE $2`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Persistence(err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Balance, &u.Frozen, &u.PINHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, faults.Persistence(err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Persistence(err)
	}
	return users, nil
}

func (p *Postgres) DeleteUserCascade(ctx context.Context, id uuid.UUID) error {
	return p.Atomic(ctx, func(s Store) error {
		tx := s.(*Postgres).q
		steps := []string{
			`DELETE FROM transactions WHERE user_id = $1 OR recipient_id = $1`,
			`DELETE FROM admin_actions WHERE user_id = $1`,
			`DELETE FROM loan_requests WHERE user_id = $1`,
			`DELETE FROM money_requests WHERE sender_id = $1 OR recipient_id = $1`,
			`DELETE FROM notifications WHERE user_id = $1`,
			`DELETE FROM users WHERE id = $1`,
		}
		for _, q := range steps {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return faults.Persistence(err)
			}
		}
		return nil
	})
}

func (p *Postgres) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	stampID(&t.ID)
	stampTime(&t.CreatedAt)
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, recipient_id, admin_id, amount, type, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, nullUUID(t.RecipientID), nullUUID(t.AdminID), t.Amount, t.Kind, t.Description, t.CreatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

const txColumns = `id, user_id, recipient_id, admin_id, amount, type, description, created_at`

func (p *Postgres) TransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return p.queryTransactions(ctx, query, args...)
}

func (p *Postgres) AllTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return p.queryTransactions(ctx, query, args...)
}

func (p *Postgres) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Persistence(err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var (
			t         models.Transaction
			recipient uuid.NullUUID
			admin     uuid.NullUUID
		)
		if err := rows.Scan(&t.ID, &t.UserID, &recipient, &admin, &t.Amount, &t.Kind, &t.Description, &t.CreatedAt); err != nil {
			return nil, faults.Persistence(err)
		}
		t.RecipientID = fromNullUUID(recipient)
		t.AdminID = fromNullUUID(admin)
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Persistence(err)
	}
	return txs, nil
}

const loanColumns = `id, user_id, name, address, permanent_address, id_type, id_number,
	loan_amount, duration_days, status, created_at, updated_at, paid_at`

func (p *Postgres) CreateLoan(ctx context.Context, l *models.LoanRequest) error {
	stampID(&l.ID)
	stampTime(&l.CreatedAt)
	stampTime(&l.UpdatedAt)
	if l.Status == "" {
		l.Status = models.LoanPending
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO loan_requests (id, user_id, name, address, permanent_address, id_type, id_number,
			loan_amount, duration_days, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.UserID, l.Name, l.Address, l.PermanentAddress, l.IDType, l.IDNumber,
		l.Amount, l.DurationDays, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

func (p *Postgres) LoanByID(ctx context.Context, id uuid.UUID) (*models.LoanRequest, error) {
	rows, err := p.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loan_requests WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, faults.NotFound("Loan request not found.")
	}
	return rows[0], nil
}

func (p *Postgres) SetLoanStatus(ctx context.Context, id uuid.UUID, from, to models.LoanStatus, paidAt *time.Time) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE loan_requests SET status = $1, updated_at = $2, paid_at = COALESCE($3, paid_at)
		 WHERE id = $4 AND status = $5`,
		to, time.Now().UTC(), nullTime(paidAt), id, from)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.Conflict("Loan request not found or already processed."))
}

func (p *Postgres) ActiveLoanStats(ctx context.Context, userID uuid.UUID) (int, decimal.Decimal, error) {
	var (
		count int
		total decimal.NullDecimal
	)
	err := p.q.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(loan_amount) FROM loan_requests
		 WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, models.LoanPending, models.LoanApproved).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, faults.Persistence(err)
	}
	if !total.Valid {
		return count, decimal.Zero, nil
	}
	return count, total.Decimal, nil
}

func (p *Postgres) LoansByUser(ctx context.Context, userID uuid.UUID) ([]*models.LoanRequest, error) {
	return p.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loan_requests WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *Postgres) LoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.LoanRequest, error) {
	return p.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loan_requests WHERE status = $1
		 ORDER BY created_at DESC, id DESC`, status)
}

func (p *Postgres) queryLoans(ctx context.Context, query string, args ...any) ([]*models.LoanRequest, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Persistence(err)
	}
	defer rows.Close()

	var loans []*models.LoanRequest
	for rows.Next() {
		var (
			l      models.LoanRequest
			paidAt sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Address, &l.PermanentAddress, &l.IDType,
			&l.IDNumber, &l.Amount, &l.DurationDays, &l.Status, &l.CreatedAt, &l.UpdatedAt, &paidAt); err != nil {
			return nil, faults.Persistence(err)
		}
		if paidAt.Valid {
			t := paidAt.Time
			l.PaidAt = &t
		}
		loans = append(loans, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Persistence(err)
	}
	return loans, nil
}

const requestColumns = `id, sender_id, recipient_id, amount, status, created_at, updated_at`

func (p *Postgres) CreateMoneyRequest(ctx context.Context, r *models.MoneyRequest) error {
	stampID(&r.ID)
	stampTime(&r.CreatedAt)
	stampTime(&r.UpdatedAt)
	if r.Status == "" {
		r.Status = models.RequestPending
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO money_requests (id, sender_id, recipient_id, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SenderID, r.RecipientID, r.Amount, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

func (p *Postgres) MoneyRequestByID(ctx context.Context, id uuid.UUID) (*models.MoneyRequest, error) {
	var r models.MoneyRequest
	err := p.q.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM money_requests WHERE id = $1`, id).
		Scan(&r.ID, &r.SenderID, &r.RecipientID, &r.Amount, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, faults.NotFound("Money request not found.")
		}
		return nil, faults.Persistence(err)
	}
	return &r, nil
}

func (p *Postgres) SetMoneyRequestStatus(ctx context.Context, id uuid.UUID, from, to models.MoneyRequestStatus) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE money_requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return faults.Persistence(err)
	}
	return requireRow(res, faults.Conflict("Money request not found or already processed."))
}

func (p *Postgres) PendingMoneyRequests(ctx context.Context, recipientID uuid.UUID) ([]*models.MoneyRequest, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM money_requests
		 WHERE recipient_id = $1 AND status = $2
		 ORDER BY created_at DESC, id DESC`, recipientID, models.RequestPending)
	if err != nil {
		return nil, faults.Persistence(err)
	}
	defer rows.Close()

	var requests []*models.MoneyRequest
	for rows.Next() {
		var r models.MoneyRequest
		if err := rows.Scan(&r.ID, &r.SenderID, &r.RecipientID, &r.Amount, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, faults.Persistence(err)
		}
		requests = append(requests, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Persistence(err)
	}
	return requests, nil
}

func (p *Postgres) AppendAdminAction(ctx context.Context, a *models.AdminAction) error {
	stampID(&a.ID)
	stampTime(&a.CreatedAt)
	var amount decimal.NullDecimal
	if a.Amount != nil {
		amount = decimal.NewNullDecimal(*a.Amount)
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO admin_actions (id, admin_id, user_id, action, amount, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.AdminID, a.UserID, a.Action, amount, a.Description, a.CreatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

func (p *Postgres) AppendNotification(ctx context.Context, n *models.Notification) error {
	stampID(&n.ID)
	stampTime(&n.CreatedAt)
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, sender_id, message, seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.SenderID, n.Message, n.Seen, n.CreatedAt)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

func (p *Postgres) NotificationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT id, user_id, sender_id, message, seen, created_at FROM notifications
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, faults.Persistence(err)
	}
	defer rows.Close()

	var notes []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &n.Message, &n.Seen, &n.CreatedAt); err != nil {
			return nil, faults.Persistence(err)
		}
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Persistence(err)
	}
	return notes, nil
}

func (p *Postgres) MarkNotificationsSeen(ctx context.Context, userID uuid.UUID) error {
	_, err := p.q.ExecContext(ctx,
		`UPDATE notifications SET seen = TRUE WHERE user_id = $1 AND seen = FALSE`, userID)
	if err != nil {
		return faults.Persistence(err)
	}
	return nil
}

// requireRow turns a zero-rows-affected result into missing, the caller's
// guard failure.
func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return faults.Persistence(err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := id.UUID
	return &u
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*Postgres)(nil)

// Close releases the underlying pool. Provided for symmetry with main's
// open; safe on the root handle only.
func (p *Postgres) Close() error {
	if p.db == nil {
		return fmt.Errorf("close on transaction-scoped store")
	}
	return p.db.Close()
}
