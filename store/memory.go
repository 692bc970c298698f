package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/models"
)

// Memory is an in-process Store used by tests and local development. A
// single mutex serializes units of work; Atomic snapshots the state before
// running fn and restores it on failure so rollback semantics match the
// database-backed store.
type Memory struct {
	mu    sync.Mutex
	state *memState

	// inTx marks a transaction-scoped view handed to an Atomic fn;
	// such views skip locking because the root holds the mutex.
	inTx bool
}

type memState struct {
	users    map[uuid.UUID]*models.User
	txs      []*models.Transaction
	loans    map[uuid.UUID]*models.LoanRequest
	requests map[uuid.UUID]*models.MoneyRequest
	actions  []*models.AdminAction
	notes    []*models.Notification
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		users:    map[uuid.UUID]*models.User{},
		loans:    map[uuid.UUID]*models.LoanRequest{},
		requests: map[uuid.UUID]*models.MoneyRequest{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:    make(map[uuid.UUID]*models.User, len(s.users)),
		txs:      append([]*models.Transaction(nil), s.txs...),
		loans:    make(map[uuid.UUID]*models.LoanRequest, len(s.loans)),
		requests: make(map[uuid.UUID]*models.MoneyRequest, len(s.requests)),
		actions:  append([]*models.AdminAction(nil), s.actions...),
		notes:    make([]*models.Notification, 0, len(s.notes)),
	}
	// Transactions and audit rows are immutable once appended, so sharing
	// their pointers with the snapshot is safe. Notifications flip a seen
	// flag in place and need real copies.
	for _, n := range s.notes {
		cp := *n
		c.notes = append(c.notes, &cp)
	}
	for id, u := range s.users {
		cp := *u
		c.users[id] = &cp
	}
	for id, l := range s.loans {
		cp := *l
		c.loans[id] = &cp
	}
	for id, r := range s.requests {
		cp := *r
		c.requests[id] = &cp
	}
	return c
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// Atomic serializes the unit of work under the store mutex. The state is
// snapshotted first and restored if fn fails, so partial mutations never
// become visible.
func (m *Memory) Atomic(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return faults.Persistence(err)
	}
	snapshot := m.state.clone()
	if err := fn(&Memory{state: m.state, inTx: true}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	defer m.lock()()
	stampID(&u.ID)
	stampTime(&u.CreatedAt)
	if u.Role == "" {
		u.Role = models.RoleStandard
	}
	cp := *u
	m.state.users[u.ID] = &cp
	return nil
}

func (m *Memory) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer m.lock()()
	return m.userLocked(id)
}

func (m *Memory) userLocked(id uuid.UUID) (*models.User, error) {
	u, ok := m.state.users[id]
	if !ok {
		return nil, faults.NotFound("User not found.")
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	defer m.lock()()
	for _, u := range m.state.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, faults.NotFound("User not found.")
}

func (m *Memory) LockUsers(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.User, error) {
	defer m.lock()()
	users := make(map[uuid.UUID]*models.User, len(ids))
	for _, id := range ids {
		u, err := m.userLocked(id)
		if err != nil {
			return nil, err
		}
		users[id] = u
	}
	return users, nil
}

func (m *Memory) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	defer m.lock()()
	u, ok := m.state.users[id]
	if !ok {
		return faults.NotFound("User not found.")
	}
	u.Balance = u.Balance.Add(amount)
	return nil
}

func (m *Memory) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	defer m.lock()()
	u, ok := m.state.users[id]
	if !ok {
		return faults.NotFound("User not found.")
	}
	if u.Balance.LessThan(amount) {
		return faults.Conflict("Insufficient balance.")
	}
	u.Balance = u.Balance.Sub(amount)
	return nil
}

func (m *Memory) SetFrozen(ctx context.Context, id uuid.UUID, frozen bool) error {
	defer m.lock()()
	u, ok := m.state.users[id]
	if !ok {
		return faults.NotFound("User not found.")
	}
	u.Frozen = frozen
	return nil
}

func (m *Memory) SetPINHash(ctx context.Context, id uuid.UUID, hash string) error {
	defer m.lock()()
	u, ok := m.state.users[id]
	if !ok {
		return faults.NotFound("User not found.")
	}
	u.PINHash = hash
	return nil
}

func (m *Memory) ListUsers(ctx context.Context, search string) ([]*models.User, error) {
	defer m.lock()()
	var users []*models.User
	for _, u := range m.state.users {
		if u.IsAdmin() {
			continue
		}
		if search != "" && !strings.Contains(u.Username, search) {
			continue
		}
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return newerUser(users[i], users[j]) })
	return users, nil
}

func (m *Memory) DeleteUserCascade(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	txs := m.state.txs[:0]
	for _, t := range m.state.txs {
		if t.UserID == id || (t.RecipientID != nil && *t.RecipientID == id) {
			continue
		}
		txs = append(txs, t)
	}
	m.state.txs = txs

	actions := m.state.actions[:0]
	for _, a := range m.state.actions {
		if a.UserID == id {
			continue
		}
		actions = append(actions, a)
	}
	m.state.actions = actions

	for lid, l := range m.state.loans {
		if l.UserID == id {
			delete(m.state.loans, lid)
		}
	}
	for rid, r := range m.state.requests {
		if r.SenderID == id || r.RecipientID == id {
			delete(m.state.requests, rid)
		}
	}

	notes := m.state.notes[:0]
	for _, n := range m.state.notes {
		if n.UserID == id {
			continue
		}
		notes = append(notes, n)
	}
	m.state.notes = notes

	delete(m.state.users, id)
	return nil
}

func (m *Memory) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	defer m.lock()()
	stampID(&t.ID)
	stampTime(&t.CreatedAt)
	cp := *t
	m.state.txs = append(m.state.txs, &cp)
	return nil
}

func (m *Memory) TransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	defer m.lock()()
	var txs []*models.Transaction
	for _, t := range m.state.txs {
		if t.UserID == userID {
			cp := *t
			txs = append(txs, &cp)
		}
	}
	sortTransactions(txs)
	return clip(txs, limit), nil
}

func (m *Memory) AllTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	defer m.lock()()
	txs := make([]*models.Transaction, 0, len(m.state.txs))
	for _, t := range m.state.txs {
		cp := *t
		txs = append(txs, &cp)
	}
	sortTransactions(txs)
	return clip(txs, limit), nil
}

func (m *Memory) CreateLoan(ctx context.Context, l *models.LoanRequest) error {
	defer m.lock()()
	stampID(&l.ID)
	stampTime(&l.CreatedAt)
	stampTime(&l.UpdatedAt)
	if l.Status == "" {
		l.Status = models.LoanPending
	}
	cp := *l
	m.state.loans[l.ID] = &cp
	return nil
}

func (m *Memory) LoanByID(ctx context.Context, id uuid.UUID) (*models.LoanRequest, error) {
	defer m.lock()()
	l, ok := m.state.loans[id]
	if !ok {
		return nil, faults.NotFound("Loan request not found.")
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) SetLoanStatus(ctx context.Context, id uuid.UUID, from, to models.LoanStatus, paidAt *time.Time) error {
	defer m.lock()()
	l, ok := m.state.loans[id]
	if !ok || l.Status != from {
		return faults.Conflict("Loan request not found or already processed.")
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	if paidAt != nil {
		t := *paidAt
		l.PaidAt = &t
	}
	return nil
}

func (m *Memory) ActiveLoanStats(ctx context.Context, userID uuid.UUID) (int, decimal.Decimal, error) {
	defer m.lock()()
	count := 0
	total := decimal.Zero
	for _, l := range m.state.loans {
		if l.UserID == userID && l.Active() {
			count++
			total = total.Add(l.Amount)
		}
	}
	return count, total, nil
}

func (m *Memory) LoansByUser(ctx context.Context, userID uuid.UUID) ([]*models.LoanRequest, error) {
	defer m.lock()()
	return m.filterLoans(func(l *models.LoanRequest) bool { return l.UserID == userID }), nil
}

func (m *Memory) LoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.LoanRequest, error) {
	defer m.lock()()
	return m.filterLoans(func(l *models.LoanRequest) bool { return l.Status == status }), nil
}

func (m *Memory) filterLoans(keep func(*models.LoanRequest) bool) []*models.LoanRequest {
	var loans []*models.LoanRequest
	for _, l := range m.state.loans {
		if keep(l) {
			cp := *l
			loans = append(loans, &cp)
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].CreatedAt.After(loans[j].CreatedAt)
		}
		return loans[i].ID.String() > loans[j].ID.String()
	})
	return loans
}

func (m *Memory) CreateMoneyRequest(ctx context.Context, r *models.MoneyRequest) error {
	defer m.lock()()
	stampID(&r.ID)
	stampTime(&r.CreatedAt)
	stampTime(&r.UpdatedAt)
	if r.Status == "" {
		r.Status = models.RequestPending
	}
	cp := *r
	m.state.requests[r.ID] = &cp
	return nil
}

func (m *Memory) MoneyRequestByID(ctx context.Context, id uuid.UUID) (*models.MoneyRequest, error) {
	defer m.lock()()
	r, ok := m.state.requests[id]
	if !ok {
		return nil, faults.NotFound("Money request not found.")
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) SetMoneyRequestStatus(ctx context.Context, id uuid.UUID, from, to models.MoneyRequestStatus) error {
	defer m.lock()()
	r, ok := m.state.requests[id]
	if !ok || r.Status != from {
		return faults.Conflict("Money request not found or already processed.")
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) PendingMoneyRequests(ctx context.Context, recipientID uuid.UUID) ([]*models.MoneyRequest, error) {
	defer m.lock()()
	var requests []*models.MoneyRequest
	for _, r := range m.state.requests {
		if r.RecipientID == recipientID && r.Status == models.RequestPending {
			cp := *r
			requests = append(requests, &cp)
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID.String() > requests[j].ID.String()
	})
	return requests, nil
}

func (m *Memory) AppendAdminAction(ctx context.Context, a *models.AdminAction) error {
	defer m.lock()()
	stampID(&a.ID)
	stampTime(&a.CreatedAt)
	cp := *a
	m.state.actions = append(m.state.actions, &cp)
	return nil
}

// AdminActions returns the full audit trail, newest first. Test helper not
// part of the Store contract.
func (m *Memory) AdminActions() []*models.AdminAction {
	defer m.lock()()
	actions := make([]*models.AdminAction, 0, len(m.state.actions))
	for _, a := range m.state.actions {
		cp := *a
		actions = append(actions, &cp)
	}
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].CreatedAt.After(actions[j].CreatedAt)
		}
		return actions[i].ID.String() > actions[j].ID.String()
	})
	return actions
}

func (m *Memory) AppendNotification(ctx context.Context, n *models.Notification) error {
	defer m.lock()()
	stampID(&n.ID)
	stampTime(&n.CreatedAt)
	cp := *n
	m.state.notes = append(m.state.notes, &cp)
	return nil
}

func (m *Memory) NotificationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error) {
	defer m.lock()()
	var notes []*models.Notification
	for _, n := range m.state.notes {
		if n.UserID == userID {
			cp := *n
			notes = append(notes, &cp)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID.String() > notes[j].ID.String()
	})
	return notes, nil
}

func (m *Memory) MarkNotificationsSeen(ctx context.Context, userID uuid.UUID) error {
	defer m.lock()()
	for _, n := range m.state.notes {
		if n.UserID == userID {
			n.Seen = true
		}
	}
	return nil
}

func sortTransactions(txs []*models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID.String() > txs[j].ID.String()
	})
}

func newerUser(a, b *models.User) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var _ Store = (*Memory)(nil)
