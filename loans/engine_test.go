package loans

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

type recordSink struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]string
}

func newRecordSink() *recordSink {
	return &recordSink{messages: map[uuid.UUID][]string{}}
}

func (r *recordSink) Notify(recipientID, senderID uuid.UUID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[recipientID] = append(r.messages[recipientID], message)
}

func (r *recordSink) sentTo(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *recordSink) {
	t.Helper()
	mem := store.NewMemory()
	sink := newRecordSink()
	cur := notify.Currency(notify.DefaultSymbol)
	log := zap.NewNop()
	books := ledger.New(mem, sink, cur, log)
	return New(mem, books, sink, cur, log), mem, sink
}

func createUser(t *testing.T, s store.Store, username string, balance int64, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Username: username, Balance: decimal.NewFromInt(balance), Role: role}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func validApplication() Application {
	return Application{
		Name:             "Ram Bahadur",
		Address:          "Kathmandu",
		PermanentAddress: "Pokhara",
		IDType:           models.IDCitizenship,
		IDNumber:         "12-34-56-78901",
	}
}

func TestRequestCreatesPendingLoan(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)
	assert.Equal(t, models.LoanPending, loan.Status)
	assert.NotEqual(t, uuid.Nil, loan.ID)

	got, err := mem.LoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, 30, got.DurationDays)
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)
	amount := decimal.NewFromInt(5000)

	_, err := e.Request(ctx, user.ID, validApplication(), amount, 30, false)
	assert.Equal(t, "You must accept the terms and conditions to request a loan.", faults.Message(err))

	_, err = e.Request(ctx, user.ID, validApplication(), decimal.Zero, 30, true)
	assert.Equal(t, "Loan amount must be greater than zero.", faults.Message(err))

	_, err = e.Request(ctx, user.ID, validApplication(), amount, 0, true)
	assert.Equal(t, "Loan duration must be greater than zero.", faults.Message(err))

	app := validApplication()
	app.Address = ""
	_, err = e.Request(ctx, user.ID, app, amount, 30, true)
	assert.Equal(t, "All fields are required.", faults.Message(err))

	app = validApplication()
	app.IDType = "passport"
	_, err = e.Request(ctx, user.ID, app, amount, 30, true)
	assert.Equal(t, "Invalid ID type.", faults.Message(err))

	loans, err := mem.LoansByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestRequestCeiling(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	_, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(600000), 30, true)
	require.Error(t, err)
	assert.True(t, faults.IsConflict(err))
	assert.Equal(t, "Total loan amount cannot exceed 500,000. Please pay off an existing loan first.", faults.Message(err))

	loans, err := mem.LoansByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestRequestCeilingCountsActiveLoans(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	_, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(400000), 30, true)
	require.NoError(t, err)

	_, err = e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(200000), 30, true)
	require.Error(t, err)
	assert.True(t, faults.IsConflict(err))
}

func TestRequestMaxActiveLoans(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	for i := 0; i < MaxActiveLoans; i++ {
		_, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(1000), 30, true)
		require.NoError(t, err)
	}
	_, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(1000), 30, true)
	require.Error(t, err)
	assert.Equal(t, "You have reached the maximum limit of 2 active loan requests. Please pay off an existing loan before requesting a new one.", faults.Message(err))
}

func TestRequestFrozenUser(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)
	require.NoError(t, mem.SetFrozen(ctx, user.ID, true))

	_, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(1000), 30, true)
	assert.True(t, faults.IsAuthorization(err))
}

func TestApproveCreditsBorrower(t *testing.T) {
	ctx := context.Background()
	e, mem, sink := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)

	require.NoError(t, e.Approve(ctx, admin.ID, loan.ID))

	got, err := mem.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5100)))

	updated, err := mem.LoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, updated.Status)

	txs, err := mem.TransactionsByUser(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TxLoanCredit, txs[0].Kind)

	actions := mem.AdminActions()
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionLoanApprove, actions[0].Action)
	require.NotNil(t, actions[0].Amount)
	assert.True(t, actions[0].Amount.Equal(decimal.NewFromInt(5000)))

	notes := sink.sentTo(user.ID)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "has been approved by admin")
	assert.Contains(t, notes[0], loan.ID.String())
}

func TestApproveRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)
	other := createUser(t, mem, "shyam", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)

	err = e.Approve(ctx, other.ID, loan.ID)
	assert.True(t, faults.IsAuthorization(err))
	assert.Equal(t, "You are not authorized to perform this action.", faults.Message(err))

	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
}

func TestApproveAlreadyProcessed(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)
	require.NoError(t, e.Approve(ctx, admin.ID, loan.ID))

	err = e.Approve(ctx, admin.ID, loan.ID)
	assert.True(t, faults.IsConflict(err))
	assert.Equal(t, "Loan request not found or already processed.", faults.Message(err))

	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5100)), "double credit")
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Approve(ctx, admin.ID, loan.ID)
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, faults.IsConflict(err))
		}
	}
	assert.Equal(t, 1, wins)

	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5100)))
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	e, mem, sink := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)
	require.NoError(t, e.Reject(ctx, admin.ID, loan.ID))

	updated, err := mem.LoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanRejected, updated.Status)

	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	actions := mem.AdminActions()
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionLoanReject, actions[0].Action)

	notes := sink.sentTo(user.ID)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "has been rejected by admin")

	err = e.Reject(ctx, admin.ID, loan.ID)
	assert.True(t, faults.IsConflict(err))
}

func TestRejectedLoanFreesLimits(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(400000), 30, true)
	require.NoError(t, err)
	require.NoError(t, e.Reject(ctx, admin.ID, loan.ID))

	_, err = e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(400000), 30, true)
	assert.NoError(t, err)
}

func TestPay(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 100, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)
	require.NoError(t, e.Approve(ctx, admin.ID, loan.ID))

	require.NoError(t, e.Pay(ctx, user.ID, loan.ID))

	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	updated, err := mem.LoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanPaid, updated.Status)
	require.NotNil(t, updated.PaidAt)

	txs, err := mem.TransactionsByUser(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TxLoanPayment, txs[0].Kind)
	assert.Contains(t, txs[0].Description, loan.ID.String())
}

func TestPayInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	admin := createUser(t, mem, "admin", 0, models.RoleAdmin)
	user := createUser(t, mem, "ram", 50, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)
	require.NoError(t, e.Approve(ctx, admin.ID, loan.ID))

	// Drain the disbursed amount so the balance no longer covers the loan.
	require.NoError(t, mem.Debit(ctx, user.ID, decimal.NewFromInt(5000)))

	err = e.Pay(ctx, user.ID, loan.ID)
	assert.True(t, faults.IsConflict(err))
	assert.Equal(t, "Insufficient balance to pay the loan.", faults.Message(err))

	updated, err := mem.LoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, updated.Status)
	got, _ := mem.UserByID(ctx, user.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(50)))
}

func TestPayWrongOwnerOrStatus(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	user := createUser(t, mem, "ram", 10000, models.RoleStandard)
	other := createUser(t, mem, "shyam", 10000, models.RoleStandard)

	loan, err := e.Request(ctx, user.ID, validApplication(), decimal.NewFromInt(5000), 30, true)
	require.NoError(t, err)

	err = e.Pay(ctx, other.ID, loan.ID)
	assert.Equal(t, "Invalid loan request or loan already paid.", faults.Message(err))

	// Still pending, paying it is invalid too.
	err = e.Pay(ctx, user.ID, loan.ID)
	assert.True(t, faults.IsConflict(err))
}

func TestRemaining(t *testing.T) {
	now := time.Now().UTC()
	loan := &models.LoanRequest{DurationDays: 30, CreatedAt: now.AddDate(0, 0, -10)}

	days, pct := Remaining(loan, now)
	assert.Equal(t, 20, days)
	assert.InDelta(t, 66.7, pct, 0.1)

	expired := &models.LoanRequest{DurationDays: 30, CreatedAt: now.AddDate(0, 0, -45)}
	days, pct = Remaining(expired, now)
	assert.Equal(t, 0, days)
	assert.Equal(t, 0.0, pct)
}
