package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/admin"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/loans"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/pending"
	"github.com/saugat-sapkota-2/digital-wallet/requests"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

type dropSink struct{}

func (dropSink) Notify(recipientID, senderID uuid.UUID, message string) {}

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mem := store.NewMemory()
	sink := dropSink{}
	cur := notify.Currency(notify.DefaultSymbol)
	log := zap.NewNop()
	books := ledger.New(mem, sink, cur, log)
	loanEngine := loans.New(mem, books, sink, cur, log)
	requestEngine := requests.New(mem, books, sink, cur, log)
	adminActions := admin.New(mem, books, sink, cur, log)
	confirmations := pending.NewStore(rdb, mem, books, requestEngine, adminActions, log)

	r := chi.NewRouter()
	New(mem, books, loanEngine, requestEngine, adminActions, confirmations, log).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mem
}

func seedUser(t *testing.T, s store.Store, username string, balance int64, pin string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Balance: decimal.NewFromInt(balance)}
	if pin != "" {
		hash, err := pending.HashPIN(pin)
		require.NoError(t, err)
		u.PINHash = hash
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func do(t *testing.T, srv *httptest.Server, method, path string, userID uuid.UUID, session string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set(UserHeader, userID.String())
	req.Header.Set(SessionHeader, session)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTransferFlow(t *testing.T) {
	srv, mem := newTestServer(t)
	alice := seedUser(t, mem, "alice", 1000, "1234")
	bob := seedUser(t, mem, "bob", 500, "5678")

	resp := do(t, srv, http.MethodPost, "/transfer", alice.ID, "sess-1", map[string]any{
		"recipient": "bob",
		"amount":    "200",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/pending", alice.ID, "sess-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var staged struct {
		PendingAction *pending.Action `json:"pending_action"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&staged))
	require.NotNil(t, staged.PendingAction)
	assert.Equal(t, pending.KindTransfer, staged.PendingAction.Kind)

	resp = do(t, srv, http.MethodPost, "/confirm", alice.ID, "sess-1", map[string]string{"mpin": "1234"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	gotAlice, _ := mem.UserByID(ctx, alice.ID)
	gotBob, _ := mem.UserByID(ctx, bob.ID)
	assert.True(t, gotAlice.Balance.Equal(decimal.NewFromInt(800)))
	assert.True(t, gotBob.Balance.Equal(decimal.NewFromInt(700)))
}

func TestConfirmWrongPINStatus(t *testing.T) {
	srv, mem := newTestServer(t)
	alice := seedUser(t, mem, "alice", 1000, "1234")
	seedUser(t, mem, "bob", 500, "5678")

	resp := do(t, srv, http.MethodPost, "/transfer", alice.ID, "sess-1", map[string]any{
		"recipient": "bob",
		"amount":    "200",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/confirm", alice.ID, "sess-1", map[string]string{"mpin": "0000"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Incorrect MPIN.", body.Error)
}

func TestErrorStatuses(t *testing.T) {
	srv, mem := newTestServer(t)
	alice := seedUser(t, mem, "alice", 10, "1234")

	// Unknown recipient staged -> 404.
	resp := do(t, srv, http.MethodPost, "/transfer", alice.ID, "s", map[string]any{
		"recipient": "nobody", "amount": "5",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Nothing staged -> 409.
	resp = do(t, srv, http.MethodPost, "/confirm", alice.ID, "s", map[string]string{"mpin": "1234"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Zero amount -> 400.
	resp = do(t, srv, http.MethodPost, "/transfer", alice.ID, "s", map[string]any{
		"recipient": "alice", "amount": "0",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing identity header -> 401.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/pending", nil)
	require.NoError(t, err)
	raw, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)
}

func TestLoanRoutes(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	root := &models.User{Username: "root", Role: models.RoleAdmin}
	require.NoError(t, mem.CreateUser(ctx, root))
	ram := seedUser(t, mem, "ram", 100, "1234")

	resp := do(t, srv, http.MethodPost, "/loans", ram.ID, "s", map[string]any{
		"name":              "Ram Bahadur",
		"address":           "Kathmandu",
		"permanent_address": "Pokhara",
		"id_type":           "citizenship",
		"id_number":         "12-34-56",
		"loan_amount":       "5000",
		"duration_days":     30,
		"terms":             true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Loan *models.LoanRequest `json:"loan"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotNil(t, created.Loan)

	resp = do(t, srv, http.MethodPost, "/admin/loans/"+created.Loan.ID.String()+"/approve", root.ID, "s", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, _ := mem.UserByID(ctx, ram.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5100)))

	// Approving twice conflicts.
	resp = do(t, srv, http.MethodPost, "/admin/loans/"+created.Loan.ID.String()+"/approve", root.ID, "s", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Non-admin cannot approve.
	resp = do(t, srv, http.MethodPost, "/admin/loans/"+created.Loan.ID.String()+"/reject", ram.ID, "s", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/loans", ram.ID, "s", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Loans []*models.LoanRequest `json:"loans"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.Loans, 1)
	assert.Equal(t, models.LoanApproved, listed.Loans[0].Status)
}

func TestNotificationRoutes(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	ram := seedUser(t, mem, "ram", 0, "1234")
	require.NoError(t, mem.AppendNotification(ctx, &models.Notification{
		UserID: ram.ID, Message: "hello",
	}))

	resp := do(t, srv, http.MethodGet, "/notifications", ram.ID, "s", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Notifications, 1)
	assert.False(t, body.Notifications[0].Seen)

	resp = do(t, srv, http.MethodPost, "/notifications/seen", ram.ID, "s", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	notes, err := mem.NotificationsByUser(ctx, ram.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Seen)
}
