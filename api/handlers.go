// Package api is the thin JSON adapter over the wallet core. It translates
// requests into engine operations and engine errors into status codes; it
// owns no business rules and performs no session authentication — the caller
// identity and session id arrive in headers from the external session layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/admin"
	"github.com/saugat-sapkota-2/digital-wallet/faults"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/loans"
	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/pending"
	"github.com/saugat-sapkota-2/digital-wallet/requests"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

const (
	// UserHeader carries the authenticated caller's id.
	UserHeader = "X-User-ID"
	// SessionHeader carries the opaque session id owning staged actions.
	SessionHeader = "X-Session-ID"
)

// API bundles the engines behind the HTTP surface.
type API struct {
	store    store.Store
	ledger   *ledger.Ledger
	loans    *loans.Engine
	requests *requests.Engine
	admins   *admin.Actions
	pending  *pending.Store
	log      *zap.Logger
}

// New builds the adapter.
func New(s store.Store, l *ledger.Ledger, le *loans.Engine, re *requests.Engine, a *admin.Actions, p *pending.Store, log *zap.Logger) *API {
	return &API{store: s, ledger: l, loans: le, requests: re, admins: a, pending: p, log: log}
}

// RegisterRoutes mounts every endpoint on the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/transfer", a.stageTransfer)
	r.Post("/confirm", a.confirm)
	r.Post("/cancel", a.cancel)
	r.Get("/pending", a.staged)
	r.Post("/pin", a.setPIN)

	r.Post("/requests", a.stageMoneyRequest)
	r.Get("/requests/pending", a.pendingRequests)
	r.Post("/requests/{id}/accept", a.acceptRequest)
	r.Post("/requests/{id}/reject", a.rejectRequest)

	r.Post("/loans", a.requestLoan)
	r.Get("/loans", a.listLoans)
	r.Post("/loans/{id}/pay", a.payLoan)

	r.Get("/transactions", a.transactions)
	r.Get("/notifications", a.notifications)
	r.Post("/notifications/seen", a.markSeen)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/balance/add", a.stageAdminAdjust(pending.KindAdminAddBalance))
		r.Post("/balance/remove", a.stageAdminAdjust(pending.KindAdminRemoveBalance))
		r.Post("/loans/{id}/approve", a.approveLoan)
		r.Post("/loans/{id}/reject", a.rejectLoan)
		r.Get("/loans", a.loansByStatus)
		r.Get("/users", a.listUsers)
		r.Post("/users/{id}/freeze", a.freezeUser)
		r.Post("/users/{id}/unfreeze", a.unfreezeUser)
		r.Delete("/users/{id}", a.deleteUser)
		r.Post("/message", a.message)
		r.Post("/alert", a.broadcast)
		r.Get("/transactions", a.allTransactions)
	})
}

type amountRequest struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

func (a *API) stageTransfer(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := a.pending.Stage(r.Context(), sessionID, userID, pending.KindTransfer,
		pending.TransferPayload{Recipient: req.Recipient, Amount: req.Amount})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "pending",
		"message": "Confirmation required.",
	})
}

func (a *API) stageMoneyRequest(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := a.pending.Stage(r.Context(), sessionID, userID, pending.KindRequestMoney,
		pending.RequestMoneyPayload{Recipient: req.Recipient, Amount: req.Amount})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "pending",
		"message": "Confirmation required.",
	})
}

func (a *API) stageAdminAdjust(kind pending.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, sessionID, ok := a.identity(w, r)
		if !ok {
			return
		}
		var req struct {
			UserID uuid.UUID       `json:"user_id"`
			Amount decimal.Decimal `json:"amount"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		err := a.pending.Stage(r.Context(), sessionID, userID, kind,
			pending.AdminAdjustPayload{TargetID: req.UserID, Amount: req.Amount})
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "pending",
			"message": "Confirmation required.",
		})
	}
}

func (a *API) confirm(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"mpin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.pending.Confirm(r.Context(), sessionID, userID, req.PIN); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.pending.Cancel(r.Context(), sessionID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) staged(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := a.identity(w, r)
	if !ok {
		return
	}
	action, err := a.pending.Staged(r.Context(), sessionID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_action": action})
}

func (a *API) setPIN(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"mpin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.pending.SetPIN(r.Context(), userID, req.PIN); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) pendingRequests(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.requests.PendingFor(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) acceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.requests.Accept(r.Context(), userID, requestID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Money request accepted and transferred successfully!",
	})
}

func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.requests.Reject(r.Context(), userID, requestID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) requestLoan(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Name             string          `json:"name"`
		Address          string          `json:"address"`
		PermanentAddress string          `json:"permanent_address"`
		IDType           models.IDType   `json:"id_type"`
		IDNumber         string          `json:"id_number"`
		Amount           decimal.Decimal `json:"loan_amount"`
		DurationDays     int             `json:"duration_days"`
		TermsAccepted    bool            `json:"terms"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	loan, err := a.loans.Request(r.Context(), userID, loans.Application{
		Name:             req.Name,
		Address:          req.Address,
		PermanentAddress: req.PermanentAddress,
		IDType:           req.IDType,
		IDNumber:         req.IDNumber,
	}, req.Amount, req.DurationDays, req.TermsAccepted)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"loan": loan})
}

func (a *API) listLoans(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.loans.ByUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": list})
}

func (a *API) payLoan(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	loanID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.loans.Pay(r.Context(), userID, loanID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) approveLoan(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	loanID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.loans.Approve(r.Context(), adminID, loanID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) rejectLoan(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	loanID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.loans.Reject(r.Context(), adminID, loanID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) loansByStatus(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.identity(w, r); !ok {
		return
	}
	status := models.LoanStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.LoanPending
	}
	list, err := a.loans.ByStatus(r.Context(), status)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": list})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.identity(w, r); !ok {
		return
	}
	users, err := a.admins.Users(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) freezeUser(w http.ResponseWriter, r *http.Request) {
	a.adminTargetOp(w, r, a.admins.FreezeUser)
}

func (a *API) unfreezeUser(w http.ResponseWriter, r *http.Request) {
	a.adminTargetOp(w, r, a.admins.UnfreezeUser)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	a.adminTargetOp(w, r, a.admins.DeleteUser)
}

func (a *API) adminTargetOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, adminID, targetID uuid.UUID) error) {
	adminID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), adminID, targetID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) message(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID  uuid.UUID `json:"user_id"`
		Message string    `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.admins.Message(r.Context(), adminID, req.UserID, req.Message); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) broadcast(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.admins.Broadcast(r.Context(), adminID, req.Message); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Message sent to all users successfully!",
	})
}

func (a *API) transactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	txs, err := a.ledger.History(r.Context(), userID, 50)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) allTransactions(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.identity(w, r); !ok {
		return
	}
	txs, err := a.ledger.All(r.Context(), 0)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) notifications(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	notes, err := a.store.NotificationsByUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

func (a *API) markSeen(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.store.MarkNotificationsSeen(r.Context(), userID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// identity extracts the caller id and session id headers.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	userID, err := uuid.Parse(r.Header.Get(UserHeader))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized."})
		return uuid.Nil, "", false
	}
	return userID, r.Header.Get(SessionHeader), true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid id."})
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid body."})
		return false
	}
	return true
}

// writeError maps the error taxonomy onto status codes. Only the taxonomy's
// user-facing message ever leaves the service.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case faults.IsValidation(err):
		status = http.StatusBadRequest
	case faults.IsAuthorization(err):
		status = http.StatusForbidden
	case faults.IsNotFound(err):
		status = http.StatusNotFound
	case faults.IsConflict(err):
		status = http.StatusConflict
	default:
		a.log.Error("internal error", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": faults.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
