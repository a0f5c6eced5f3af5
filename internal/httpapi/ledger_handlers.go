package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cajards.org/internal/auth"
	"cajards.org/internal/events/kafka"
	"cajards.org/internal/ledger"
	"cajards.org/internal/obs"
	"cajards.org/internal/stream"
)

type openAccountRequest struct {
	MemberID       string          `json:"member_id"`
	AccountType    string          `json:"account_type"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

type blockAccountRequest struct {
	Blocked bool `json:"blocked"`
}

type applyTransactionRequest struct {
	AccountID   string          `json:"account_id"`
	Type        string          `json:"transaction_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAccounts(w, r)
	case http.MethodPost:
		a.openAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "account id is required")
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAccount(w, r, id)
	case "block":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.blockAccount(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) openAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePermission(w, r, auth.PermAccountOpen)
	if !ok {
		return
	}

	var req openAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	deposit, err := ledger.MoneyFromDecimal(req.InitialDeposit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "initial_deposit must have at most two decimal places")
		return
	}

	account, err := a.ledger.OpenAccount(r.Context(), strings.TrimSpace(req.MemberID),
		ledger.AccountType(strings.ToUpper(strings.TrimSpace(req.AccountType))), deposit, principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.record(r, principal.ID, "account.open", "account", account.ID, nil, account)
	writeJSON(w, http.StatusCreated, account)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requirePermission(w, r, auth.PermTransactionRead); !ok {
		return
	}
	account, err := a.ledger.GetAccount(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermTransactionRead); !ok {
		return
	}
	memberID := strings.TrimSpace(r.URL.Query().Get("member_id"))
	if memberID == "" {
		writeError(w, r, http.StatusBadRequest, "member_id query parameter is required")
		return
	}
	accounts, err := a.ledger.ListAccounts(r.Context(), memberID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

func (a *API) blockAccount(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := a.requirePermission(w, r, auth.PermAccountBlock)
	if !ok {
		return
	}

	var req blockAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	before, err := a.ledger.GetAccount(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	account, err := a.ledger.SetAccountBlocked(r.Context(), id, req.Blocked, principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	action := "account.block"
	if !req.Blocked {
		action = "account.unblock"
	}
	a.record(r, principal.ID, action, "account", account.ID, before, account)
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTransactions(w, r)
	case http.MethodPost:
		a.applyTransaction(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) applyTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePermission(w, r, auth.PermTransactionApply)
	if !ok {
		return
	}

	var req applyTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	txType := ledger.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type)))
	// Opening entries only ever come from OpenAccount; aid movements only
	// from the mutual aid engine.
	if txType != ledger.TxDeposit && txType != ledger.TxWithdrawal {
		writeError(w, r, http.StatusBadRequest, "transaction_type must be DEPOSIT or WITHDRAWAL")
		return
	}
	amount, err := ledger.MoneyFromDecimal(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "amount must have at most two decimal places")
		return
	}

	tx, err := a.ledger.Apply(r.Context(), strings.TrimSpace(req.AccountID), txType, amount,
		strings.TrimSpace(req.Description), principal.ID)
	if err != nil {
		obs.ObserveTransaction(string(txType), "rejected")
		handleDomainError(w, r, err)
		return
	}
	obs.ObserveTransaction(string(txType), "committed")

	a.record(r, principal.ID, "transaction.apply", "transaction", tx.ID,
		map[string]any{"balance": tx.BalanceBefore},
		map[string]any{"balance": tx.BalanceAfter, "reference": tx.Reference})
	a.publishTransaction(r, tx)

	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermTransactionRead); !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := a.ledger.ListTransactions(r.Context(), ledger.TransactionFilter{
		AccountID: strings.TrimSpace(r.URL.Query().Get("account_id")),
		MemberID:  strings.TrimSpace(r.URL.Query().Get("member_id")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// publishTransaction fans a committed entry out to the SSE stream and, when
// configured, the Kafka topic. Both are best-effort.
func (a *API) publishTransaction(r *http.Request, tx ledger.Transaction) {
	if a.stream != nil {
		a.stream.Publish(stream.TransactionEvent{
			Reference:    tx.Reference,
			AccountID:    tx.AccountID,
			Type:         string(tx.Type),
			Amount:       tx.Amount.String(),
			BalanceAfter: tx.BalanceAfter.String(),
			Timestamp:    tx.CreatedAt,
		})
	}
	if a.events != nil {
		event := kafka.TransactionCommitted{
			Reference:    tx.Reference,
			AccountID:    tx.AccountID,
			MemberID:     tx.MemberID,
			Type:         string(tx.Type),
			Amount:       tx.Amount.Decimal(),
			BalanceAfter: tx.BalanceAfter.Decimal(),
			OccurredAt:   tx.CreatedAt,
		}
		if err := a.events.Publish(r.Context(), event); err != nil {
			obs.LogRequest(map[string]any{
				"type":      "event_publish_error",
				"reference": tx.Reference,
				"error":     err.Error(),
			})
		}
	}
}
