package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cajards.org/internal/auth"
	"cajards.org/internal/ledger"
)

type recordContributionRequest struct {
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type fileAidRequestRequest struct {
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type decideAidRequestRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

func (a *API) handleContributions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePermission(w, r, auth.PermContributionRecord)
	if !ok {
		return
	}

	var req recordContributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := ledger.MoneyFromDecimal(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "amount must have at most two decimal places")
		return
	}

	contribution, err := a.ledger.RecordContribution(r.Context(), strings.TrimSpace(req.MemberID), amount, principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.record(r, principal.ID, "contribution.record", "contribution", contribution.ID, nil, contribution)
	writeJSON(w, http.StatusCreated, contribution)
}

func (a *API) handleAidRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAidRequests(w, r)
	case http.MethodPost:
		a.fileAidRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) fileAidRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePermission(w, r, auth.PermAidRequest)
	if !ok {
		return
	}

	var req fileAidRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := ledger.MoneyFromDecimal(req.Amount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "amount must have at most two decimal places")
		return
	}

	request, err := a.ledger.FileAidRequest(r.Context(), strings.TrimSpace(req.MemberID), amount,
		strings.TrimSpace(req.Reason), principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.record(r, principal.ID, "aid.request.file", "aid_request", request.ID, nil, request)
	writeJSON(w, http.StatusCreated, request)
}

func (a *API) listAidRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermTransactionRead); !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := ledger.AidRequestStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	requests, err := a.ledger.ListAidRequests(r.Context(), status, limit, offset)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

func (a *API) handleAidRequestResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/mutual-aid/requests/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || sub != "decision" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.decideAidRequest(w, r, id)
}

func (a *API) decideAidRequest(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := a.requirePermission(w, r, auth.PermAidDecide)
	if !ok {
		return
	}

	var req decideAidRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	request, err := a.ledger.DecideAidRequest(r.Context(), id, req.Approve, strings.TrimSpace(req.Notes), principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.record(r, principal.ID, "aid.request.decide", "aid_request", request.ID,
		map[string]any{"status": ledger.AidPending},
		map[string]any{"status": request.Status, "notes": request.Notes})
	writeJSON(w, http.StatusOK, request)
}
