package httpapi

import (
	"net/http"
	"strings"
	"time"

	"cajards.org/internal/auth"
	"cajards.org/internal/ledger"
)

type createMemberRequest struct {
	IdentityDocument string `json:"identity_document"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	BirthDate        string `json:"birth_date"`
}

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMembers(w, r)
	case http.MethodPost:
		a.createMember(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/members/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "member id is required")
		return
	}
	switch sub {
	case "":
		a.getMember(w, r, id)
	case "accounts":
		a.listMemberAccounts(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) createMember(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePermission(w, r, auth.PermMemberCreate)
	if !ok {
		return
	}

	var req createMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	birthDate, err := time.Parse("2006-01-02", strings.TrimSpace(req.BirthDate))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "birth_date must be YYYY-MM-DD")
		return
	}

	member, err := a.ledger.CreateMember(r.Context(), ledger.MemberParams{
		IdentityDocument: strings.TrimSpace(req.IdentityDocument),
		FirstName:        strings.TrimSpace(req.FirstName),
		LastName:         strings.TrimSpace(req.LastName),
		Email:            strings.TrimSpace(req.Email),
		Phone:            strings.TrimSpace(req.Phone),
		Address:          strings.TrimSpace(req.Address),
		BirthDate:        birthDate,
	}, principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.record(r, principal.ID, "member.create", "member", member.ID, nil, member)
	writeJSON(w, http.StatusCreated, member)
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requirePermission(w, r, auth.PermMemberRead); !ok {
		return
	}
	member, err := a.ledger.GetMember(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePermission(w, r, auth.PermMemberRead); !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	members, err := a.ledger.ListMembers(r.Context(), limit, offset)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

func (a *API) listMemberAccounts(w http.ResponseWriter, r *http.Request, memberID string) {
	if _, ok := a.requirePermission(w, r, auth.PermMemberRead); !ok {
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
