package httpapi

import (
	"net/http"
	"strings"
	"time"

	"cajards.org/internal/auth"
)

type tokenRequest struct {
	User string `json:"user"`
	Role string `json:"role"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	role := auth.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	if !auth.KnownRole(role) {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}

	token, err := auth.GenerateToken(user, role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.record(r, user, "auth.token.issued", "token", user, nil, map[string]any{
		"role":       role,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
