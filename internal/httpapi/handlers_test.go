package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"cajards.org/internal/audit"
	"cajards.org/internal/auth"
	"cajards.org/internal/ledger"
	"cajards.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CAJA_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := New(ledger.NewInMemory(), audit.NewRecorder(audit.NewMemoryStore()), ReadyProbe{}, "test",
		WithStream(stream.New()),
		WithRateLimit(1000, 1000),
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user, role string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user": user,
		"role": role,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) createMember(headers map[string]string, doc string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/members", map[string]any{
		"identity_document": doc,
		"first_name":        "Maria",
		"last_name":         "Lopez",
		"email":             doc + "@example.org",
		"birth_date":        "1990-05-01",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create member: unexpected status %d", resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp)
}

func TestAPISavingsFlow(t *testing.T) {
	api := newTestAPI(t)
	teller := api.obtainToken("teller-1", "TELLER")

	member := api.createMember(teller, "001-1234567-8")
	memberID := member["id"].(string)
	if member["member_number"] == "" {
		t.Fatalf("member number missing: %v", member)
	}

	// Open 1000.00 CHECKING, withdraw 400.00, then 700.00 must bounce.
	resp := api.post("/v1/accounts", map[string]any{
		"member_id":       memberID,
		"account_type":    "CHECKING",
		"initial_deposit": "1000.00",
	}, teller)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open account: unexpected status %d", resp.StatusCode)
	}
	account := decode[map[string]any](t, resp)
	accountID := account["id"].(string)
	if account["balance"] != "1000.00" {
		t.Fatalf("opening balance = %v", account["balance"])
	}

	resp = api.post("/v1/transactions", map[string]any{
		"account_id":       accountID,
		"transaction_type": "WITHDRAWAL",
		"amount":           "400.00",
	}, teller)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("withdrawal: unexpected status %d", resp.StatusCode)
	}
	tx := decode[map[string]any](t, resp)
	if tx["balance_after"] != "600.00" {
		t.Fatalf("balance after withdrawal = %v", tx["balance_after"])
	}

	resp = api.post("/v1/transactions", map[string]any{
		"account_id":       accountID,
		"transaction_type": "WITHDRAWAL",
		"amount":           "700.00",
	}, teller)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("overdraft: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/accounts/"+accountID, nil, teller)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: unexpected status %d", resp.StatusCode)
	}
	account = decode[map[string]any](t, resp)
	if account["balance"] != "600.00" {
		t.Fatalf("balance after rejected withdrawal = %v", account["balance"])
	}

	resp = api.get("/v1/transactions", url.Values{"account_id": []string{accountID}}, teller)
	payload := decode[map[string]any](t, resp)
	if payload["count"].(float64) != 2 {
		t.Fatalf("expected 2 ledger entries, got %v", payload["count"])
	}
}

func TestAPIAuthorizationBeforeValidation(t *testing.T) {
	api := newTestAPI(t)
	teller := api.obtainToken("teller-1", "TELLER")
	auditor := api.obtainToken("auditor-1", "AUDITOR")

	// A teller may not decide aid requests. The body is deliberately
	// malformed: the gate must answer 403 before any decoding happens.
	resp := api.post("/v1/mutual-aid/requests/some-id/decision", map[string]any{
		"approve": "not-a-bool",
	}, teller)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before validation, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Same for an auditor attempting a mutation with a nonexistent member.
	resp = api.post("/v1/transactions", map[string]any{
		"account_id":       "missing",
		"transaction_type": "DEPOSIT",
		"amount":           "10.00",
	}, auditor)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for auditor mutation, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The auditor can read the audit trail; the teller cannot.
	resp = api.get("/v1/audit-logs", nil, auditor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auditor audit read: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.get("/v1/audit-logs", nil, teller)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("teller audit read: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIMinimumDepositAndDuplicateType(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1", "ADMIN")

	member := api.createMember(admin, "001-9999999-1")
	memberID := member["id"].(string)

	resp := api.post("/v1/accounts", map[string]any{
		"member_id":       memberID,
		"account_type":    "SCHEDULED",
		"initial_deposit": "4999.99",
	}, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("below minimum: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/accounts", map[string]any{
		"member_id":       memberID,
		"account_type":    "SCHEDULED",
		"initial_deposit": "5000.00",
	}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("at minimum: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/accounts", map[string]any{
		"member_id":       memberID,
		"account_type":    "SCHEDULED",
		"initial_deposit": "5000.00",
	}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate type: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIAidEligibilityMapping(t *testing.T) {
	api := newTestAPI(t)
	teller := api.obtainToken("teller-1", "TELLER")

	member := api.createMember(teller, "001-5555555-5")

	// A member enrolled today has no tenure yet.
	resp := api.post("/v1/mutual-aid/requests", map[string]any{
		"member_id": member["id"],
		"amount":    "250.00",
		"reason":    "medical",
	}, teller)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("tenure: expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Contributions have no tenure rule.
	resp = api.post("/v1/mutual-aid/contributions", map[string]any{
		"member_id": member["id"],
		"amount":    "50.00",
	}, teller)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("contribution: expected 201, got %d", resp.StatusCode)
	}
	contribution := decode[map[string]any](t, resp)
	if contribution["month"] == nil || contribution["year"] == nil {
		t.Fatalf("contribution period missing: %v", contribution)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/members", map[string]any{"first_name": "X"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": "u", "role": "ROOT"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}

	resp2 := api.post("/v1/auth/token", map[string]any{"user": ""}, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user, got %d", resp2.StatusCode)
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
