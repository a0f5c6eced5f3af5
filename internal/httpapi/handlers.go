package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cajards.org/internal/audit"
	"cajards.org/internal/auth"
	"cajards.org/internal/events/kafka"
	"cajards.org/internal/ledger"
	"cajards.org/internal/obs"
	"cajards.org/internal/stream"
)

// ReadyProbe reports storage readiness (DB ping when a DB is wired).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the ledger core.
type API struct {
	mux        *http.ServeMux
	ledger     ledger.Service
	recorder   *audit.Recorder
	stream     *stream.Stream
	events     *kafka.Publisher
	readyProbe ReadyProbe
	version    string

	rateLimitPerSecond int
	rateLimitBurst     int
	maxBodyBytes       int64
}

// Option configures optional API collaborators.
type Option func(*API)

// WithStream wires the SSE fan-out for committed transactions.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithEvents wires the Kafka transaction publisher.
func WithEvents(p *kafka.Publisher) Option {
	return func(a *API) { a.events = p }
}

// WithRateLimit overrides the per-IP token bucket defaults.
func WithRateLimit(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.rateLimitPerSecond = perSecond
		}
		if burst > 0 {
			a.rateLimitBurst = burst
		}
	}
}

// WithMaxBodyBytes overrides the request body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(svc ledger.Service, recorder *audit.Recorder, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		ledger:     svc,
		recorder:   recorder,
		readyProbe: rp,
		version:    version,

		rateLimitPerSecond: 25,
		rateLimitBurst:     50,
		maxBodyBytes:       1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/members", a.handleMembersCollection)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)
	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/transactions", a.handleTransactions)
	a.mux.HandleFunc("/v1/mutual-aid/contributions", a.handleContributions)
	a.mux.HandleFunc("/v1/mutual-aid/requests", a.handleAidRequests)
	a.mux.HandleFunc("/v1/mutual-aid/requests/", a.handleAidRequestResource)
	a.mux.HandleFunc("/v1/audit-logs", a.handleAuditLogs)
	a.mux.HandleFunc("/v1/dashboard/stats", a.handleDashboardStats)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateLimitBurst, a.rateLimitPerSecond)
	h = Logging(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- service endpoints ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "caja-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "caja-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

// requirePermission consults the access-control gate before anything else in
// a handler runs: no decoding, no domain validation, no existence checks.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	if err := auth.Authorize(principal, perm); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return auth.Principal{}, false
	}
	return principal, true
}

// record appends one audit entry for a completed mutation.
func (a *API) record(r *http.Request, actor, action, entityType, entityID string, oldValue, newValue any) {
	if a.recorder == nil {
		return
	}
	a.recorder.Record(r.Context(), actor, action, entityType, entityID, oldValue, newValue, clientIP(r))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit, err = parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		return 0, 0, err
	}
	rawOffset := strings.TrimSpace(r.URL.Query().Get("offset"))
	if rawOffset != "" {
		offset, err = strconv.Atoi(rawOffset)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// handleDomainError maps the ledger error taxonomy onto HTTP statuses. Detail
// stays limited to what the caller can act on.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrNotEligible):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrAccountBlocked),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrConcurrency):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
