package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/logger"
	"branchledger/backend/internal/service"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/xid"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log zerolog.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           log.With().Str("component", "httpapi").Logger(),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/records", a.requireAuth(a.handleRecords, domain.RoleOperator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/records/", a.requireAuth(a.handleRecordActions, domain.RoleOperator, domain.RoleAdmin))

	// exact tray paths win over the /trays/{branch} prefix
	mux.HandleFunc("/api/v1/trays", a.requireAuth(a.handleTraySummary, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/trays/withdraw-all", a.requireAuth(a.handleWithdrawAll, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/trays/recompute", a.requireAuth(a.handleRecompute, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/trays/consistency", a.requireAuth(a.handleConsistency, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/trays/", a.requireAuth(a.handleTrayActions, domain.RoleOperator, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses, domain.RoleOperator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/expenses/", a.requireAuth(a.handleExpenseActions, domain.RoleOperator, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/branch-status", a.requireAuth(a.handleBranchStatus, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/operators", a.requireAuth(a.handleOperators, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		reqLog := logger.FromContext(ctx, a.log).With().Str("actor", actor.Username).Logger()
		next(w, r.WithContext(logger.WithContext(ctx, reqLog)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF validates the token on state-changing methods. It writes the
// error response itself and returns false when the request must stop.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		includeWithdrawn := false
		if raw := strings.TrimSpace(query.Get("include_withdrawn")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("include_withdrawn must be a boolean"))
				return
			}
			includeWithdrawn = parsed
		}
		limit := parsePositiveLimit(query.Get("limit"), 100, 500)

		records, err := a.service.ListDailyRecords(r.Context(), query.Get("branch"), query.Get("from"), query.Get("to"), includeWithdrawn, limit)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	case http.MethodPost:
		var req domain.DailyRecordCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		resp, err := a.service.CreateDailyRecord(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleRecordActions serves /records/{id}, /records/{id}/withdraw and
// /records/{id}/verify.
func (a *API) handleRecordActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResourcePath(r.URL.Path, "/api/v1/records/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid record path"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			rec, err := a.service.GetDailyRecord(r.Context(), id)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"record": rec})
		case http.MethodPatch:
			var req domain.DailyRecordUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			resp, err := a.service.UpdateDailyRecord(r.Context(), id, req)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		case http.MethodDelete:
			tray, err := a.service.DeleteDailyRecord(r.Context(), id)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "tray": tray})
		default:
			writeMethodNotAllowed(w)
		}
	case "withdraw":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		result, err := a.service.WithdrawRecord(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "verify":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		rec, err := a.service.ToggleVerify(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown record action %q", action))
	}
}

func (a *API) handleTraySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.service.TraySummary(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTrayActions serves /trays/{branch} and /trays/{branch}/withdraw.
func (a *API) handleTrayActions(w http.ResponseWriter, r *http.Request) {
	branch, action, ok := splitResourcePath(r.URL.Path, "/api/v1/trays/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid tray path"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		status, err := a.service.TrayStatus(r.Context(), branch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tray": status})
	case "withdraw":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		result, err := a.service.WithdrawBranch(r.Context(), branch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown tray action %q", action))
	}
}

func (a *API) handleWithdrawAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.WithdrawAllRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:withdraw-all:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	result, err := a.service.WithdrawAll(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRecompute rebuilds one tray when the body names a branch, every tray
// otherwise. The body may be empty.
func (a *API) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.RecomputeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if strings.TrimSpace(req.Branch) != "" {
		status, err := a.service.Recompute(r.Context(), req.Branch)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tray": status})
		return
	}

	result, err := a.service.RecomputeAll(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleConsistency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.CheckConsistency(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		year, err := parseOptionalInt(query.Get("year"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("year must be a number"))
			return
		}
		month, err := parseOptionalInt(query.Get("month"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("month must be a number"))
			return
		}

		expenses, err := a.service.ListBranchExpenses(r.Context(), query.Get("branch"), year, month)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, expenses)
	case http.MethodPost:
		var req domain.ExpenseSaveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expense, err := a.service.SaveBranchExpense(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleExpenseActions serves /expenses/{id}/pay and /expenses/{id}/unpay.
func (a *API) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	id, action, ok := splitResourcePath(r.URL.Path, "/api/v1/expenses/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid expense path"))
		return
	}

	var (
		resp domain.ExpensePaymentResponse
		err  error
	)
	switch action {
	case "pay":
		resp, err = a.service.MarkExpensePaid(r.Context(), id)
	case "unpay":
		resp, err = a.service.MarkExpenseUnpaid(r.Context(), id)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown expense action %q", action))
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("branch"), query.Get("date"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleBranchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.BranchStatus(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": report})
}

func (a *API) handleOperators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"operators": a.auth.ListOperators(r.Context())})
	case http.MethodPost:
		var req domain.OperatorCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		operator, err := a.auth.CreateOperator(r.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrDuplicate) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"operator": operator})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		reqLog := a.log.With().Str("request_id", requestID).Logger()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		defer func() {
			if p := recover(); p != nil {
				reqLog.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("panic recovered")
				writeError(rec, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), reqLog)))

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", clientKey(r)).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

// errorStatus maps service and ledger errors to HTTP status codes.
func errorStatus(err error) int {
	var cerr *ledger.ConsistencyError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, store.ErrRetryable), errors.As(err, &cerr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		l := logger.FromContext(r.Context(), a.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err)
}

// splitResourcePath splits "<prefix>{id}[/{action}]" into id and action.
func splitResourcePath(path string, prefix string) (string, string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", "", false
	}
	parts := strings.Split(tail, "/")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}

func parseOptionalInt(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError masks 5xx messages; 4xx messages are meant for the user.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
