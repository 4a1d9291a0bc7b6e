package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/service"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/store/memory"
)

// newTestAPI builds a full API on the in-memory store with a real AuthManager,
// ledger and service so handler tests go through the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	l := ledger.New(repo, ledger.Options{Logger: zerolog.Nop(), RetryBase: time.Millisecond})
	svc := service.New(repo, l, nil, service.Options{Logger: zerolog.Nop(), Location: time.UTC})
	auth := NewAuthManager(t.Context(), "test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*", zerolog.Nop())
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func todayString() string {
	return time.Now().UTC().Format(domain.DateLayout)
}

// doJSON sends a request through the full handler. Mutating requests get a
// fresh CSRF token.
func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, res.Body.String())
	}
	return out
}

func createRecord(t *testing.T, api *API, token string, branch string, cash string) domain.DailyRecordMutation {
	t.Helper()
	res := doJSON(t, api, http.MethodPost, "/api/v1/records", token, map[string]any{
		"branch":     branch,
		"date":       todayString(),
		"cash_sales": cash,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create record: expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	return decodeBody[domain.DailyRecordMutation](t, res)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody[map[string]any](t, res)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_OperatorCarriesBranch(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "centro", Password: "operator123"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	body := decodeBody[domain.LoginResponse](t, res)
	if body.AccessToken == "" || body.Role != domain.RoleOperator || body.Branch != "centro" {
		t.Fatalf("unexpected login response %+v", body)
	}

	actor, err := api.auth.ParseToken(body.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Branch != "centro" || actor.Role != domain.RoleOperator {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestRecordsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/api/v1/records", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCreateRecordUpdatesTray(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "centro", "operator123")

	created := createRecord(t, api, token, "", "80")
	if created.Record.Branch != "centro" {
		t.Fatalf("expected record on operator branch, got %q", created.Record.Branch)
	}
	if !created.Tray.Cash.Equal(created.Record.CashSales) {
		t.Fatalf("expected tray cash %s, got %s", created.Record.CashSales, created.Tray.Cash)
	}

	res := doJSON(t, api, http.MethodGet, "/api/v1/trays/centro", token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	tray := decodeBody[map[string]domain.TrayStatus](t, res)["tray"]
	if tray.Cash.String() != "80" || tray.IsEmpty {
		t.Fatalf("unexpected tray %+v", tray)
	}

	dup := doJSON(t, api, http.MethodPost, "/api/v1/records", token, map[string]any{"date": todayString(), "cash_sales": "5"})
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second record of the day, got %d (body: %s)", dup.Code, dup.Body.String())
	}
}

func TestCreateRecordRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "centro", "operator123")

	future := time.Now().UTC().AddDate(0, 0, 3).Format(domain.DateLayout)
	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"future date", map[string]any{"date": future, "cash_sales": "1"}, http.StatusBadRequest},
		{"negative amount", map[string]any{"date": todayString(), "cash_sales": "-1"}, http.StatusBadRequest},
		{"sub-cent amount", map[string]any{"date": todayString(), "cash_sales": "0.005"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"date": todayString(), "tip": "1"}, http.StatusBadRequest},
		{"other branch", map[string]any{"branch": "tacuari", "date": todayString()}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := doJSON(t, api, http.MethodPost, "/api/v1/records", token, tc.body)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestOperatorCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "centro", "operator123")

	for _, path := range []string{"/api/v1/trays", "/api/v1/trays/consistency", "/api/v1/branch-status", "/api/v1/audit-logs", "/api/v1/users/operators"} {
		res := doJSON(t, api, http.MethodGet, path, token, nil)
		if res.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, res.Code)
		}
	}

	res := doJSON(t, api, http.MethodGet, "/api/v1/trays/tacuari", token, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch tray, got %d", res.Code)
	}
}

func TestRecordLifecycle(t *testing.T) {
	api := newTestAPI(t)
	operator := loginAs(t, api, "centro", "operator123")
	admin := loginAsAdmin(t, api)

	created := createRecord(t, api, operator, "centro", "100")
	path := "/api/v1/records/" + created.Record.ID

	res := doJSON(t, api, http.MethodPatch, path, operator, map[string]any{"cash_sales": "60"})
	if res.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	updated := decodeBody[domain.DailyRecordMutation](t, res)
	if updated.Tray.Cash.String() != "60" {
		t.Fatalf("expected tray cash 60 after edit, got %s", updated.Tray.Cash)
	}

	res = doJSON(t, api, http.MethodPost, path+"/verify", operator, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("verify as operator: expected 403, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodPost, path+"/verify", admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("verify as admin: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, path+"/withdraw", operator, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	withdrawn := decodeBody[domain.WithdrawRecordResult](t, res)
	if withdrawn.AmountRemoved.String() != "60" || !withdrawn.Tray.IsEmpty {
		t.Fatalf("unexpected withdraw result %+v", withdrawn)
	}

	res = doJSON(t, api, http.MethodPost, path+"/withdraw", operator, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("second withdraw: expected 200, got %d", res.Code)
	}
	if again := decodeBody[domain.WithdrawRecordResult](t, res); !again.AlreadyWithdrawn {
		t.Fatalf("expected already_withdrawn on second withdraw")
	}

	res = doJSON(t, api, http.MethodDelete, path, admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	res = doJSON(t, api, http.MethodGet, path, admin, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, path+"/archive", admin, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", res.Code)
	}
}

func TestWithdrawAllRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	createRecord(t, api, loginAs(t, api, "centro", "operator123"), "centro", "80")
	createRecord(t, api, loginAs(t, api, "tacuari", "operator123"), "tacuari", "130")

	res := doJSON(t, api, http.MethodPost, "/api/v1/trays/withdraw-all", admin, domain.WithdrawAllRequest{ManagerPIN: "000000"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("wrong pin: expected 403, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/trays/withdraw-all", admin, domain.WithdrawAllRequest{ManagerPIN: "123456"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decodeBody[domain.BulkResult](t, res)
	if result.Failed != 0 || result.TotalAmount.String() != "210" {
		t.Fatalf("unexpected bulk result %+v", result)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/trays", admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", res.Code)
	}
	summary := decodeBody[domain.TraySummary](t, res)
	if !summary.Totals.Total.IsZero() {
		t.Fatalf("expected empty trays after withdraw-all, got %+v", summary)
	}
}

func TestRecomputeAcceptsEmptyBody(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	createRecord(t, api, loginAs(t, api, "centro", "operator123"), "centro", "40")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trays/recompute", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if result := decodeBody[domain.BulkResult](t, res); result.Succeeded < 1 {
		t.Fatalf("expected at least one recomputed tray, got %+v", result)
	}

	one := doJSON(t, api, http.MethodPost, "/api/v1/trays/recompute", admin, domain.RecomputeRequest{Branch: "centro"})
	if one.Code != http.StatusOK {
		t.Fatalf("single branch: expected 200, got %d (body: %s)", one.Code, one.Body.String())
	}
	if tray := decodeBody[map[string]domain.TrayStatus](t, one)["tray"]; tray.Cash.String() != "40" {
		t.Fatalf("expected recomputed cash 40, got %s", tray.Cash)
	}
}

func TestExpenseRoutes(t *testing.T) {
	api := newTestAPI(t)
	operator := loginAs(t, api, "centro", "operator123")
	admin := loginAsAdmin(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/expenses", operator, map[string]any{"category": "LUZ", "amount": "30"})
	if res.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	expense := decodeBody[map[string]domain.BranchExpense](t, res)["expense"]

	res = doJSON(t, api, http.MethodPost, "/api/v1/expenses", operator, map[string]any{"category": "ALQUILER", "amount": "500"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("rent as operator: expected 403, got %d", res.Code)
	}

	payPath := fmt.Sprintf("/api/v1/expenses/%s/pay", expense.ID)
	res = doJSON(t, api, http.MethodPost, payPath, operator, nil)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("pay without today's record: expected 422, got %d (body: %s)", res.Code, res.Body.String())
	}

	createRecord(t, api, operator, "centro", "100")
	res = doJSON(t, api, http.MethodPost, payPath, operator, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("pay: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	paid := decodeBody[domain.ExpensePaymentResponse](t, res)
	if paid.Tray == nil || paid.Tray.AvailableCash.String() != "70" {
		t.Fatalf("expected available cash 70 after paying, got %+v", paid.Tray)
	}

	unpayPath := fmt.Sprintf("/api/v1/expenses/%s/unpay", expense.ID)
	if res = doJSON(t, api, http.MethodPost, unpayPath, operator, nil); res.Code != http.StatusForbidden {
		t.Fatalf("unpay as operator: expected 403, got %d", res.Code)
	}
	if res = doJSON(t, api, http.MethodPost, unpayPath, admin, nil); res.Code != http.StatusOK {
		t.Fatalf("unpay as admin: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/expenses?branch=centro", operator, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", res.Code)
	}
	month := decodeBody[domain.ExpenseMonth](t, res)
	if len(month.Items) != 1 || month.Items[0].IsPaid {
		t.Fatalf("unexpected month %+v", month)
	}

	if res = doJSON(t, api, http.MethodGet, "/api/v1/expenses?month=abc", operator, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("bad month: expected 400, got %d", res.Code)
	}
}

func TestOperatorAccounts(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/users/operators", admin, domain.OperatorCreateRequest{Username: "norte", Password: "pass1234", Branch: "Norte"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	res = doJSON(t, api, http.MethodPost, "/api/v1/users/operators", admin, domain.OperatorCreateRequest{Username: "norte", Password: "pass1234", Branch: "norte"})
	if res.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", res.Code)
	}

	token := loginAs(t, api, "norte", "pass1234")
	actor, err := api.auth.ParseToken(token)
	if err != nil || actor.Branch != "norte" {
		t.Fatalf("expected operator scoped to norte, got %+v (err %v)", actor, err)
	}
}

func TestBranchStatusRoute(t *testing.T) {
	api := newTestAPI(t)
	operator := loginAs(t, api, "tacuari", "operator123")
	admin := loginAsAdmin(t, api)
	createRecord(t, api, operator, "", "30")

	res := doJSON(t, api, http.MethodGet, "/api/v1/branch-status", admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	report := decodeBody[map[string]domain.BranchStatusReport](t, res)["status"]
	if report.Date != todayString() || report.TotalReported != 1 || report.TotalBranches != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, branch := range report.Branches {
		if branch.HasReported != (branch.Branch == "tacuari") {
			t.Fatalf("unexpected branch status %+v", branch)
		}
	}

	bad := doJSON(t, api, http.MethodGet, "/api/v1/branch-status?date=yesterday", admin, nil)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", bad.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", store.ErrDuplicate), http.StatusConflict},
		{store.ErrInvalidInput, http.StatusBadRequest},
		{ledger.ErrPermission, http.StatusForbidden},
		{ledger.ErrPrecondition, http.StatusUnprocessableEntity},
		{ledger.ErrConflict, http.StatusConflict},
		{&ledger.ConsistencyError{}, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Fatalf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestSplitResourcePath(t *testing.T) {
	id, action, ok := splitResourcePath("/api/v1/records/rec-1/withdraw", "/api/v1/records/")
	if !ok || id != "rec-1" || action != "withdraw" {
		t.Fatalf("unexpected split %q %q %v", id, action, ok)
	}
	if _, _, ok := splitResourcePath("/api/v1/records/", "/api/v1/records/"); ok {
		t.Fatalf("expected empty tail to be rejected")
	}
	if _, _, ok := splitResourcePath("/api/v1/records/a/b/c", "/api/v1/records/"); ok {
		t.Fatalf("expected nested path to be rejected")
	}
}

func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}
}
