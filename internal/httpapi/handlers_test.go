package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agropos/backend/internal/bridge"
	"agropos/backend/internal/cache"
	"agropos/backend/internal/domain"
	"agropos/backend/internal/service"
	"agropos/backend/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopMetricsCache{}, 5*time.Second)
	auth := NewAuthManager("test-secret-test-secret-test-secret", time.Hour, repo)
	api := New(svc, auth, bridge.New(nil, t.TempDir(), "test"), "http://localhost:5173")
	return api.Handler()
}

func login(t *testing.T, handler http.Handler, username, password string) domain.LoginResponse {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login for %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func doJSON(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginReturnsModuleMenu(t *testing.T) {
	handler := newTestHandler(t)

	resp := login(t, handler, "sales", "staff123")
	if resp.Role != "sales" {
		t.Fatalf("expected sales role, got %s", resp.Role)
	}
	want := map[string]bool{"dashboard": true, "pos": true, "crm": true}
	if len(resp.Modules) != len(want) {
		t.Fatalf("unexpected module menu: %v", resp.Modules)
	}
	for _, m := range resp.Modules {
		if !want[m] {
			t.Fatalf("unexpected module %s in sales menu", m)
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(handler, http.MethodGet, "/api/v1/metrics", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestModuleGateBlocksForeignModules(t *testing.T) {
	handler := newTestHandler(t)
	viewer := login(t, handler, "viewer", "staff123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/inventory", viewer.AccessToken, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer must not reach inventory, got %d", rec.Code)
	}
	var resp domain.ModuleChangeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode denial: %v", err)
	}
	if resp.Allowed || resp.Message == "" {
		t.Fatalf("denial payload incomplete: %+v", resp)
	}

	// The same role still reaches its own modules.
	rec = doJSON(handler, http.MethodGet, "/api/v1/reports/sales", viewer.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer should reach reports, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestModulesEndpointReportsMenuAndCapabilities(t *testing.T) {
	handler := newTestHandler(t)
	accountant := login(t, handler, "accountant", "staff123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/modules", accountant.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("modules failed: %d", rec.Code)
	}
	var resp struct {
		Modules      []string `json:"modules"`
		Capabilities struct {
			IsAdmin           bool `json:"is_admin"`
			CanViewFinancials bool `json:"can_view_financials"`
		} `json:"capabilities"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode modules: %v", err)
	}
	if len(resp.Modules) != 3 {
		t.Fatalf("accountant should see 3 modules, got %v", resp.Modules)
	}
	if resp.Capabilities.IsAdmin {
		t.Fatalf("accountant must not be admin")
	}
	if !resp.Capabilities.CanViewFinancials {
		t.Fatalf("accountant sees finance, capability must follow")
	}
}

func TestModuleSelectDenialIsOK(t *testing.T) {
	handler := newTestHandler(t)
	sales := login(t, handler, "sales", "staff123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/modules/select", sales.AccessToken, `{"module":"finance"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("module select must answer 200, got %d", rec.Code)
	}
	var resp domain.ModuleChangeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Allowed {
		t.Fatalf("sales must be denied finance")
	}
}

func TestSaleEndToEnd(t *testing.T) {
	handler := newTestHandler(t)
	sales := login(t, handler, "sales", "staff123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/pos/sale", sales.AccessToken,
		`{"branch_name":"Main","items":[{"item_id":"item-catfood-2","qty":2}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", rec.Code, rec.Body.String())
	}
	var saleResp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if saleResp.Transaction.TotalCents != 124000 {
		t.Fatalf("expected total 124000, got %d", saleResp.Transaction.TotalCents)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/receipts/"+saleResp.Transaction.ID, sales.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/transactions?limit=5", sales.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions failed: %d", rec.Code)
	}
}

func TestMetricsHideFinancialsPerRole(t *testing.T) {
	handler := newTestHandler(t)
	admin := login(t, handler, "admin", "admin123")
	sales := login(t, handler, "sales", "staff123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/pos/sale", sales.AccessToken,
		`{"branch_name":"Main","items":[{"item_id":"item-dogfood-10","qty":1}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d", rec.Code)
	}

	type metricsEnvelope struct {
		Metrics domain.Metrics `json:"metrics"`
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/metrics", admin.AccessToken, "")
	var adminView metricsEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&adminView); err != nil {
		t.Fatalf("decode admin metrics: %v", err)
	}
	if adminView.Metrics.TotalCOGSCents == 0 {
		t.Fatalf("admin must see cogs")
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/metrics", sales.AccessToken, "")
	var salesView metricsEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&salesView); err != nil {
		t.Fatalf("decode sales metrics: %v", err)
	}
	if salesView.Metrics.TotalCOGSCents != 0 || salesView.Metrics.GrossProfitCents != 0 {
		t.Fatalf("sales role must not see cogs/profit: %+v", salesView.Metrics)
	}
}

func TestSalesReportFormats(t *testing.T) {
	handler := newTestHandler(t)
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/reports/sales?format=csv", admin.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv report failed: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "section,key,value") {
		t.Fatalf("csv header missing")
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/reports/sales?format=html", admin.AccessToken, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<html") {
		t.Fatalf("html report failed: %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/reports/sales?format=xml", admin.AccessToken, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format must 400, got %d", rec.Code)
	}
}

func TestStaffCreationValidatesRole(t *testing.T) {
	handler := newTestHandler(t)
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/users/staff", admin.AccessToken,
		`{"username":"newacct","password":"secret99","role":"accountant"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("staff creation failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/users/staff", admin.AccessToken,
		`{"username":"badrole","password":"secret99","role":"superuser"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role must 400, got %d", rec.Code)
	}

	// New account can log in immediately.
	login(t, handler, "newacct", "secret99")
}

func TestExportRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/export", admin.AccessToken,
		`{"filename":"report.csv","payload":"aGVsbG8="}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("export failed: %d %s", rec.Code, rec.Body.String())
	}
	var result domain.ExportResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode export result: %v", err)
	}
	if !result.Success || result.Path == "" {
		t.Fatalf("export should succeed with a path: %+v", result)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/export", admin.AccessToken,
		`{"filename":"x.csv","payload":"not-base64!!"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad payload must 400, got %d", rec.Code)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	handler := newTestHandler(t)
	rec := doJSON(handler, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health check failed: %d", rec.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	handler := newTestHandler(t)
	rec := doJSON(handler, http.MethodGet, "/healthz", "", "")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing frame options header")
	}
}
