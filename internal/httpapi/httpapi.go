package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"agropos/backend/internal/access"
	"agropos/backend/internal/bridge"
	"agropos/backend/internal/domain"
	"agropos/backend/internal/service"
	"agropos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	bridge        *bridge.Bridge
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, br *bridge.Bridge, allowedOrigin string) *API {
	if br == nil {
		br = bridge.New(nil, "", "")
	}
	return &API{
		service:       svc,
		auth:          auth,
		bridge:        br,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
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
	kept = append(kept, now)
	l.entries[key] = kept
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

	mux.HandleFunc("/api/v1/modules", a.requireAuth(a.handleModules))
	mux.HandleFunc("/api/v1/modules/select", a.requireAuth(a.handleModuleSelect))
	mux.HandleFunc("/api/v1/app/info", a.requireAuth(a.handleAppInfo))

	mux.HandleFunc("/api/v1/branches", a.requireAuth(a.handleBranches))
	mux.HandleFunc("/api/v1/branches/", a.requireAuth(a.handleBranchActions, access.ModuleBranches))

	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, access.ModuleInventory))
	mux.HandleFunc("/api/v1/inventory/", a.requireAuth(a.handleInventoryActions, access.ModuleInventory))

	mux.HandleFunc("/api/v1/pos/catalog", a.requireAuth(a.handleCatalog, access.ModulePOS))
	mux.HandleFunc("/api/v1/pos/sale", a.requireAuth(a.handleSale, access.ModulePOS))
	mux.HandleFunc("/api/v1/transactions", a.requireAuth(a.handleTransactions, access.ModulePOS, access.ModuleFinance, access.ModuleReports))
	mux.HandleFunc("/api/v1/receipts/", a.requireAuth(a.handleReceipt, access.ModulePOS))

	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, access.ModuleCRM))

	mux.HandleFunc("/api/v1/metrics", a.requireAuth(a.handleMetrics, access.ModuleDashboard))
	mux.HandleFunc("/api/v1/metrics/branches", a.requireAuth(a.handleBranchStats, access.ModuleDashboard))
	mux.HandleFunc("/api/v1/alerts/low-stock", a.requireAuth(a.handleLowStockAlerts, access.ModuleDashboard, access.ModuleInventory))
	mux.HandleFunc("/api/v1/alerts/expiring", a.requireAuth(a.handleExpirationAlerts, access.ModuleDashboard, access.ModuleInventory))

	mux.HandleFunc("/api/v1/reports/sales", a.requireAuth(a.handleSalesReport, access.ModuleReports))
	mux.HandleFunc("/api/v1/export", a.requireAuth(a.handleExport, access.ModuleReports))

	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings, access.ModuleSettings))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, access.ModuleSettings))

	return a.withMiddleware(mux)
}

// requireAuth validates the bearer token and, when modules are given, routes
// the navigation through the access gate: the caller's role must grant at
// least one of them. The gate is the single permission authority; handlers
// only re-check capabilities for field-level rules.
func (a *API) requireAuth(next http.HandlerFunc, modules ...string) http.HandlerFunc {
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

		if len(modules) > 0 && !anyModuleAllowed(access.Role(actor.Role), modules) {
			writeJSON(w, http.StatusForbidden, domain.ModuleChangeResponse{
				Allowed: false,
				Role:    actor.Role,
				Message: fmt.Sprintf("role %q does not have access to this module", actor.Role),
			})
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func anyModuleAllowed(role access.Role, modules []string) bool {
	for _, module := range modules {
		if access.CanAccess(role, module) {
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

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules":      a.service.AllowedModules(r.Context()),
		"capabilities": a.service.Capabilities(r.Context()),
	})
}

// handleModuleSelect resolves a navigation request. Denial is a regular 200
// response with allowed=false, so the client can show the message and stay
// where it is.
func (a *API) handleModuleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ModuleChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, a.service.SelectModule(r.Context(), req))
}

func (a *API) handleAppInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.bridge.AppInfo())
}

func (a *API) handleBranches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		branches, err := a.service.ListBranches(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
	case http.MethodPost:
		actor, ok := service.ActorFromContext(r.Context())
		if !ok || !access.CanAccess(access.Role(actor.Role), access.ModuleBranches) {
			writeError(w, http.StatusForbidden, errors.New("branches module access required"))
			return
		}

		var req domain.BranchCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		branch, err := a.service.CreateBranch(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleBranchActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/branches/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("branch id required"))
		return
	}

	branchID, action, _ := strings.Cut(tail, "/")
	if action != "deactivate" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, errors.New("unknown branch action"))
		return
	}

	branch, err := a.service.DeactivateBranch(r.Context(), branchID)
	if err != nil {
		writeError(w, statusForServiceError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/inventory/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("item id required"))
		return
	}

	itemID, action, _ := strings.Cut(tail, "/")
	switch {
	case action == "" && r.Method == http.MethodPatch:
		var req domain.ItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateItem(r.Context(), itemID, req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case action == "stock" && r.Method == http.MethodPut:
		var req domain.StockSetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.SetStock(r.Context(), itemID, req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown inventory action"))
	}
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		writeError(w, statusForServiceError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	transactions, err := a.service.ListTransactions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/receipts/"
	txID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if txID == "" {
		writeError(w, http.StatusBadRequest, errors.New("transaction id required"))
		return
	}

	receipt, err := a.service.Receipt(r.Context(), txID)
	if err != nil {
		writeError(w, statusForServiceError(err), err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(receipt.HTML))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.ListCustomers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	metrics, err := a.service.Metrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (a *API) handleBranchStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stats, err := a.service.BranchStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch_stats": stats})
}

func (a *API) handleLowStockAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	alerts, err := a.service.LowStockAlerts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleExpirationAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	alerts, err := a.service.ExpirationAlerts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	report, err := a.service.SalesReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="sales-report.csv"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(salesReportToCSV(report)))
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(salesReportToPrintableHTML(report)))
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown report format"))
	}
}

// handleExport routes an export payload through the platform bridge. Failure
// comes back as a structured result with success=false, not as an HTTP
// error, so the client can show the message inline.
func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("payload must be base64 encoded"))
		return
	}

	writeJSON(w, http.StatusOK, a.bridge.Export(payload, req.Filename))
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.service.GetSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	case http.MethodPatch:
		var req domain.SettingsUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		settings, err := a.service.UpdateSettings(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff()})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		staff, err := a.auth.CreateStaff(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"staff": staff})
	default:
		writeMethodNotAllowed(w)
	}
}

func statusForServiceError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "required") || strings.Contains(msg, "permission") {
		return http.StatusForbidden
	}
	return http.StatusUnprocessableEntity
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// A fault in one module handler must not take the process down; the
		// client falls back to the dashboard and shows the message.
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[httpapi] WARN: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error":           "module failed to load",
					"fallback_module": access.ModuleDashboard,
				})
			}
		}()

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func salesReportToCSV(report domain.SalesReport) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,generated_at,%s", report.GeneratedAt),
		fmt.Sprintf("summary,total_revenue_cents,%d", report.Metrics.TotalRevenueCents),
		fmt.Sprintf("summary,order_count,%d", report.Metrics.OrderCount),
		fmt.Sprintf("summary,average_order_cents,%d", report.Metrics.AverageOrderCents),
		fmt.Sprintf("summary,total_cogs_cents,%d", report.Metrics.TotalCOGSCents),
		fmt.Sprintf("summary,gross_profit_cents,%d", report.Metrics.GrossProfitCents),
		fmt.Sprintf("summary,inventory_value_cents,%d", report.Metrics.InventoryValueCents),
		fmt.Sprintf("summary,inventory_weight_kg,%.3f", report.Metrics.InventoryWeightKg),
	}
	for _, branch := range report.BranchStats {
		lines = append(lines, fmt.Sprintf("branch,%s_revenue_cents,%d", branch.BranchName, branch.RevenueCents))
		lines = append(lines, fmt.Sprintf("branch,%s_orders,%d", branch.BranchName, branch.Orders))
		lines = append(lines, fmt.Sprintf("branch,%s_today_revenue_cents,%d", branch.BranchName, branch.TodayRevenueCents))
		lines = append(lines, fmt.Sprintf("branch,%s_today_orders,%d", branch.BranchName, branch.TodayOrders))
	}
	return strings.Join(lines, "\n") + "\n"
}

// salesReportHTMLTmpl renders printable sales reports. User-controlled
// fields are auto-escaped by html/template.
var salesReportHTMLTmpl = template.Must(template.New("sales-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Sales Report {{.GeneratedAt}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Sales Report</h2>
  <p>Generated: {{.GeneratedAt}}</p>
  <p>Revenue: {{.Metrics.TotalRevenueCents}} | Orders: {{.Metrics.OrderCount}} | Average: {{.Metrics.AverageOrderCents}}</p>
  <p>COGS: {{.Metrics.TotalCOGSCents}} | Profit: {{.Metrics.GrossProfitCents}} | Inventory Value: {{.Metrics.InventoryValueCents}}</p>

  <h3>By Branch</h3>
  <table>
    <thead><tr><th>Branch</th><th>Revenue</th><th>Orders</th><th>Today Revenue</th><th>Today Orders</th><th>Weight Kg</th></tr></thead>
    <tbody>{{range .BranchStats}}<tr><td>{{.BranchName}}</td><td style="text-align:right;">{{.RevenueCents}}</td><td style="text-align:right;">{{.Orders}}</td><td style="text-align:right;">{{.TodayRevenueCents}}</td><td style="text-align:right;">{{.TodayOrders}}</td><td style="text-align:right;">{{printf "%.3f" .InventoryWeightKg}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func salesReportToPrintableHTML(report domain.SalesReport) string {
	var buf bytes.Buffer
	if err := salesReportHTMLTmpl.Execute(&buf, report); err != nil {
		// Fallback: return a plain error page rather than leaking internals.
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
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

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so internals never leak; 4xx
	// responses are user-facing and keep the original message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
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
