package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"time"

	"agropos/backend/internal/access"
	"agropos/backend/internal/analytics"
	"agropos/backend/internal/bridge"
	"agropos/backend/internal/cache"
	"agropos/backend/internal/domain"
	"agropos/backend/internal/store"
	"agropos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the single controller that owns the application state handle.
// All derived analytics are recomputed from a full repository snapshot; the
// only caching is whole-result, keyed on the snapshot revision.
type Service struct {
	repo         store.Repository
	metricsCache cache.MetricsCache
	cacheTTL     time.Duration
}

func New(repo store.Repository, metricsCache cache.MetricsCache, cacheTTL time.Duration) *Service {
	if metricsCache == nil {
		metricsCache = cache.NoopMetricsCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		repo:         repo,
		metricsCache: metricsCache,
		cacheTTL:     cacheTTL,
	}
}

func (s *Service) actorRole(ctx context.Context) access.Role {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return access.Role(actor.Role)
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || access.Role(actor.Role) != access.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

// AllowedModules reports the caller's module menu.
func (s *Service) AllowedModules(ctx context.Context) []string {
	return access.AllowedModules(s.actorRole(ctx))
}

// SelectModule resolves a navigation request through the access gate. Denial
// is a plain result, never an error, and does not change any state.
func (s *Service) SelectModule(ctx context.Context, req domain.ModuleChangeRequest) domain.ModuleChangeResponse {
	return access.RequestModuleChange(s.actorRole(ctx), strings.TrimSpace(req.Module))
}

func (s *Service) Capabilities(ctx context.Context) access.Capabilities {
	return access.DeriveCapabilities(s.actorRole(ctx))
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Branch{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	if req.Name == "" {
		return domain.Branch{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New("br"),
		Name:      req.Name,
		Address:   req.Address,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Branch{}, fmt.Errorf("%w: branch name already in use", store.ErrConflict)
		}
		return domain.Branch{}, err
	}

	s.logEvent(ctx, actor, "branch_create", created.ID, created.Name)
	return *created, nil
}

func (s *Service) DeactivateBranch(ctx context.Context, branchID string) (domain.Branch, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	if strings.TrimSpace(branchID) == "" {
		return domain.Branch{}, store.ErrInvalidInput
	}

	updated, err := s.repo.DeactivateBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Branch{}, fmt.Errorf("%w: the last active branch cannot be deactivated", store.ErrConflict)
		}
		return domain.Branch{}, err
	}

	s.logEvent(ctx, actor, "branch_deactivate", updated.ID, updated.Name)
	return *updated, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !access.DeriveCapabilities(access.Role(actor.Role)).CanEditInventory {
		return domain.InventoryItem{}, fmt.Errorf("inventory edit permission required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.PriceCents < 1 || req.CostCents < 0 || req.UnitWeightKg < 0 || req.LowStockThreshold < 0 {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateItem(ctx, domain.InventoryItem{
		ID:                xid.New("item"),
		Name:              req.Name,
		Category:          req.Category,
		Stock:             req.InitialStock,
		UnitWeightKg:      req.UnitWeightKg,
		CostCents:         req.CostCents,
		PriceCents:        req.PriceCents,
		LowStockThreshold: req.LowStockThreshold,
		Expirations:       req.Expirations,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logEvent(ctx, actor, "item_create", created.ID, fmt.Sprintf("name=%s,price=%d", created.Name, created.PriceCents))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.InventoryItem{}, fmt.Errorf("inventory edit permission required")
	}
	caps := access.DeriveCapabilities(access.Role(actor.Role))
	if !caps.CanEditInventory {
		return domain.InventoryItem{}, fmt.Errorf("inventory edit permission required")
	}
	if (req.PriceCents != nil || req.CostCents != nil) && !caps.CanEditPrices {
		return domain.InventoryItem{}, fmt.Errorf("price edit permission required")
	}

	existing, err := s.repo.GetItemByID(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.UnitWeightKg != nil {
		if *req.UnitWeightKg < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.UnitWeightKg = *req.UnitWeightKg
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.CostCents = *req.CostCents
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logEvent(ctx, actor, "item_update", saved.ID, fmt.Sprintf("price=%d,threshold=%d", saved.PriceCents, saved.LowStockThreshold))
	return *saved, nil
}

func (s *Service) SetStock(ctx context.Context, itemID string, req domain.StockSetRequest) (domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !access.DeriveCapabilities(access.Role(actor.Role)).CanEditInventory {
		return domain.InventoryItem{}, fmt.Errorf("inventory edit permission required")
	}
	req.BranchName = strings.TrimSpace(req.BranchName)
	if req.BranchName == "" || req.Qty < 0 {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}

	updated, err := s.repo.SetStock(ctx, strings.TrimSpace(itemID), req.BranchName, req.Qty)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logEvent(ctx, actor, "stock_set", updated.ID, fmt.Sprintf("branch=%s,qty=%d", req.BranchName, req.Qty))
	return *updated, nil
}

// CommitSale prices the cart against current inventory, derives the total
// from the subtotal and discount, and hands the transaction to the
// repository for single-step application of its side effects. Requested
// lines that match no inventory record are dropped rather than failing the
// commit; overselling is clamped at zero stock by the repository.
func (s *Service) CommitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !access.CanAccess(access.Role(actor.Role), access.ModulePOS) {
		return domain.SaleResponse{}, fmt.Errorf("pos access required")
	}

	req.BranchName = strings.TrimSpace(req.BranchName)
	if req.BranchName == "" {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	branchActive := false
	for _, b := range branches {
		if b.Active && b.Name == req.BranchName {
			branchActive = true
			break
		}
	}
	if !branchActive {
		return domain.SaleResponse{}, fmt.Errorf("%w: unknown or inactive branch %q", store.ErrInvalidInput, req.BranchName)
	}

	merged := mergeSaleItems(req.Items)
	if len(merged) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	lines := make([]domain.SaleLine, 0, len(merged))
	subtotal := int64(0)
	for _, reqLine := range merged {
		item, err := s.repo.GetItemByID(ctx, reqLine.ItemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[service] WARN: sale line skipped, unknown item id=%s", reqLine.ItemID)
				continue
			}
			return domain.SaleResponse{}, err
		}
		lines = append(lines, domain.SaleLine{
			ItemID:         item.ID,
			ItemName:       item.Name,
			Qty:            reqLine.Qty,
			UnitPriceCents: item.PriceCents,
			UnitWeightKg:   item.UnitWeightKg,
		})
		subtotal += int64(reqLine.Qty) * item.PriceCents
	}
	if len(lines) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: no sale line matched an inventory item", store.ErrInvalidInput)
	}

	discount := int64(math.Round(float64(subtotal) * req.DiscountPercent / 100))
	total := subtotal - discount

	tx := domain.Transaction{
		ID:              xid.New("tx"),
		BranchName:      req.BranchName,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Items:           lines,
		SubtotalCents:   subtotal,
		DiscountPercent: req.DiscountPercent,
		TotalCents:      total,
		Cashier:         actor.Username,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.repo.RecordSale(ctx, tx)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logEvent(ctx, actor, "sale_commit", created.ID, fmt.Sprintf("branch=%s,total=%d,lines=%d", created.BranchName, created.TotalCents, len(created.Items)))
	return domain.SaleResponse{Transaction: *created}, nil
}

func (s *Service) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, limit)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !access.CanAccess(access.Role(actor.Role), access.ModuleCRM) {
		return domain.Customer{}, fmt.Errorf("crm access required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logEvent(ctx, actor, "customer_create", created.ID, created.Name)
	return *created, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.SystemSettings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.SystemSettings, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.SystemSettings{}, err
	}

	current, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.SystemSettings{}, err
	}

	if req.CompanyName != nil {
		current.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.CompanyAddress != nil {
		current.CompanyAddress = strings.TrimSpace(*req.CompanyAddress)
	}
	if req.CompanyPhone != nil {
		current.CompanyPhone = strings.TrimSpace(*req.CompanyPhone)
	}
	if req.Currency != nil {
		current.Currency = strings.TrimSpace(*req.Currency)
	}
	if req.Locale != nil {
		current.Locale = strings.TrimSpace(*req.Locale)
	}
	if req.Theme != nil {
		current.Theme = strings.TrimSpace(*req.Theme)
	}

	saved, err := s.repo.UpdateSettings(ctx, current)
	if err != nil {
		return domain.SystemSettings{}, err
	}

	s.logEvent(ctx, actor, "settings_update", "system", saved.CompanyName)
	return saved, nil
}

// Metrics recomputes the dashboard metrics from a full snapshot. COGS and
// gross profit are zeroed for non-admin callers before the result leaves the
// service. Results are cached whole, keyed on the snapshot revision and the
// admin flag.
func (s *Service) Metrics(ctx context.Context) (domain.Metrics, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.Metrics{}, err
	}
	isAdmin := access.DeriveCapabilities(s.actorRole(ctx)).IsAdmin

	cacheKey := fmt.Sprintf("metrics:rev=%d:admin=%t", snap.Revision, isAdmin)
	if cached, ok, err := s.metricsCache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	metrics := analytics.ComputeMetrics(snap.Transactions, snap.Items, snap.BranchNames, isAdmin)
	if err := s.metricsCache.Set(ctx, cacheKey, &metrics, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: metrics cache set failed: %v", err)
	}
	return metrics, nil
}

func (s *Service) BranchStats(ctx context.Context) ([]domain.BranchStats, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	byBranch := analytics.ComputeBranchStats(snap.Transactions, snap.BranchNames, snap.Items, time.Now())
	stats := make([]domain.BranchStats, 0, len(byBranch))
	for _, name := range snap.BranchNames {
		stats = append(stats, byBranch[name])
	}
	slices.SortFunc(stats, func(a, b domain.BranchStats) int {
		return strings.Compare(a.BranchName, b.BranchName)
	})
	return stats, nil
}

func (s *Service) LowStockAlerts(ctx context.Context) ([]domain.LowStockAlert, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.LowStockAlerts(snap.Items, snap.BranchNames), nil
}

func (s *Service) ExpirationAlerts(ctx context.Context) ([]domain.ExpirationAlert, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.ExpirationAlerts(snap.Items, time.Now()), nil
}

// SalesReport bundles metrics and per-branch rollups for the reports module.
func (s *Service) SalesReport(ctx context.Context) (domain.SalesReport, error) {
	metrics, err := s.Metrics(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}
	stats, err := s.BranchStats(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return domain.SalesReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Metrics:     metrics,
		BranchStats: stats,
	}, nil
}

// Receipt renders the fixed receipt layouts for a committed transaction.
func (s *Service) Receipt(ctx context.Context, transactionID string) (domain.ReceiptResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.ReceiptResponse{}, store.ErrInvalidInput
	}
	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	return bridge.RenderReceipt(*tx, settings), nil
}

func (s *Service) logEvent(ctx context.Context, actor domain.Actor, action string, entityID string, detail string) {
	log.Printf("[service] %s entity=%s actor=%s role=%s %s", action, entityID, actor.Username, actor.Role, detail)
}

func mergeSaleItems(items []domain.SaleItemRequest) []domain.SaleItemRequest {
	qtyByID := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ItemID)
		if id == "" || item.Qty < 1 {
			continue
		}
		if _, seen := qtyByID[id]; !seen {
			order = append(order, id)
		}
		qtyByID[id] += item.Qty
	}

	merged := make([]domain.SaleItemRequest, 0, len(order))
	for _, id := range order {
		merged = append(merged, domain.SaleItemRequest{ItemID: id, Qty: qtyByID[id]})
	}
	return merged
}
