package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"agropos/backend/internal/cache"
	"agropos/backend/internal/domain"
	"agropos/backend/internal/store"
	"agropos/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopMetricsCache{}, 5*time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func salesCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "sales", Role: "sales"})
}

func viewerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "viewer", Role: "viewer"})
}

func findItem(t *testing.T, svc *Service, itemID string) domain.InventoryItem {
	t.Helper()
	items, err := svc.ListItems(adminCtx())
	if err != nil {
		t.Fatalf("list items failed: %v", err)
	}
	for _, item := range items {
		if item.ID == itemID {
			return item
		}
	}
	t.Fatalf("item %s not found", itemID)
	return domain.InventoryItem{}
}

func TestCommitSaleDecrementsStockAndWeight(t *testing.T) {
	svc := newTestService()

	before := findItem(t, svc, "item-catfood-2")
	startQty := before.Stock["Main"]

	resp, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-catfood-2", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if resp.Transaction.TotalCents != 3*before.PriceCents {
		t.Fatalf("expected total %d, got %d", 3*before.PriceCents, resp.Transaction.TotalCents)
	}

	after := findItem(t, svc, "item-catfood-2")
	if got := after.Stock["Main"]; got != startQty-3 {
		t.Fatalf("expected Main stock %d, got %d", startQty-3, got)
	}
	wantWeight := float64(startQty-3) * after.UnitWeightKg
	if got := after.StockWeightKg["Main"]; got != wantWeight {
		t.Fatalf("expected Main stock weight %.2f, got %.2f", wantWeight, got)
	}
}

func TestCommitSaleClampsOversellAtZero(t *testing.T) {
	svc := newTestService()

	before := findItem(t, svc, "item-hay-bale")
	oversell := before.Stock["Main"] + 6

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-hay-bale", Qty: oversell},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	after := findItem(t, svc, "item-hay-bale")
	if got := after.Stock["Main"]; got != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", got)
	}
	if got := after.StockWeightKg["Main"]; got != 0 {
		t.Fatalf("expected stock weight 0, got %.2f", got)
	}
	// The depot branch is untouched by a sale at Main.
	if got := after.Stock["Depot"]; got != before.Stock["Depot"] {
		t.Fatalf("expected Depot stock unchanged at %d, got %d", before.Stock["Depot"], got)
	}
}

func TestCommitSaleUpdatesCustomerCountersAndLoyalty(t *testing.T) {
	svc := newTestService()

	customer, err := svc.CreateCustomer(salesCtx(), domain.CustomerCreateRequest{
		Name:  "Pak Budi",
		Phone: "0812-1111",
	})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	var spent int64
	for _, qty := range []int{2, 1} {
		resp, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
			BranchName: "Main",
			CustomerID: customer.ID,
			Items: []domain.SaleItemRequest{
				{ItemID: "item-birdseed-1", Qty: qty},
			},
		})
		if err != nil {
			t.Fatalf("commit sale failed: %v", err)
		}
		spent += resp.Transaction.TotalCents
	}

	customers, err := svc.ListCustomers(salesCtx())
	if err != nil {
		t.Fatalf("list customers failed: %v", err)
	}
	var updated domain.Customer
	for _, c := range customers {
		if c.ID == customer.ID {
			updated = c
		}
	}
	if updated.TotalOrders != 2 {
		t.Fatalf("expected 2 orders, got %d", updated.TotalOrders)
	}
	if updated.TotalSpentCents != spent {
		t.Fatalf("expected spent %d, got %d", spent, updated.TotalSpentCents)
	}
	// One loyalty point per 100 currency units, truncated per transaction.
	wantPoints := int64(2*23000)/10000 + int64(1*23000)/10000
	if updated.LoyaltyPoints != wantPoints {
		t.Fatalf("expected %d loyalty points, got %d", wantPoints, updated.LoyaltyPoints)
	}
	if updated.LastPurchase == nil {
		t.Fatalf("expected last purchase to be set")
	}
}

func TestCommitSaleUnknownCustomerIsSkipped(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		CustomerID: "cust-ghost",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-litter-5", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("expected sale to commit despite unknown customer, got %v", err)
	}
}

func TestCommitSaleDropsUnknownItemLines(t *testing.T) {
	svc := newTestService()

	resp, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-does-not-exist", Qty: 2},
			{ItemID: "item-catfood-2", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if len(resp.Transaction.Items) != 1 {
		t.Fatalf("expected 1 priced line, got %d", len(resp.Transaction.Items))
	}
	if resp.Transaction.Items[0].ItemID != "item-catfood-2" {
		t.Fatalf("expected surviving line item-catfood-2, got %s", resp.Transaction.Items[0].ItemID)
	}
}

func TestCommitSaleAllLinesUnknownFails(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-does-not-exist", Qty: 2},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCommitSaleDiscountRounding(t *testing.T) {
	svc := newTestService()

	// Subtotal 2 * 62000 = 124000; 10% discount = 12400; total 111600.
	resp, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName:      "Main",
		DiscountPercent: 10,
		Items: []domain.SaleItemRequest{
			{ItemID: "item-catfood-2", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if resp.Transaction.SubtotalCents != 124000 {
		t.Fatalf("expected subtotal 124000, got %d", resp.Transaction.SubtotalCents)
	}
	if resp.Transaction.TotalCents != 111600 {
		t.Fatalf("expected total 111600, got %d", resp.Transaction.TotalCents)
	}
}

func TestCommitSaleRejectsUnknownBranch(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Nowhere",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-catfood-2", Qty: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown branch, got %v", err)
	}
}

func TestCommitSaleRequiresPOSAccess(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(viewerCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-catfood-2", Qty: 1},
		},
	})
	if err == nil {
		t.Fatalf("expected viewer to be rejected from pos")
	}
}

func TestMetricsHideFinancialsFromNonAdmins(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-dogfood-10", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	adminMetrics, err := svc.Metrics(adminCtx())
	if err != nil {
		t.Fatalf("admin metrics failed: %v", err)
	}
	if adminMetrics.TotalCOGSCents == 0 || adminMetrics.GrossProfitCents == 0 {
		t.Fatalf("expected admin to see cogs and profit, got %+v", adminMetrics)
	}

	salesMetrics, err := svc.Metrics(salesCtx())
	if err != nil {
		t.Fatalf("sales metrics failed: %v", err)
	}
	if salesMetrics.TotalCOGSCents != 0 || salesMetrics.GrossProfitCents != 0 {
		t.Fatalf("expected zero cogs/profit for sales role, got %+v", salesMetrics)
	}
	if salesMetrics.TotalRevenueCents != adminMetrics.TotalRevenueCents {
		t.Fatalf("revenue should be visible to both roles")
	}
}

func TestSelectModuleDenialIsNotAnError(t *testing.T) {
	svc := newTestService()

	resp := svc.SelectModule(viewerCtx(), domain.ModuleChangeRequest{Module: "finance"})
	if resp.Allowed {
		t.Fatalf("viewer must not reach the finance module")
	}
	if resp.Message == "" {
		t.Fatalf("denial must carry a user-visible message")
	}

	resp = svc.SelectModule(viewerCtx(), domain.ModuleChangeRequest{Module: "reports"})
	if !resp.Allowed || resp.Module != "reports" {
		t.Fatalf("viewer should reach reports, got %+v", resp)
	}
}

func TestBranchLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateBranch(ctx, domain.BranchCreateRequest{Name: "Outlet Timur", Address: "Jl. Timur 3"})
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	if !created.Active {
		t.Fatalf("new branch must start active")
	}

	_, err = svc.CreateBranch(ctx, domain.BranchCreateRequest{Name: "Outlet Timur"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate active name, got %v", err)
	}

	deactivated, err := svc.DeactivateBranch(ctx, created.ID)
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("branch should be inactive")
	}

	// Transactions recorded at the branch survive deactivation.
	if _, err := svc.ListTransactions(ctx, 10); err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
}

func TestDeactivateLastBranchRefused(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.DeactivateBranch(ctx, "br-depot"); err != nil {
		t.Fatalf("deactivate depot failed: %v", err)
	}
	_, err := svc.DeactivateBranch(ctx, "br-main")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deactivating last branch, got %v", err)
	}
}

func TestUpdateItemRequiresAdmin(t *testing.T) {
	svc := newTestService()

	price := int64(99000)
	_, err := svc.UpdateItem(salesCtx(), "item-catfood-2", domain.ItemUpdateRequest{PriceCents: &price})
	if err == nil {
		t.Fatalf("expected sales role to be rejected from item update")
	}

	updated, err := svc.UpdateItem(adminCtx(), "item-catfood-2", domain.ItemUpdateRequest{PriceCents: &price})
	if err != nil {
		t.Fatalf("admin item update failed: %v", err)
	}
	if updated.PriceCents != price {
		t.Fatalf("expected price %d, got %d", price, updated.PriceCents)
	}
}

func TestReceiptForCommittedSale(t *testing.T) {
	svc := newTestService()

	resp, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Main",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-feed-chick", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	receipt, err := svc.Receipt(salesCtx(), resp.Transaction.ID)
	if err != nil {
		t.Fatalf("receipt failed: %v", err)
	}
	if receipt.TransactionID != resp.Transaction.ID {
		t.Fatalf("receipt transaction id mismatch")
	}
	if receipt.PreviewText == "" || receipt.HTML == "" || receipt.EscposBase64 == "" {
		t.Fatalf("receipt must carry all three renderings")
	}

	_, err = svc.Receipt(salesCtx(), "tx-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown transaction, got %v", err)
	}
}

func TestSalesReportBundlesMetricsAndBranches(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(salesCtx(), domain.SaleRequest{
		BranchName: "Depot",
		Items: []domain.SaleItemRequest{
			{ItemID: "item-fert-npk", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	report, err := svc.SalesReport(adminCtx())
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}
	if report.Metrics.OrderCount != 1 {
		t.Fatalf("expected 1 order in report, got %d", report.Metrics.OrderCount)
	}
	if len(report.BranchStats) != 2 {
		t.Fatalf("expected 2 branch rows, got %d", len(report.BranchStats))
	}
	var depot domain.BranchStats
	for _, row := range report.BranchStats {
		if row.BranchName == "Depot" {
			depot = row
		}
	}
	if depot.Orders != 1 || depot.RevenueCents != 2*295000 {
		t.Fatalf("unexpected depot stats: %+v", depot)
	}
}
