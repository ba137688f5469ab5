package analytics

import (
	"math"
	"slices"
	"time"

	"agropos/backend/internal/domain"
)

// expirationWindowDays is the fixed alerting horizon for product batches.
// Batches already expired or further out than this never alert.
const expirationWindowDays = 20

// ComputeMetrics derives the dashboard metrics from a snapshot of the
// transaction log and inventory. It is pure and safe on empty inputs:
// everything zeroes out rather than failing. Cost of goods sold and gross
// profit are computed only for admin callers; for everyone else both are
// forced to zero so the financial-visibility boundary holds at the data
// layer.
func ComputeMetrics(transactions []domain.Transaction, items []domain.InventoryItem, branchNames []string, isAdmin bool) domain.Metrics {
	var m domain.Metrics

	for _, tx := range transactions {
		m.TotalRevenueCents += tx.TotalCents
	}
	m.OrderCount = len(transactions)
	if m.OrderCount > 0 {
		m.AverageOrderCents = m.TotalRevenueCents / int64(m.OrderCount)
	}

	if isAdmin {
		costByID := make(map[string]int64, len(items))
		for _, item := range items {
			costByID[item.ID] = item.CostCents
		}
		for _, tx := range transactions {
			for _, line := range tx.Items {
				// Lines with no matching inventory record contribute zero cost.
				m.TotalCOGSCents += costByID[line.ItemID] * int64(line.Qty)
			}
		}
		m.GrossProfitCents = m.TotalRevenueCents - m.TotalCOGSCents
	}

	for _, item := range items {
		onHand := totalOnHand(item, branchNames)
		m.InventoryValueCents += int64(onHand) * item.CostCents
		m.InventoryWeightKg += float64(onHand) * item.UnitWeightKg
	}

	return m
}

// ComputeBranchStats rolls the transaction log and inventory up per branch.
// "Today" uses a midnight cutoff in now's location.
func ComputeBranchStats(transactions []domain.Transaction, branchNames []string, items []domain.InventoryItem, now time.Time) map[string]domain.BranchStats {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := make(map[string]domain.BranchStats, len(branchNames))
	for _, name := range branchNames {
		entry := domain.BranchStats{BranchName: name}
		for _, item := range items {
			entry.InventoryWeightKg += float64(item.Stock[name]) * item.UnitWeightKg
		}
		stats[name] = entry
	}

	for _, tx := range transactions {
		entry, ok := stats[tx.BranchName]
		if !ok {
			continue
		}
		entry.RevenueCents += tx.TotalCents
		entry.Orders++
		if !tx.CreatedAt.Before(midnight) {
			entry.TodayRevenueCents += tx.TotalCents
			entry.TodayOrders++
		}
		stats[tx.BranchName] = entry
	}

	return stats
}

// LowStockAlerts reports every item whose on-hand quantity at any named
// branch is at or below its threshold. The alert lists all branches
// currently at/below threshold and the minimum on-hand across all branches.
func LowStockAlerts(items []domain.InventoryItem, branchNames []string) []domain.LowStockAlert {
	alerts := make([]domain.LowStockAlert, 0)
	for _, item := range items {
		var low []string
		minOnHand := math.MaxInt
		for _, name := range branchNames {
			qty := item.Stock[name]
			if qty < minOnHand {
				minOnHand = qty
			}
			if qty <= item.LowStockThreshold {
				low = append(low, name)
			}
		}
		if len(low) == 0 {
			continue
		}
		alerts = append(alerts, domain.LowStockAlert{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Threshold: item.LowStockThreshold,
			Branches:  low,
			MinOnHand: minOnHand,
		})
	}
	return alerts
}

// ExpirationAlerts reports item/branch pairs with a batch expiring within
// the fixed window. Days left is the ceiling of the remaining duration in
// days; the alert carries the minimum qualifying value.
func ExpirationAlerts(items []domain.InventoryItem, now time.Time) []domain.ExpirationAlert {
	alerts := make([]domain.ExpirationAlert, 0)
	for _, item := range items {
		branchNames := make([]string, 0, len(item.Expirations))
		for name := range item.Expirations {
			branchNames = append(branchNames, name)
		}
		slices.Sort(branchNames)

		for _, name := range branchNames {
			nearest := 0
			found := false
			for _, expiry := range item.Expirations[name] {
				days := daysUntil(expiry, now)
				if days <= 0 || days > expirationWindowDays {
					continue
				}
				if !found || days < nearest {
					nearest = days
					found = true
				}
			}
			if !found {
				continue
			}
			alerts = append(alerts, domain.ExpirationAlert{
				ItemID:     item.ID,
				ItemName:   item.Name,
				BranchName: name,
				DaysLeft:   nearest,
			})
		}
	}
	return alerts
}

func daysUntil(expiry time.Time, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

func totalOnHand(item domain.InventoryItem, branchNames []string) int {
	total := 0
	for _, name := range branchNames {
		total += item.Stock[name]
	}
	return total
}
