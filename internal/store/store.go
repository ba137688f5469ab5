package store

import (
	"context"
	"errors"

	"agropos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// Repository holds the authoritative application state: branches, inventory,
// the append-only transaction log, customers, settings, and staff accounts.
// Implementations must keep the stock-weight invariant
// (StockWeightKg[branch] == stock * unit weight) after every mutation and
// must apply RecordSale side effects in a single synchronous step.
type Repository interface {
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	DeactivateBranch(ctx context.Context, branchID string) (*domain.Branch, error)

	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	GetItemByID(ctx context.Context, itemID string) (*domain.InventoryItem, error)
	CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	SetStock(ctx context.Context, itemID string, branchName string, qty int) (*domain.InventoryItem, error)

	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	GetTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// RecordSale prepends the transaction to the log, decrements branch stock
	// for every line (clamped at zero, recomputing stock weight), and updates
	// the referenced customer's counters. A line with no matching item and a
	// missing customer reference are skipped, not errors.
	RecordSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetSettings(ctx context.Context) (domain.SystemSettings, error)
	UpdateSettings(ctx context.Context, settings domain.SystemSettings) (domain.SystemSettings, error)

	// Snapshot returns a fully-consistent copy of the analytics inputs along
	// with a revision that changes on every mutation.
	Snapshot(ctx context.Context) (domain.Snapshot, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
