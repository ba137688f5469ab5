package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"agropos/backend/internal/domain"
	"agropos/backend/internal/store"
	"agropos/backend/internal/xid"
)

// Store is the in-memory repository. It owns the authoritative application
// state; mutation and read never interleave because every method holds the
// lock for its full duration, so Snapshot always observes a consistent view.
type Store struct {
	mu              sync.RWMutex
	revision        uint64
	branchesByID    map[string]domain.Branch
	itemsByID       map[string]domain.InventoryItem
	transactions    []domain.Transaction
	customersByID   map[string]domain.Customer
	settings        domain.SystemSettings
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial staff accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. These accounts are never used
// in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"sales", staffPwd, "sales"},
		{"accountant", staffPwd, "accountant"},
		{"viewer", staffPwd, "viewer"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with a small agri/pet-supply catalog
// across two branches, suitable for dev and tests.
func NewSeeded() *Store {
	now := time.Now().UTC()
	branches := []domain.Branch{
		{ID: "br-main", Name: "Main", Address: "Jl. Raya Tani 12", Active: true, CreatedAt: now},
		{ID: "br-depot", Name: "Depot", Address: "Jl. Gudang 4", Active: true, CreatedAt: now},
	}
	branchNames := []string{"Main", "Depot"}

	seedItems := []struct {
		id        string
		name      string
		category  string
		weightKg  float64
		cost      int64
		price     int64
		threshold int
		stock     map[string]int
	}{
		{"item-feed-chick", "Chick Starter Feed 5kg", "feed", 5, 65000, 89000, 8, map[string]int{"Main": 40, "Depot": 120}},
		{"item-feed-layer", "Layer Feed 50kg", "feed", 50, 310000, 365000, 5, map[string]int{"Main": 18, "Depot": 60}},
		{"item-dogfood-10", "Dry Dog Food 10kg", "pet", 10, 185000, 249000, 6, map[string]int{"Main": 22, "Depot": 35}},
		{"item-catfood-2", "Cat Food 2kg", "pet", 2, 42000, 62000, 10, map[string]int{"Main": 55, "Depot": 80}},
		{"item-birdseed-1", "Bird Seed Mix 1kg", "pet", 1, 14000, 23000, 12, map[string]int{"Main": 70, "Depot": 40}},
		{"item-fert-npk", "NPK Fertilizer 25kg", "agri", 25, 240000, 295000, 4, map[string]int{"Main": 12, "Depot": 48}},
		{"item-hay-bale", "Timothy Hay Bale", "agri", 20, 90000, 125000, 3, map[string]int{"Main": 9, "Depot": 25}},
		{"item-litter-5", "Cat Litter 5kg", "pet", 5, 31000, 47000, 10, map[string]int{"Main": 34, "Depot": 50}},
	}

	items := make(map[string]domain.InventoryItem, len(seedItems))
	for _, s := range seedItems {
		item := domain.InventoryItem{
			ID:                s.id,
			Name:              s.name,
			Category:          s.category,
			Stock:             s.stock,
			StockWeightKg:     map[string]float64{},
			UnitWeightKg:      s.weightKg,
			CostCents:         s.cost,
			PriceCents:        s.price,
			LowStockThreshold: s.threshold,
			CreatedAt:         now,
		}
		for _, name := range branchNames {
			item.StockWeightKg[name] = float64(item.Stock[name]) * item.UnitWeightKg
		}
		items[item.ID] = item
	}

	branchesByID := make(map[string]domain.Branch, len(branches))
	for _, b := range branches {
		branchesByID[b.ID] = b
	}

	return &Store{
		branchesByID:  branchesByID,
		itemsByID:     items,
		transactions:  make([]domain.Transaction, 0, 128),
		customersByID: make(map[string]domain.Customer),
		settings: domain.SystemSettings{
			CompanyName:    "AgroPOS Demo Store",
			CompanyAddress: "Jl. Raya Tani 12",
			CompanyPhone:   "+62-812-0000-0000",
			Currency:       "IDR",
			Locale:         "id-ID",
			Theme:          "light",
		},
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branchesByID))
	for _, b := range s.branchesByID {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.branchesByID {
		if existing.Active && existing.Name == branch.Name {
			return nil, store.ErrConflict
		}
	}

	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true
	s.branchesByID[branch.ID] = branch
	s.revision++

	created := branch
	return &created, nil
}

func (s *Store) DeactivateBranch(_ context.Context, branchID string) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, exists := s.branchesByID[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !branch.Active {
		updated := branch
		return &updated, nil
	}

	// The shell needs at least one active branch to function.
	activeCount := 0
	for _, b := range s.branchesByID {
		if b.Active {
			activeCount++
		}
	}
	if activeCount <= 1 {
		return nil, store.ErrConflict
	}

	branch.Active = false
	s.branchesByID[branchID] = branch
	s.revision++

	updated := branch
	return &updated, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		items = append(items, cloneItem(item))
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetItemByID(_ context.Context, itemID string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.itemsByID[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneItem(item)
	return &dup, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.PriceCents < 1 || item.CostCents < 0 || item.UnitWeightKg < 0 || item.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}
	for _, qty := range item.Stock {
		if qty < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.itemsByID[item.ID]; exists {
		return nil, store.ErrConflict
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Stock == nil {
		item.Stock = map[string]int{}
	}
	item.StockWeightKg = map[string]float64{}
	for name, qty := range item.Stock {
		item.StockWeightKg[name] = float64(qty) * item.UnitWeightKg
	}

	s.itemsByID[item.ID] = cloneItem(item)
	s.revision++

	created := cloneItem(item)
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.PriceCents < 1 || item.CostCents < 0 || item.UnitWeightKg < 0 || item.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.itemsByID[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Stock counts are owned by SetStock and RecordSale; an item update only
	// touches the descriptive fields and re-derives weights when the unit
	// weight changed.
	existing.Name = item.Name
	existing.Category = item.Category
	existing.CostCents = item.CostCents
	existing.PriceCents = item.PriceCents
	existing.LowStockThreshold = item.LowStockThreshold
	if existing.UnitWeightKg != item.UnitWeightKg {
		existing.UnitWeightKg = item.UnitWeightKg
		for name, qty := range existing.Stock {
			existing.StockWeightKg[name] = float64(qty) * existing.UnitWeightKg
		}
	}

	s.itemsByID[existing.ID] = existing
	s.revision++

	updated := cloneItem(existing)
	return &updated, nil
}

func (s *Store) SetStock(_ context.Context, itemID string, branchName string, qty int) (*domain.InventoryItem, error) {
	if itemID == "" || branchName == "" || qty < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.itemsByID[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Stock == nil {
		item.Stock = map[string]int{}
	}
	if item.StockWeightKg == nil {
		item.StockWeightKg = map[string]float64{}
	}
	item.Stock[branchName] = qty
	item.StockWeightKg[branchName] = float64(qty) * item.UnitWeightKg
	s.itemsByID[itemID] = item
	s.revision++

	updated := cloneItem(item)
	return &updated, nil
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || limit > len(s.transactions) {
		limit = len(s.transactions)
	}
	result := make([]domain.Transaction, 0, limit)
	for _, tx := range s.transactions[:limit] {
		result = append(result, cloneTransaction(tx))
	}
	return result, nil
}

func (s *Store) GetTransactionByID(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.ID == transactionID {
			dup := cloneTransaction(tx)
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

// RecordSale applies the full commit in one synchronous step under the write
// lock: prepend to the log (newest first), decrement per-line branch stock
// clamped at zero with the stock weight recomputed, and update the customer
// counters. Lines referencing unknown items are skipped, as is an unknown
// customer id. There is no rollback path; partial application is accepted.
func (s *Store) RecordSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.BranchName == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	s.transactions = append([]domain.Transaction{cloneTransaction(tx)}, s.transactions...)

	for _, line := range tx.Items {
		item, exists := s.itemsByID[line.ItemID]
		if !exists {
			continue
		}
		if item.Stock == nil {
			item.Stock = map[string]int{}
		}
		if item.StockWeightKg == nil {
			item.StockWeightKg = map[string]float64{}
		}
		remaining := item.Stock[tx.BranchName] - line.Qty
		if remaining < 0 {
			remaining = 0
		}
		item.Stock[tx.BranchName] = remaining
		item.StockWeightKg[tx.BranchName] = float64(remaining) * item.UnitWeightKg
		s.itemsByID[line.ItemID] = item
	}

	if tx.CustomerID != "" {
		if customer, exists := s.customersByID[tx.CustomerID]; exists {
			now := tx.CreatedAt
			customer.TotalOrders++
			customer.TotalSpentCents += tx.TotalCents
			customer.LoyaltyPoints += loyaltyPointsFor(tx.TotalCents)
			customer.LastPurchase = &now
			customer.LastContact = &now
			s.customersByID[tx.CustomerID] = customer
		}
	}

	s.revision++

	created := cloneTransaction(tx)
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, cloneCustomer(c))
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomerByID(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneCustomer(customer)
	return &dup, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = cloneCustomer(customer)
	s.revision++

	created := cloneCustomer(customer)
	return &created, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.SystemSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.SystemSettings) (domain.SystemSettings, error) {
	if strings.TrimSpace(settings.CompanyName) == "" {
		return domain.SystemSettings{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	s.revision++
	return s.settings, nil
}

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Revision:     s.revision,
		Transactions: make([]domain.Transaction, 0, len(s.transactions)),
		Items:        make([]domain.InventoryItem, 0, len(s.itemsByID)),
		BranchNames:  make([]string, 0, len(s.branchesByID)),
	}
	for _, tx := range s.transactions {
		snap.Transactions = append(snap.Transactions, cloneTransaction(tx))
	}
	for _, item := range s.itemsByID {
		snap.Items = append(snap.Items, cloneItem(item))
	}
	slices.SortFunc(snap.Items, func(a, b domain.InventoryItem) int {
		return cmpString(a.ID, b.ID)
	})
	for _, b := range s.branchesByID {
		if b.Active {
			snap.BranchNames = append(snap.BranchNames, b.Name)
		}
	}
	slices.Sort(snap.BranchNames)
	return snap, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// loyaltyPointsFor accrues one point per 100 currency units spent, truncated.
func loyaltyPointsFor(totalCents int64) int64 {
	if totalCents < 0 {
		return 0
	}
	return totalCents / 10000
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneItem(src domain.InventoryItem) domain.InventoryItem {
	dup := src
	dup.Stock = make(map[string]int, len(src.Stock))
	for k, v := range src.Stock {
		dup.Stock[k] = v
	}
	dup.StockWeightKg = make(map[string]float64, len(src.StockWeightKg))
	for k, v := range src.StockWeightKg {
		dup.StockWeightKg[k] = v
	}
	if src.Expirations != nil {
		dup.Expirations = make(map[string][]time.Time, len(src.Expirations))
		for k, v := range src.Expirations {
			dates := make([]time.Time, len(v))
			copy(dates, v)
			dup.Expirations[k] = dates
		}
	}
	return dup
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	items := make([]domain.SaleLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneCustomer(src domain.Customer) domain.Customer {
	dup := src
	if src.LastPurchase != nil {
		t := *src.LastPurchase
		dup.LastPurchase = &t
	}
	if src.LastContact != nil {
		t := *src.LastContact
		dup.LastContact = &t
	}
	return dup
}
