package domain

import "time"

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// InventoryItem tracks per-branch stock keyed by branch name. StockWeightKg
// must equal float64(Stock[branch]) * UnitWeightKg for every branch after
// every mutation, and stock is never negative.
type InventoryItem struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Category          string                 `json:"category"`
	Stock             map[string]int         `json:"stock"`
	StockWeightKg     map[string]float64     `json:"stock_weight_kg"`
	UnitWeightKg      float64                `json:"unit_weight_kg"`
	CostCents         int64                  `json:"cost_cents"`
	PriceCents        int64                  `json:"price_cents"`
	LowStockThreshold int                    `json:"low_stock_threshold"`
	Expirations       map[string][]time.Time `json:"expirations,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

type ItemCreateRequest struct {
	Name              string                 `json:"name"`
	Category          string                 `json:"category"`
	UnitWeightKg      float64                `json:"unit_weight_kg"`
	CostCents         int64                  `json:"cost_cents"`
	PriceCents        int64                  `json:"price_cents"`
	LowStockThreshold int                    `json:"low_stock_threshold"`
	InitialStock      map[string]int         `json:"initial_stock,omitempty"`
	Expirations       map[string][]time.Time `json:"expirations,omitempty"`
}

type ItemUpdateRequest struct {
	Name              *string  `json:"name,omitempty"`
	Category          *string  `json:"category,omitempty"`
	UnitWeightKg      *float64 `json:"unit_weight_kg,omitempty"`
	CostCents         *int64   `json:"cost_cents,omitempty"`
	PriceCents        *int64   `json:"price_cents,omitempty"`
	LowStockThreshold *int     `json:"low_stock_threshold,omitempty"`
}

type StockSetRequest struct {
	BranchName string `json:"branch_name"`
	Qty        int    `json:"qty"`
}

type SaleLine struct {
	ItemID         string  `json:"item_id"`
	ItemName       string  `json:"item_name"`
	Qty            int     `json:"qty"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	UnitWeightKg   float64 `json:"unit_weight_kg"`
}

// Transaction is an append-only sale record. Once committed it is never
// mutated or deleted; all revenue and profit analytics derive from the log.
type Transaction struct {
	ID              string     `json:"id"`
	BranchName      string     `json:"branch_name"`
	CustomerID      string     `json:"customer_id,omitempty"`
	Items           []SaleLine `json:"items"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	DiscountPercent float64    `json:"discount_percent"`
	TotalCents      int64      `json:"total_cents"`
	Cashier         string     `json:"cashier"`
	CreatedAt       time.Time  `json:"created_at"`
}

type SaleItemRequest struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type SaleRequest struct {
	BranchName      string            `json:"branch_name"`
	CustomerID      string            `json:"customer_id,omitempty"`
	DiscountPercent float64           `json:"discount_percent"`
	Items           []SaleItemRequest `json:"items"`
}

type SaleResponse struct {
	Transaction Transaction `json:"transaction"`
}

type Customer struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	Address         string     `json:"address,omitempty"`
	TotalOrders     int        `json:"total_orders"`
	TotalSpentCents int64      `json:"total_spent_cents"`
	LoyaltyPoints   int64      `json:"loyalty_points"`
	LastPurchase    *time.Time `json:"last_purchase,omitempty"`
	LastContact     *time.Time `json:"last_contact,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type SystemSettings struct {
	CompanyName    string `json:"company_name"`
	CompanyAddress string `json:"company_address"`
	CompanyPhone   string `json:"company_phone"`
	Currency       string `json:"currency"`
	Locale         string `json:"locale"`
	Theme          string `json:"theme"`
}

type SettingsUpdateRequest struct {
	CompanyName    *string `json:"company_name,omitempty"`
	CompanyAddress *string `json:"company_address,omitempty"`
	CompanyPhone   *string `json:"company_phone,omitempty"`
	Currency       *string `json:"currency,omitempty"`
	Locale         *string `json:"locale,omitempty"`
	Theme          *string `json:"theme,omitempty"`
}

// Metrics is the whole-snapshot derivation. TotalCOGSCents and
// GrossProfitCents are forced to zero for non-admin callers at the data
// layer, not just hidden in the view.
type Metrics struct {
	TotalRevenueCents   int64   `json:"total_revenue_cents"`
	OrderCount          int     `json:"order_count"`
	AverageOrderCents   int64   `json:"average_order_cents"`
	TotalCOGSCents      int64   `json:"total_cogs_cents"`
	GrossProfitCents    int64   `json:"gross_profit_cents"`
	InventoryValueCents int64   `json:"inventory_value_cents"`
	InventoryWeightKg   float64 `json:"inventory_weight_kg"`
}

type BranchStats struct {
	BranchName        string  `json:"branch_name"`
	RevenueCents      int64   `json:"revenue_cents"`
	Orders            int     `json:"orders"`
	TodayRevenueCents int64   `json:"today_revenue_cents"`
	TodayOrders       int     `json:"today_orders"`
	InventoryWeightKg float64 `json:"inventory_weight_kg"`
}

type LowStockAlert struct {
	ItemID    string   `json:"item_id"`
	ItemName  string   `json:"item_name"`
	Threshold int      `json:"threshold"`
	Branches  []string `json:"branches"`
	MinOnHand int      `json:"min_on_hand"`
}

type ExpirationAlert struct {
	ItemID     string `json:"item_id"`
	ItemName   string `json:"item_name"`
	BranchName string `json:"branch_name"`
	DaysLeft   int    `json:"days_left"`
}

// Snapshot is a fully-consistent copy of the analytics inputs. Revision
// increases on every mutation and keys the whole-result metrics cache.
type Snapshot struct {
	Revision     uint64
	Transactions []Transaction
	Items        []InventoryItem
	BranchNames  []string
}

type SalesReport struct {
	GeneratedAt string        `json:"generated_at"`
	Metrics     Metrics       `json:"metrics"`
	BranchStats []BranchStats `json:"branch_stats"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Modules     []string `json:"modules"`
	ExpiresAt   string   `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type ModuleChangeRequest struct {
	Module string `json:"module"`
}

type ModuleChangeResponse struct {
	Allowed bool   `json:"allowed"`
	Module  string `json:"module,omitempty"`
	Role    string `json:"role"`
	Message string `json:"message,omitempty"`
}

type ExportRequest struct {
	Filename string `json:"filename"`
	Payload  string `json:"payload"`
}

type ExportResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

type AppInfo struct {
	Version      string `json:"version"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
}

type ReceiptResponse struct {
	TransactionID string `json:"transaction_id"`
	PreviewText   string `json:"preview_text"`
	HTML          string `json:"html"`
	EscposBase64  string `json:"escpos_base64"`
	FileName      string `json:"file_name"`
}
