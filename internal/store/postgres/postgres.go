package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"agropos/backend/internal/domain"
	"agropos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS branches (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			address    TEXT NOT NULL DEFAULT '',
			active     BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS inventory_items (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			category            TEXT NOT NULL DEFAULT '',
			stock               JSONB NOT NULL DEFAULT '{}',
			stock_weight_kg     JSONB NOT NULL DEFAULT '{}',
			unit_weight_kg      DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost_cents          BIGINT NOT NULL DEFAULT 0,
			price_cents         BIGINT NOT NULL,
			low_stock_threshold INT NOT NULL DEFAULT 0,
			expirations         JSONB NOT NULL DEFAULT '{}',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id               TEXT PRIMARY KEY,
			branch_name      TEXT NOT NULL,
			customer_id      TEXT NOT NULL DEFAULT '',
			items            JSONB NOT NULL,
			subtotal_cents   BIGINT NOT NULL,
			discount_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_cents      BIGINT NOT NULL,
			cashier          TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_created_at_idx ON transactions (created_at DESC);

		CREATE TABLE IF NOT EXISTS customers (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			phone             TEXT NOT NULL DEFAULT '',
			email             TEXT NOT NULL DEFAULT '',
			address           TEXT NOT NULL DEFAULT '',
			total_orders      INT NOT NULL DEFAULT 0,
			total_spent_cents BIGINT NOT NULL DEFAULT 0,
			loyalty_points    BIGINT NOT NULL DEFAULT 0,
			last_purchase     TIMESTAMPTZ,
			last_contact      TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS system_settings (
			id              INT PRIMARY KEY DEFAULT 1,
			company_name    TEXT NOT NULL DEFAULT '',
			company_address TEXT NOT NULL DEFAULT '',
			company_phone   TEXT NOT NULL DEFAULT '',
			currency        TEXT NOT NULL DEFAULT 'IDR',
			locale          TEXT NOT NULL DEFAULT 'id-ID',
			theme           TEXT NOT NULL DEFAULT 'light'
		);

		CREATE TABLE IF NOT EXISTS app_users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS app_meta (
			key   TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		);
	`)
	return err
}

// bumpRevision advances the snapshot revision inside the caller's SQL
// transaction so the revision change commits atomically with the mutation.
func bumpRevision(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO app_meta (key, value) VALUES ('revision', 1)
		ON CONFLICT (key) DO UPDATE SET value = app_meta.value + 1
	`)
	return err
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM branches
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.ID == "" || strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var clash int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM branches WHERE active = true AND name = $1
	`, branch.Name).Scan(&clash)
	if err != nil {
		return nil, err
	}
	if clash > 0 {
		return nil, store.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, branch.ID, branch.Name, branch.Address, true, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := branch
	created.Active = true
	return &created, nil
}

func (s *Store) DeactivateBranch(ctx context.Context, branchID string) (*domain.Branch, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var branch domain.Branch
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM branches WHERE id = $1
	`, branchID).Scan(&branch.ID, &branch.Name, &branch.Address, &branch.Active, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if branch.Active {
		var activeCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM branches WHERE active = true
		`).Scan(&activeCount); err != nil {
			return nil, err
		}
		if activeCount <= 1 {
			return nil, store.ErrConflict
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE branches SET active = false WHERE id = $1
	`, branchID); err != nil {
		return nil, err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	branch.Active = false
	branch.CreatedAt = branch.CreatedAt.UTC()
	return &branch, nil
}

const itemColumns = `id, name, category, stock, stock_weight_kg, unit_weight_kg, cost_cents, price_cents, low_stock_threshold, expirations, created_at`

func scanItem(scan func(...any) error) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	var stockJSON, weightJSON, expirationsJSON []byte
	err := scan(&item.ID, &item.Name, &item.Category, &stockJSON, &weightJSON,
		&item.UnitWeightKg, &item.CostCents, &item.PriceCents, &item.LowStockThreshold,
		&expirationsJSON, &item.CreatedAt)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if err := json.Unmarshal(stockJSON, &item.Stock); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := json.Unmarshal(weightJSON, &item.StockWeightKg); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := json.Unmarshal(expirationsJSON, &item.Expirations); err != nil {
		return domain.InventoryItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItemByID(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items WHERE id = $1
	`, itemID)
	item, err := scanItem(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || strings.TrimSpace(item.Name) == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	normalizeItemStock(&item)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertItem(ctx, tx, item); err != nil {
		return nil, err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) insertItem(ctx context.Context, tx *sql.Tx, item domain.InventoryItem) error {
	stockJSON, weightJSON, expirationsJSON, err := marshalItemMaps(item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, category, stock, stock_weight_kg, unit_weight_kg, cost_cents, price_cents, low_stock_threshold, expirations, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, item.ID, item.Name, item.Category, stockJSON, weightJSON, item.UnitWeightKg,
		item.CostCents, item.PriceCents, item.LowStockThreshold, expirationsJSON, item.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || strings.TrimSpace(item.Name) == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	normalizeItemStock(&item)

	stockJSON, weightJSON, expirationsJSON, err := marshalItemMaps(item)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, category = $3, stock = $4, stock_weight_kg = $5, unit_weight_kg = $6,
		    cost_cents = $7, price_cents = $8, low_stock_threshold = $9, expirations = $10
		WHERE id = $1
	`, item.ID, item.Name, item.Category, stockJSON, weightJSON, item.UnitWeightKg,
		item.CostCents, item.PriceCents, item.LowStockThreshold, expirationsJSON)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := item
	return &updated, nil
}

func (s *Store) SetStock(ctx context.Context, itemID string, branchName string, qty int) (*domain.InventoryItem, error) {
	if itemID == "" || strings.TrimSpace(branchName) == "" || qty < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items WHERE id = $1
		FOR UPDATE
	`, itemID)
	item, err := scanItem(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if item.Stock == nil {
		item.Stock = make(map[string]int)
	}
	if item.StockWeightKg == nil {
		item.StockWeightKg = make(map[string]float64)
	}
	item.Stock[branchName] = qty
	item.StockWeightKg[branchName] = float64(qty) * item.UnitWeightKg

	if err := s.saveItemStock(ctx, tx, item); err != nil {
		return nil, err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) saveItemStock(ctx context.Context, tx *sql.Tx, item domain.InventoryItem) error {
	stockJSON, weightJSON, _, err := marshalItemMaps(item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_items SET stock = $2, stock_weight_kg = $3 WHERE id = $1
	`, item.ID, stockJSON, weightJSON)
	return err
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_name, customer_id, items, subtotal_cents, discount_percent, total_cents, cashier, created_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func scanTransaction(scan func(...any) error) (domain.Transaction, error) {
	var tx domain.Transaction
	var itemsJSON []byte
	err := scan(&tx.ID, &tx.BranchName, &tx.CustomerID, &itemsJSON,
		&tx.SubtotalCents, &tx.DiscountPercent, &tx.TotalCents, &tx.Cashier, &tx.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
		return domain.Transaction{}, err
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, branch_name, customer_id, items, subtotal_cents, discount_percent, total_cents, cashier, created_at
		FROM transactions WHERE id = $1
	`, transactionID)
	tx, err := scanTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// RecordSale applies the sale and all its side effects in one SQL
// transaction: the log insert, the clamped per-line stock decrements with
// weight recomputation, and the customer counter updates. Lines naming
// unknown items and an unknown customer reference are skipped.
func (s *Store) RecordSale(ctx context.Context, sale domain.Transaction) (*domain.Transaction, error) {
	if sale.ID == "" || strings.TrimSpace(sale.BranchName) == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, branch_name, customer_id, items, subtotal_cents, discount_percent, total_cents, cashier, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sale.ID, sale.BranchName, sale.CustomerID, itemsJSON,
		sale.SubtotalCents, sale.DiscountPercent, sale.TotalCents, sale.Cashier, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range sale.Items {
		row := pgTx.QueryRowContext(ctx, `
			SELECT `+itemColumns+`
			FROM inventory_items WHERE id = $1
			FOR UPDATE
		`, line.ItemID)
		item, err := scanItem(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}

		if item.Stock == nil {
			item.Stock = make(map[string]int)
		}
		if item.StockWeightKg == nil {
			item.StockWeightKg = make(map[string]float64)
		}
		remaining := item.Stock[sale.BranchName] - line.Qty
		if remaining < 0 {
			remaining = 0
		}
		item.Stock[sale.BranchName] = remaining
		item.StockWeightKg[sale.BranchName] = float64(remaining) * item.UnitWeightKg

		if err := s.saveItemStock(ctx, pgTx, item); err != nil {
			return nil, err
		}
	}

	if sale.CustomerID != "" {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET total_orders = total_orders + 1,
			    total_spent_cents = total_spent_cents + $2,
			    loyalty_points = loyalty_points + $3,
			    last_purchase = $4,
			    last_contact = $4
			WHERE id = $1
		`, sale.CustomerID, sale.TotalCents, sale.TotalCents/10000, sale.CreatedAt)
		if err != nil {
			return nil, err
		}
		// Unknown customer references are tolerated: zero rows is not an error.
		_, _ = res.RowsAffected()
	}

	if err := bumpRevision(ctx, pgTx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	recorded := sale
	return &recorded, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, address, total_orders, total_spent_cents, loyalty_points, last_purchase, last_contact, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows.Scan)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func scanCustomer(scan func(...any) error) (domain.Customer, error) {
	var c domain.Customer
	var lastPurchase, lastContact sql.NullTime
	err := scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address,
		&c.TotalOrders, &c.TotalSpentCents, &c.LoyaltyPoints, &lastPurchase, &lastContact, &c.CreatedAt)
	if err != nil {
		return domain.Customer{}, err
	}
	if lastPurchase.Valid {
		t := lastPurchase.Time.UTC()
		c.LastPurchase = &t
	}
	if lastContact.Valid {
		t := lastContact.Time.UTC()
		c.LastContact = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, address, total_orders, total_spent_cents, loyalty_points, last_purchase, last_contact, created_at
		FROM customers WHERE id = $1
	`, customerID)
	c, err := scanCustomer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, address, total_orders, total_spent_cents, loyalty_points, created_at)
		VALUES ($1,$2,$3,$4,$5,0,0,0,$6)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.SystemSettings, error) {
	var settings domain.SystemSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT company_name, company_address, company_phone, currency, locale, theme
		FROM system_settings WHERE id = 1
	`).Scan(&settings.CompanyName, &settings.CompanyAddress, &settings.CompanyPhone,
		&settings.Currency, &settings.Locale, &settings.Theme)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SystemSettings{Currency: "IDR", Locale: "id-ID", Theme: "light"}, nil
	}
	return settings, err
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.SystemSettings) (domain.SystemSettings, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.SystemSettings{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_settings (id, company_name, company_address, company_phone, currency, locale, theme)
		VALUES (1,$1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET company_name = $1, company_address = $2, company_phone = $3, currency = $4, locale = $5, theme = $6
	`, settings.CompanyName, settings.CompanyAddress, settings.CompanyPhone,
		settings.Currency, settings.Locale, settings.Theme)
	if err != nil {
		return domain.SystemSettings{}, err
	}

	if err := bumpRevision(ctx, tx); err != nil {
		return domain.SystemSettings{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SystemSettings{}, err
	}
	return settings, nil
}

// Snapshot loads the analytics inputs with a repeatable-read transaction so
// the revision, log, and inventory are mutually consistent.
func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var snapshot domain.Snapshot
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM app_meta WHERE key = 'revision'
	`).Scan(&snapshot.Revision)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, err
	}

	txRows, err := tx.QueryContext(ctx, `
		SELECT id, branch_name, customer_id, items, subtotal_cents, discount_percent, total_cents, cashier, created_at
		FROM transactions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer txRows.Close()
	for txRows.Next() {
		record, err := scanTransaction(txRows.Scan)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snapshot.Transactions = append(snapshot.Transactions, record)
	}
	if err := txRows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM inventory_items ORDER BY category, name
	`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows.Scan)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snapshot.Items = append(snapshot.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	branchRows, err := tx.QueryContext(ctx, `
		SELECT name FROM branches WHERE active = true
	`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer branchRows.Close()
	for branchRows.Next() {
		var name string
		if err := branchRows.Scan(&name); err != nil {
			return domain.Snapshot{}, err
		}
		snapshot.BranchNames = append(snapshot.BranchNames, name)
	}
	if err := branchRows.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	sort.Strings(snapshot.BranchNames)

	return snapshot, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizeItemStock(item *domain.InventoryItem) {
	if item.Stock == nil {
		item.Stock = make(map[string]int)
	}
	if item.StockWeightKg == nil {
		item.StockWeightKg = make(map[string]float64)
	}
	for branch, qty := range item.Stock {
		if qty < 0 {
			qty = 0
			item.Stock[branch] = 0
		}
		item.StockWeightKg[branch] = float64(qty) * item.UnitWeightKg
	}
}

func marshalItemMaps(item domain.InventoryItem) ([]byte, []byte, []byte, error) {
	stockJSON, err := json.Marshal(item.Stock)
	if err != nil {
		return nil, nil, nil, err
	}
	weightJSON, err := json.Marshal(item.StockWeightKg)
	if err != nil {
		return nil, nil, nil, err
	}
	expirations := item.Expirations
	if expirations == nil {
		expirations = map[string][]time.Time{}
	}
	expirationsJSON, err := json.Marshal(expirations)
	if err != nil {
		return nil, nil, nil, err
	}
	return stockJSON, weightJSON, expirationsJSON, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
