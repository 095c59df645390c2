package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/ledger"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
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

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; the caller keeps ownership of pool settings.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const productColumns = `id, shop_id, name, brand, category, size, hsn_code, mrp, cost_price,
	bottles_per_case, gst_rate, reorder_level, warehouse_cases, warehouse_bottles, shop_bottles,
	active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var bpc sql.NullInt64
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Brand, &p.Category, &p.Size, &p.HSNCode, &p.MRP, &p.CostPrice,
		&bpc, &p.GSTRate, &p.ReorderLevel, &p.WarehouseCases, &p.WarehouseBottles, &p.ShopBottles,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.BottlesPerCase = int(bpc.Int64)
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, product.ID, product.ShopID, product.Name, product.Brand, product.Category, product.Size, product.HSNCode,
		product.MRP, product.CostPrice, nullIfZero(product.BottlesPerCase), product.GSTRate, product.ReorderLevel,
		product.WarehouseCases, product.WarehouseBottles, product.ShopBottles, product.Active,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := product
	return &created, nil
}

// UpdateProduct never writes stock counters; those belong to the pipelines.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, brand = $4, category = $5, hsn_code = $6, mrp = $7, cost_price = $8,
			bottles_per_case = $9, gst_rate = $10, reorder_level = $11, active = $12, updated_at = $13
		WHERE id = $1 AND shop_id = $2
		RETURNING `+productColumns,
		product.ID, product.ShopID, product.Name, product.Brand, product.Category, product.HSNCode,
		product.MRP, product.CostPrice, nullIfZero(product.BottlesPerCase), product.GSTRate, product.ReorderLevel,
		product.Active, product.UpdatedAt)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND shop_id = $2`, productID, shopID)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1 AND active = true
		ORDER BY category, name, size
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func lockProduct(ctx context.Context, tx *sql.Tx, shopID string, productID string) (domain.Product, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND shop_id = $2 AND active = true
		FOR UPDATE
	`, productID, shopID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, store.ErrNotFound
	}
	return product, err
}

func (s *Store) TransferStock(ctx context.Context, transfer domain.StockTransfer) (_ *domain.StockTransfer, _ *domain.Product, err error) {
	defer func() { err = retryable(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, transfer.ShopID, transfer.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if transfer.Cases > product.WarehouseCases {
		return nil, nil, &store.CaseError{ProductID: product.ID, Available: product.WarehouseCases, Requested: transfer.Cases}
	}

	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.ProductName = product.Name
	transfer.Size = product.Size
	transfer.BottlesGenerated = transfer.Cases * ledger.UnitsPerCase(product)

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET warehouse_cases = warehouse_cases - $1, shop_bottles = shop_bottles + $2, updated_at = $3
		WHERE id = $4 AND shop_id = $5
	`, transfer.Cases, transfer.BottlesGenerated, transfer.CreatedAt, product.ID, transfer.ShopID)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_transfers (id, shop_id, product_id, cases, bottles_generated, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, transfer.ID, transfer.ShopID, product.ID, transfer.Cases, transfer.BottlesGenerated, transfer.CreatedBy, transfer.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	product.WarehouseCases -= transfer.Cases
	product.ShopBottles += transfer.BottlesGenerated
	product.UpdatedAt = transfer.CreatedAt
	return &transfer, &product, nil
}

func (s *Store) ListTransfers(ctx context.Context, shopID string, limit int) ([]domain.StockTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.shop_id, t.product_id, p.name, p.size, t.cases, t.bottles_generated, t.created_by, t.created_at
		FROM stock_transfers t
		JOIN products p ON p.id = t.product_id
		WHERE t.shop_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2
	`, shopID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockTransfer, 0, 32)
	for rows.Next() {
		var t domain.StockTransfer
		if err := rows.Scan(&t.ID, &t.ShopID, &t.ProductID, &t.ProductName, &t.Size, &t.Cases,
			&t.BottlesGenerated, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) ReconcileStock(ctx context.Context, shopID string, entries []domain.StockCountEntry, countedBy string, at time.Time) (_ []domain.StockCountLog, err error) {
	defer func() { err = retryable(err) }()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	logs := make([]domain.StockCountLog, 0, len(entries))
	for _, entry := range entries {
		product, err := lockProduct(ctx, tx, shopID, entry.ProductID)
		if err != nil {
			return nil, err
		}

		var prev *ledger.Count
		var last ledger.Count
		err = tx.QueryRowContext(ctx, `
			SELECT warehouse_cases, shop_bottles
			FROM stock_count_logs
			WHERE product_id = $1 AND shop_id = $2
			ORDER BY seq DESC
			LIMIT 1
		`, product.ID, shopID).Scan(&last.WarehouseCases, &last.ShopBottles)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, err
		default:
			prev = &last
		}

		counted := ledger.Count{WarehouseCases: entry.WarehouseCases, ShopBottles: entry.ShopBottles}
		balance := ledger.SmartBalance(prev, counted, ledger.UnitsPerCase(product))
		log := domain.StockCountLog{
			ID:               xid.New("cnt"),
			ShopID:           shopID,
			ProductID:        product.ID,
			ProductName:      product.Name,
			WarehouseCases:   entry.WarehouseCases,
			ShopBottles:      entry.ShopBottles,
			CasesOpened:      balance.CasesOpened,
			BottlesFromCases: balance.BottlesFromCases,
			ExpectedBottles:  balance.ExpectedBottles,
			AutoSalesCount:   balance.AutoSalesCount,
			HasAnomaly:       balance.HasAnomaly,
			HasBaseline:      prev != nil,
			Note:             entry.Note,
			CountedBy:        countedBy,
			CreatedAt:        at,
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET warehouse_cases = $1, shop_bottles = $2, updated_at = $3
			WHERE id = $4 AND shop_id = $5
		`, log.WarehouseCases, log.ShopBottles, at, product.ID, shopID)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_count_logs (
				id, shop_id, product_id, warehouse_cases, shop_bottles, cases_opened, bottles_from_cases,
				expected_bottles, auto_sales_count, has_anomaly, has_baseline, note, counted_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, log.ID, shopID, log.ProductID, log.WarehouseCases, log.ShopBottles, log.CasesOpened, log.BottlesFromCases,
			log.ExpectedBottles, log.AutoSalesCount, log.HasAnomaly, log.HasBaseline, nullIfEmpty(log.Note),
			log.CountedBy, log.CreatedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) ListStockCounts(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockCountLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.shop_id, l.product_id, p.name, l.warehouse_cases, l.shop_bottles, l.cases_opened,
			l.bottles_from_cases, l.expected_bottles, l.auto_sales_count, l.has_anomaly, l.has_baseline,
			COALESCE(l.note, ''), l.counted_by, l.created_at
		FROM stock_count_logs l
		JOIN products p ON p.id = l.product_id
		WHERE l.shop_id = $1 AND ($2 = '' OR l.product_id = $2)
		ORDER BY l.seq DESC
		LIMIT $3
	`, shopID, productID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockCountLog, 0, 32)
	for rows.Next() {
		var l domain.StockCountLog
		if err := rows.Scan(&l.ID, &l.ShopID, &l.ProductID, &l.ProductName, &l.WarehouseCases, &l.ShopBottles,
			&l.CasesOpened, &l.BottlesFromCases, &l.ExpectedBottles, &l.AutoSalesCount, &l.HasAnomaly,
			&l.HasBaseline, &l.Note, &l.CountedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) ReceiveStock(ctx context.Context, shopID string, entries []domain.ReceiveStockEntry) (_ int, err error) {
	defer func() { err = retryable(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, entry := range entries {
		if err := addCases(ctx, tx, shopID, entry.ProductID, entry.Cases, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func addCases(ctx context.Context, tx *sql.Tx, shopID string, productID string, cases int, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET warehouse_cases = warehouse_cases + $1, updated_at = $2
		WHERE id = $3 AND shop_id = $4 AND active = true
	`, cases, at, productID, shopID)
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

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (_ *domain.Sale, err error) {
	defer func() { err = retryable(err) }()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	products, err := loadActiveProducts(ctx, tx, sale.ShopID, saleProductIDs(sale.Items))
	if err != nil {
		return nil, err
	}
	for i := range sale.Items {
		item := &sale.Items[i]
		product, ok := products[item.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		item.ProductName = product.Name
		item.GSTRate = product.GSTRate
		if item.UnitPrice.IsZero() {
			item.UnitPrice = product.MRP
		}
	}
	if err := ledger.PriceSale(&sale); err != nil {
		return nil, err
	}

	if sale.CustomerID != "" && sale.PaymentMode != domain.PaymentCredit {
		if _, err := customerBalance(ctx, tx, sale.ShopID, sale.CustomerID); err != nil {
			return nil, err
		}
	}

	// Conditional decrement: the WHERE clause is the stock check, so two
	// terminals selling the last bottle cannot both succeed.
	taken := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET shop_bottles = shop_bottles - $1, updated_at = $2
			WHERE id = $3 AND shop_id = $4 AND shop_bottles >= $1
		`, item.Quantity, sale.CreatedAt, item.ProductID, sale.ShopID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var remaining int
			if err := tx.QueryRowContext(ctx, `SELECT shop_bottles FROM products WHERE id = $1 AND shop_id = $2`,
				item.ProductID, sale.ShopID).Scan(&remaining); err != nil {
				return nil, err
			}
			return nil, &store.StockError{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Available:   remaining + taken[item.ProductID],
				Requested:   taken[item.ProductID] + item.Quantity,
			}
		}
		taken[item.ProductID] += item.Quantity
	}

	day := sale.CreatedAt.UTC().Truncate(24 * time.Hour)
	var seq int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (shop_id, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (shop_id, day) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, sale.ShopID, day).Scan(&seq)
	if err != nil {
		return nil, err
	}
	sale.InvoiceNumber = domain.InvoiceNumber(sale.CreatedAt, seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, shop_id, invoice_number, idempotency_key, customer_id, payment_mode,
			subtotal, discount, total, cgst, sgst, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.ShopID, sale.InvoiceNumber, nullIfEmpty(sale.IdempotencyKey), nullIfEmpty(sale.CustomerID),
		sale.PaymentMode, sale.Subtotal, sale.Discount, sale.Total, sale.CGST, sale.SGST, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			_ = tx.Rollback()
			if existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.ShopID, sale.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for i, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, unit_price, line_total, gst_rate)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.LineTotal, item.GSTRate)
		if err != nil {
			return nil, err
		}
	}

	if sale.PaymentMode == domain.PaymentCredit {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET credit_balance = credit_balance + $1
			WHERE id = $2 AND shop_id = $3 AND credit_balance + $1 <= credit_limit
		`, sale.Total, sale.CustomerID, sale.ShopID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, creditFailure(ctx, tx, sale.ShopID, sale.CustomerID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

type customerCredit struct {
	limit   decimal.Decimal
	balance decimal.Decimal
}

func customerBalance(ctx context.Context, tx *sql.Tx, shopID string, customerID string) (customerCredit, error) {
	var c customerCredit
	err := tx.QueryRowContext(ctx, `
		SELECT credit_limit, credit_balance FROM customers WHERE id = $1 AND shop_id = $2
	`, customerID, shopID).Scan(&c.limit, &c.balance)
	if errors.Is(err, sql.ErrNoRows) {
		return c, store.ErrNotFound
	}
	return c, err
}

// creditFailure explains why the conditional credit update matched no row.
func creditFailure(ctx context.Context, tx *sql.Tx, shopID string, customerID string) error {
	c, err := customerBalance(ctx, tx, shopID, customerID)
	if err != nil {
		return err
	}
	return &store.CreditLimitError{
		CustomerID: customerID,
		Available:  decimal.Max(decimal.Zero, c.limit.Sub(c.balance)),
	}
}

func loadActiveProducts(ctx context.Context, tx *sql.Tx, shopID string, ids []string) (map[string]domain.Product, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1 AND active = true AND id = ANY($2)
	`, shopID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

func (s *Store) FindSaleByID(ctx context.Context, shopID string, saleID string) (*domain.Sale, error) {
	return s.findSale(ctx, shopID, "id", saleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error) {
	return s.findSale(ctx, shopID, "idempotency_key", key)
}

const saleColumns = `id, shop_id, invoice_number, COALESCE(idempotency_key, ''), COALESCE(customer_id, ''),
	payment_mode, subtotal, discount, total, cgst, sgst, created_by, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.ShopID, &sale.InvoiceNumber, &sale.IdempotencyKey, &sale.CustomerID,
		&sale.PaymentMode, &sale.Subtotal, &sale.Discount, &sale.Total, &sale.CGST, &sale.SGST,
		&sale.CreatedBy, &sale.CreatedAt)
	return sale, err
}

func (s *Store) findSale(ctx context.Context, shopID string, column string, value string) (*domain.Sale, error) {
	query := fmt.Sprintf(`SELECT %s FROM sales WHERE shop_id = $1 AND %s = $2`, saleColumns, column)
	sale, err := scanSale(s.db.QueryRowContext(ctx, query, shopID, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, line_total, gst_rate
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal, &item.GSTRate); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales returns sale headers, newest first. Items are loaded by FindSaleByID.
func (s *Store) ListSales(ctx context.Context, shopID string, limit int) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE shop_id = $1
		ORDER BY created_at DESC, invoice_number DESC
		LIMIT $2
	`, shopID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sale)
	}
	return result, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, address, credit_limit, credit_balance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, customer.ID, customer.ShopID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address),
		customer.CreditLimit, customer.CreditBalance, customer.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(phone, ''), COALESCE(address, ''), credit_limit, credit_balance, created_at
		FROM customers
		WHERE id = $1 AND shop_id = $2
	`, customerID, shopID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.Address, &c.CreditLimit, &c.CreditBalance, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomerStats(ctx context.Context, shopID string) ([]domain.CustomerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.shop_id, c.name, COALESCE(c.phone, ''), COALESCE(c.address, ''),
			c.credit_limit, c.credit_balance, c.created_at,
			COUNT(s.id), MAX(s.created_at)
		FROM customers c
		LEFT JOIN sales s ON s.customer_id = c.id AND s.shop_id = c.shop_id
		WHERE c.shop_id = $1
		GROUP BY c.id
		ORDER BY c.name, c.id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CustomerStats, 0, 64)
	for rows.Next() {
		var cs domain.CustomerStats
		var lastSale sql.NullTime
		if err := rows.Scan(&cs.ID, &cs.ShopID, &cs.Name, &cs.Phone, &cs.Address, &cs.CreditLimit, &cs.CreditBalance,
			&cs.CreatedAt, &cs.TotalSales, &lastSale); err != nil {
			return nil, err
		}
		if lastSale.Valid {
			at := lastSale.Time.UTC()
			cs.LastSaleAt = &at
		}
		result = append(result, cs)
	}
	return result, rows.Err()
}

func (s *Store) RecordPayment(ctx context.Context, payment domain.Payment) (_ *domain.Payment, err error) {
	defer func() { err = retryable(err) }()

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE customers
		SET credit_balance = credit_balance - $1
		WHERE id = $2 AND shop_id = $3 AND credit_balance >= $1
		RETURNING credit_balance
	`, payment.Amount, payment.CustomerID, payment.ShopID).Scan(&payment.BalanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		c, lookupErr := customerBalance(ctx, tx, payment.ShopID, payment.CustomerID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, &store.PaymentError{CustomerID: payment.CustomerID, Balance: c.balance}
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customer_payments (id, shop_id, customer_id, amount, balance_after, note, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.ShopID, payment.CustomerID, payment.Amount, payment.BalanceAfter,
		nullIfEmpty(payment.Note), payment.RecordedBy, payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, shop_id, name, phone, contact_name, gst_number, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, supplier.ID, supplier.ShopID, supplier.Name, nullIfEmpty(supplier.Phone), nullIfEmpty(supplier.ContactName),
		nullIfEmpty(supplier.GSTNumber), supplier.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context, shopID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, COALESCE(phone, ''), COALESCE(contact_name, ''), COALESCE(gst_number, ''), created_at
		FROM suppliers
		WHERE shop_id = $1
		ORDER BY lower(name)
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.ShopID, &sup.Name, &sup.Phone, &sup.ContactName, &sup.GSTNumber, &sup.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sup)
	}
	return result, rows.Err()
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (_ *domain.Purchase, err error) {
	defer func() { err = retryable(err) }()

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	ledger.PricePurchase(&purchase)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1 AND shop_id = $2)`,
		purchase.SupplierID, purchase.ShopID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, shop_id, supplier_id, invoice_number, purchase_date, payment_status, total, cgst, sgst, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, purchase.ID, purchase.ShopID, purchase.SupplierID, purchase.InvoiceNumber, purchase.PurchaseDate,
		purchase.PaymentStatus, purchase.Total, purchase.CGST, purchase.SGST, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateInvoice
		}
		return nil, err
	}

	for i, item := range purchase.Items {
		if err := addCases(ctx, tx, purchase.ShopID, item.ProductID, item.Cases, purchase.CreatedAt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, line_no, product_id, cases, cost_per_case, line_total, gst_rate)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, purchase.ID, i+1, item.ProductID, item.Cases, item.CostPerCase, item.LineTotal, item.GSTRate)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, shopID string, limit int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, supplier_id, invoice_number, purchase_date, payment_status, total, cgst, sgst, created_by, created_at
		FROM purchases
		WHERE shop_id = $1
		ORDER BY purchase_date DESC, created_at DESC
		LIMIT $2
	`, shopID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Purchase, 0, 32)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.ShopID, &p.SupplierID, &p.InvoiceNumber, &p.PurchaseDate, &p.PaymentStatus,
			&p.Total, &p.CGST, &p.SGST, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) GSTByMonth(ctx context.Context, shopID string, from time.Time, to time.Time) ([]domain.GSTMonth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT month, SUM(sales_total), SUM(output_cgst), SUM(output_sgst), SUM(input_cgst), SUM(input_sgst)
		FROM (
			SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM') AS month,
				total AS sales_total, cgst AS output_cgst, sgst AS output_sgst,
				0::numeric AS input_cgst, 0::numeric AS input_sgst
			FROM sales
			WHERE shop_id = $1 AND created_at >= $2 AND created_at < $3
			UNION ALL
			SELECT to_char(purchase_date, 'YYYY-MM'),
				0::numeric, 0::numeric, 0::numeric, cgst, sgst
			FROM purchases
			WHERE shop_id = $1 AND purchase_date >= $4::date AND purchase_date < $5::date
		) tax
		GROUP BY month
		ORDER BY month DESC
	`, shopID, from, to, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.GSTMonth, 0, 12)
	for rows.Next() {
		var m domain.GSTMonth
		if err := rows.Scan(&m.Month, &m.SalesTotal, &m.OutputCGST, &m.OutputSGST, &m.InputCGST, &m.InputSGST); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, shopID, from, to, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, shop_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, user.Username, user.Password, user.Role, user.ShopID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, shop_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.ShopID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
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

func saleProductIDs(items []domain.SaleItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// retryable turns a serialization failure or deadlock abort into
// store.ErrConflict. The transaction left nothing behind, so the caller may
// resubmit the same request.
func retryable(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: concurrent update, retry the request", store.ErrConflict)
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int) any {
	if val == 0 {
		return nil
	}
	return val
}
