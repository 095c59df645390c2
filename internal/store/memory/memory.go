package memory

import (
	"cmp"
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/ledger"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

// Store keeps every shop's data in process. Each mutating call validates the
// whole request before touching any map, so a rejected call leaves no trace.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	transfers        []domain.StockTransfer
	countLogs        []domain.StockCountLog
	latestCount      map[string]domain.StockCountLog
	salesByID        map[string]*domain.Sale
	saleIDByIdem     map[string]string
	invoiceSeq       map[string]int
	customers        map[string]domain.Customer
	payments         []domain.Payment
	suppliers        map[string]domain.Supplier
	purchases        []domain.Purchase
	purchaseInvoices map[string]struct{}
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		latestCount:      make(map[string]domain.StockCountLog),
		salesByID:        make(map[string]*domain.Sale),
		saleIDByIdem:     make(map[string]string),
		invoiceSeq:       make(map[string]int),
		customers:        make(map[string]domain.Customer),
		suppliers:        make(map[string]domain.Supplier),
		purchaseInvoices: make(map[string]struct{}),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the demo accounts for the seeded shop. Passwords come from
// SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD, falling back to dev defaults.
func seedUsers(shopID string) map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    shopID,
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

// NewSeeded returns a store holding one demo shop with a small liquor
// catalogue, a khata customer and a distributor.
func NewSeeded(shopID string) *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd-royal-stag-750", Name: "Royal Stag", Brand: "Seagram's", Category: domain.CategoryWhisky, Size: domain.SizeML750, MRP: decimal.NewFromInt(950), CostPrice: decimal.NewFromInt(760), WarehouseCases: 10, ShopBottles: 20},
		{ID: "prd-royal-stag-180", Name: "Royal Stag", Brand: "Seagram's", Category: domain.CategoryWhisky, Size: domain.SizeML180, MRP: decimal.NewFromInt(250), CostPrice: decimal.NewFromInt(200), BottlesPerCase: 50, WarehouseCases: 4, ShopBottles: 60},
		{ID: "prd-old-monk-375", Name: "Old Monk", Brand: "Mohan Meakin", Category: domain.CategoryRum, Size: domain.SizeML375, MRP: decimal.NewFromInt(320), CostPrice: decimal.NewFromInt(255), WarehouseCases: 6, ShopBottles: 30},
		{ID: "prd-kingfisher-650", Name: "Kingfisher Strong", Brand: "United Breweries", Category: domain.CategoryBeer, Size: domain.SizeBottle650, MRP: decimal.NewFromInt(180), CostPrice: decimal.NewFromInt(140), WarehouseCases: 20, ShopBottles: 48},
		{ID: "prd-sula-750", Name: "Sula Shiraz", Brand: "Sula", Category: domain.CategoryWine, Size: domain.SizeML750, MRP: decimal.NewFromInt(1100), CostPrice: decimal.NewFromInt(850), GSTRate: 12, WarehouseCases: 2, ShopBottles: 5},
	}
	for _, p := range products {
		p.ShopID = shopID
		p.HSNCode = ledger.HSNCode(p.Category)
		if p.GSTRate == 0 {
			p.GSTRate = domain.DefaultGSTRate
		}
		p.ReorderLevel = domain.DefaultReorderLevel
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	s.customers["cus-ramesh"] = domain.Customer{
		ID:            "cus-ramesh",
		ShopID:        shopID,
		Name:          "Ramesh Kumar",
		Phone:         "9876543210",
		CreditLimit:   domain.DefaultCreditLimit,
		CreditBalance: decimal.Zero,
		CreatedAt:     now,
	}
	s.suppliers["sup-city-dist"] = domain.Supplier{
		ID:          "sup-city-dist",
		ShopID:      shopID,
		Name:        "City Distributors",
		ContactName: "Anil",
		CreatedAt:   now,
	}
	s.usersByUsername = seedUsers(shopID)
	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

// UpdateProduct replaces descriptive and pricing fields. Stock counters on the
// stored row are preserved whatever the caller passes.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok || current.ShopID != product.ShopID {
		return nil, store.ErrNotFound
	}
	product.WarehouseCases = current.WarehouseCases
	product.WarehouseBottles = current.WarehouseBottles
	product.ShopBottles = current.ShopBottles
	product.CreatedAt = current.CreatedAt
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProduct(_ context.Context, shopID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok || product.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.ShopID != shopID || !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			if a.Name == b.Name {
				return cmp.Compare(a.Size, b.Size)
			}
			return cmp.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return products, nil
}

// activeProduct must be called with s.mu held.
func (s *Store) activeProduct(shopID string, productID string) (domain.Product, bool) {
	product, ok := s.products[productID]
	if !ok || product.ShopID != shopID || !product.Active {
		return domain.Product{}, false
	}
	return product, true
}

func (s *Store) TransferStock(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, *domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.activeProduct(transfer.ShopID, transfer.ProductID)
	if !ok {
		return nil, nil, store.ErrNotFound
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

	product.WarehouseCases -= transfer.Cases
	product.ShopBottles += transfer.BottlesGenerated
	product.UpdatedAt = transfer.CreatedAt
	s.products[product.ID] = product
	s.transfers = append(s.transfers, transfer)

	return &transfer, &product, nil
}

func (s *Store) ListTransfers(_ context.Context, shopID string, limit int) ([]domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockTransfer, 0, 32)
	for _, t := range s.transfers {
		if t.ShopID == shopID {
			result = append(result, t)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.StockTransfer) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(result, limit), nil
}

func (s *Store) ReconcileStock(_ context.Context, shopID string, entries []domain.StockCountEntry, countedBy string, at time.Time) ([]domain.StockCountLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	logs := make([]domain.StockCountLog, 0, len(entries))
	for _, entry := range entries {
		product, ok := s.activeProduct(shopID, entry.ProductID)
		if !ok {
			return nil, store.ErrNotFound
		}
		var prev *ledger.Count
		if last, ok := s.latestCount[product.ID]; ok {
			prev = &ledger.Count{WarehouseCases: last.WarehouseCases, ShopBottles: last.ShopBottles}
		}
		counted := ledger.Count{WarehouseCases: entry.WarehouseCases, ShopBottles: entry.ShopBottles}
		balance := ledger.SmartBalance(prev, counted, ledger.UnitsPerCase(product))
		logs = append(logs, domain.StockCountLog{
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
		})
	}

	for _, entry := range logs {
		product := s.products[entry.ProductID]
		product.WarehouseCases = entry.WarehouseCases
		product.ShopBottles = entry.ShopBottles
		product.UpdatedAt = at
		s.products[product.ID] = product
		s.latestCount[product.ID] = entry
		s.countLogs = append(s.countLogs, entry)
	}
	return logs, nil
}

func (s *Store) ListStockCounts(_ context.Context, shopID string, productID string, limit int) ([]domain.StockCountLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockCountLog, 0, 32)
	for _, entry := range s.countLogs {
		if entry.ShopID != shopID {
			continue
		}
		if productID != "" && entry.ProductID != productID {
			continue
		}
		result = append(result, entry)
	}
	slices.Reverse(result)
	return truncate(result, limit), nil
}

func (s *Store) ReceiveStock(_ context.Context, shopID string, entries []domain.ReceiveStockEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if _, ok := s.activeProduct(shopID, entry.ProductID); !ok {
			return 0, store.ErrNotFound
		}
	}
	now := time.Now().UTC()
	for _, entry := range entries {
		product := s.products[entry.ProductID]
		product.WarehouseCases += entry.Cases
		product.UpdatedAt = now
		s.products[product.ID] = product
	}
	return len(entries), nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if id, ok := s.saleIDByIdem[shopKey(sale.ShopID, sale.IdempotencyKey)]; ok {
			return cloneSale(s.salesByID[id]), nil
		}
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	requested := make(map[string]int, len(sale.Items))
	for i := range sale.Items {
		item := &sale.Items[i]
		product, ok := s.activeProduct(sale.ShopID, item.ProductID)
		if !ok {
			return nil, store.ErrNotFound
		}
		requested[product.ID] += item.Quantity
		if requested[product.ID] > product.ShopBottles {
			return nil, &store.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.ShopBottles,
				Requested:   requested[product.ID],
			}
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

	var customer domain.Customer
	if sale.PaymentMode == domain.PaymentCredit {
		c, ok := s.customers[sale.CustomerID]
		if !ok || c.ShopID != sale.ShopID {
			return nil, store.ErrNotFound
		}
		if c.CreditBalance.Add(sale.Total).GreaterThan(c.CreditLimit) {
			return nil, &store.CreditLimitError{CustomerID: c.ID, Available: headroom(c)}
		}
		customer = c
	} else if sale.CustomerID != "" {
		if c, ok := s.customers[sale.CustomerID]; !ok || c.ShopID != sale.ShopID {
			return nil, store.ErrNotFound
		}
	}

	seqKey := shopKey(sale.ShopID, sale.CreatedAt.UTC().Format(time.DateOnly))
	s.invoiceSeq[seqKey]++
	sale.InvoiceNumber = domain.InvoiceNumber(sale.CreatedAt, s.invoiceSeq[seqKey])
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}

	for productID, qty := range requested {
		product := s.products[productID]
		product.ShopBottles -= qty
		product.UpdatedAt = sale.CreatedAt
		s.products[productID] = product
	}
	if sale.PaymentMode == domain.PaymentCredit {
		customer.CreditBalance = customer.CreditBalance.Add(sale.Total)
		s.customers[customer.ID] = customer
	}
	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	if sale.IdempotencyKey != "" {
		s.saleIDByIdem[shopKey(sale.ShopID, sale.IdempotencyKey)] = sale.ID
	}
	return cloneSale(stored), nil
}

func (s *Store) FindSaleByID(_ context.Context, shopID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, shopID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByIdem[shopKey(shopID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

// ListSales returns sale headers, newest first. Items are loaded by FindSaleByID.
func (s *Store) ListSales(_ context.Context, shopID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if sale.ShopID != shopID {
			continue
		}
		header := *sale
		header.Items = nil
		result = append(result, header)
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.InvoiceNumber, a.InvoiceNumber)
	})
	return truncate(result, limit), nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, shopID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok || customer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomerStats(_ context.Context, shopID string) ([]domain.CustomerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statsByID := make(map[string]*domain.CustomerStats)
	result := make([]domain.CustomerStats, 0, len(s.customers))
	for _, c := range s.customers {
		if c.ShopID == shopID {
			statsByID[c.ID] = &domain.CustomerStats{Customer: c}
		}
	}
	for _, sale := range s.salesByID {
		stats, ok := statsByID[sale.CustomerID]
		if !ok || sale.ShopID != shopID {
			continue
		}
		stats.TotalSales++
		if stats.LastSaleAt == nil || sale.CreatedAt.After(*stats.LastSaleAt) {
			at := sale.CreatedAt
			stats.LastSaleAt = &at
		}
	}
	for _, stats := range statsByID {
		result = append(result, *stats)
	}
	slices.SortFunc(result, func(a, b domain.CustomerStats) int {
		if a.Name == b.Name {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) RecordPayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[payment.CustomerID]
	if !ok || customer.ShopID != payment.ShopID {
		return nil, store.ErrNotFound
	}
	if payment.Amount.GreaterThan(customer.CreditBalance) {
		return nil, &store.PaymentError{CustomerID: customer.ID, Balance: customer.CreditBalance}
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	customer.CreditBalance = customer.CreditBalance.Sub(payment.Amount)
	payment.BalanceAfter = customer.CreditBalance
	s.customers[customer.ID] = customer
	s.payments = append(s.payments, payment)
	return &payment, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context, shopID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		if supplier.ShopID == shopID {
			result = append(result, supplier)
		}
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return result, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier, ok := s.suppliers[purchase.SupplierID]; !ok || supplier.ShopID != purchase.ShopID {
		return nil, store.ErrNotFound
	}
	invoiceKey := shopKey(purchase.ShopID, purchase.InvoiceNumber)
	if _, exists := s.purchaseInvoices[invoiceKey]; exists {
		return nil, store.ErrDuplicateInvoice
	}
	for _, item := range purchase.Items {
		if _, ok := s.activeProduct(purchase.ShopID, item.ProductID); !ok {
			return nil, store.ErrNotFound
		}
	}

	ledger.PricePurchase(&purchase)
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	for _, item := range purchase.Items {
		product := s.products[item.ProductID]
		product.WarehouseCases += item.Cases
		product.UpdatedAt = purchase.CreatedAt
		s.products[product.ID] = product
	}
	purchase.Items = slices.Clone(purchase.Items)
	s.purchases = append(s.purchases, purchase)
	s.purchaseInvoices[invoiceKey] = struct{}{}

	created := purchase
	created.Items = slices.Clone(purchase.Items)
	return &created, nil
}

func (s *Store) ListPurchases(_ context.Context, shopID string, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, len(s.purchases))
	for _, purchase := range s.purchases {
		if purchase.ShopID != shopID {
			continue
		}
		header := purchase
		header.Items = nil
		result = append(result, header)
	}
	slices.SortStableFunc(result, func(a, b domain.Purchase) int {
		if c := b.PurchaseDate.Compare(a.PurchaseDate); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(result, limit), nil
}

func (s *Store) GSTByMonth(_ context.Context, shopID string, from time.Time, to time.Time) ([]domain.GSTMonth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inRange := func(at time.Time) bool {
		return !at.Before(from) && at.Before(to)
	}
	byMonth := make(map[string]*domain.GSTMonth)
	bucket := func(at time.Time) *domain.GSTMonth {
		key := at.UTC().Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = &domain.GSTMonth{Month: key}
			byMonth[key] = m
		}
		return m
	}

	for _, sale := range s.salesByID {
		if sale.ShopID != shopID || !inRange(sale.CreatedAt) {
			continue
		}
		m := bucket(sale.CreatedAt)
		m.SalesTotal = m.SalesTotal.Add(sale.Total)
		m.OutputCGST = m.OutputCGST.Add(sale.CGST)
		m.OutputSGST = m.OutputSGST.Add(sale.SGST)
	}
	for _, purchase := range s.purchases {
		if purchase.ShopID != shopID || !inRange(purchase.PurchaseDate) {
			continue
		}
		m := bucket(purchase.PurchaseDate)
		m.InputCGST = m.InputCGST.Add(purchase.CGST)
		m.InputSGST = m.InputSGST.Add(purchase.SGST)
	}

	result := make([]domain.GSTMonth, 0, len(byMonth))
	for _, m := range byMonth {
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b domain.GSTMonth) int {
		return cmp.Compare(b.Month, a.Month)
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.ShopID != shopID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmp.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(result, limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Invalid("username", "is required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Invalid("password", "is required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func headroom(c domain.Customer) decimal.Decimal {
	return decimal.Max(decimal.Zero, c.CreditLimit.Sub(c.CreditBalance))
}

func shopKey(shopID string, key string) string {
	return shopID + "|" + key
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}
