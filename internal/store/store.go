package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientCases     = errors.New("insufficient warehouse cases")
	ErrCreditLimitExceeded   = errors.New("credit limit exceeded")
	ErrPaymentExceedsBalance = errors.New("payment exceeds balance")
	ErrDuplicateInvoice      = errors.New("invoice number already exists")
	ErrConflict              = errors.New("conflict")
)

// StockError reports a sale line the shop floor cannot cover.
type StockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("not enough stock for %s, available: %d", e.ProductName, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// CaseError reports a transfer asking for more cases than the warehouse holds.
type CaseError struct {
	ProductID string
	Available int
	Requested int
}

func (e *CaseError) Error() string {
	return fmt.Sprintf("only %d cases available in warehouse", e.Available)
}

func (e *CaseError) Unwrap() error { return ErrInsufficientCases }

// CreditLimitError carries the remaining headroom on the customer's khata.
type CreditLimitError struct {
	CustomerID string
	Available  decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded, available: %s", e.Available.StringFixed(2))
}

func (e *CreditLimitError) Unwrap() error { return ErrCreditLimitExceeded }

type PaymentError struct {
	CustomerID string
	Balance    decimal.Decimal
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment exceeds balance of %s", e.Balance.StringFixed(2))
}

func (e *PaymentError) Unwrap() error { return ErrPaymentExceedsBalance }

// Repository is the persistence boundary. Every read and write is scoped by
// shop; a row owned by another shop is reported as ErrNotFound. The four stock
// pipelines (TransferStock, ReconcileStock, CreateSale, CreatePurchase) plus
// ReceiveStock and RecordPayment are all-or-nothing.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)

	TransferStock(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, *domain.Product, error)
	ListTransfers(ctx context.Context, shopID string, limit int) ([]domain.StockTransfer, error)
	ReconcileStock(ctx context.Context, shopID string, entries []domain.StockCountEntry, countedBy string, at time.Time) ([]domain.StockCountLog, error)
	ListStockCounts(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockCountLog, error)
	ReceiveStock(ctx context.Context, shopID string, entries []domain.ReceiveStockEntry) (int, error)

	// CreateSale prices, stocks and commits a sale. When the idempotency key
	// was already used in the shop, the earlier sale is returned unchanged.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, shopID string, saleID string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, shopID string, limit int) ([]domain.Sale, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error)
	ListCustomerStats(ctx context.Context, shopID string) ([]domain.CustomerStats, error)
	RecordPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, shopID string) ([]domain.Supplier, error)
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, shopID string, limit int) ([]domain.Purchase, error)

	// GSTByMonth sums sale tax by sale time and purchase tax by purchase date
	// over [from, to), one row per UTC calendar month, newest month first.
	GSTByMonth(ctx context.Context, shopID string, from time.Time, to time.Time) ([]domain.GSTMonth, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
