package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Size string

const (
	SizeML750     Size = "ML_750"
	SizeML375     Size = "ML_375"
	SizeML180     Size = "ML_180"
	SizeCan500    Size = "CAN_500"
	SizeBottle650 Size = "BOTTLE_650"
)

type Category string

const (
	CategoryWhisky Category = "WHISKY"
	CategoryRum    Category = "RUM"
	CategoryVodka  Category = "VODKA"
	CategoryGin    Category = "GIN"
	CategoryBrandy Category = "BRANDY"
	CategoryWine   Category = "WINE"
	CategoryBeer   Category = "BEER"
)

type PaymentMode string

const (
	PaymentCash   PaymentMode = "CASH"
	PaymentUPI    PaymentMode = "UPI"
	PaymentCredit PaymentMode = "CREDIT"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
)

const (
	StockStatusInStock    = "in_stock"
	StockStatusLowStock   = "low_stock"
	StockStatusOutOfStock = "out_of_stock"
)

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

const (
	DefaultGSTRate      = 18
	DefaultReorderLevel = 10
	TransferHistorySize = 20
)

// DefaultCreditLimit applies to customers created without an explicit limit.
var DefaultCreditLimit = decimal.NewFromInt(5000)

// Product is one brand and package-size combination held by a shop.
// WarehouseBottles is carried by the schema but no pipeline writes it.
type Product struct {
	ID               string          `json:"id"`
	ShopID           string          `json:"shop_id"`
	Name             string          `json:"name"`
	Brand            string          `json:"brand"`
	Category         Category        `json:"category"`
	Size             Size            `json:"size"`
	HSNCode          string          `json:"hsn_code"`
	MRP              decimal.Decimal `json:"mrp"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	BottlesPerCase   int             `json:"bottles_per_case,omitempty"`
	GSTRate          int             `json:"gst_rate"`
	ReorderLevel     int             `json:"reorder_level"`
	WarehouseCases   int             `json:"warehouse_cases"`
	WarehouseBottles int             `json:"warehouse_bottles"`
	ShopBottles      int             `json:"shop_bottles"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Brand          string          `json:"brand" validate:"required,max=120"`
	Category       Category        `json:"category" validate:"required,oneof=WHISKY RUM VODKA GIN BRANDY WINE BEER"`
	Size           Size            `json:"size" validate:"required,oneof=ML_750 ML_375 ML_180 CAN_500 BOTTLE_650"`
	MRP            decimal.Decimal `json:"mrp"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	BottlesPerCase int             `json:"bottles_per_case" validate:"gte=0"`
	GSTRate        *int            `json:"gst_rate,omitempty" validate:"omitempty,gte=0,lte=28"`
	ReorderLevel   *int            `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Brand          *string          `json:"brand,omitempty" validate:"omitempty,max=120"`
	Category       *Category        `json:"category,omitempty" validate:"omitempty,oneof=WHISKY RUM VODKA GIN BRANDY WINE BEER"`
	MRP            *decimal.Decimal `json:"mrp,omitempty"`
	CostPrice      *decimal.Decimal `json:"cost_price,omitempty"`
	BottlesPerCase *int             `json:"bottles_per_case,omitempty" validate:"omitempty,gte=0"`
	GSTRate        *int             `json:"gst_rate,omitempty" validate:"omitempty,gte=0,lte=28"`
	ReorderLevel   *int             `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
}

type InventoryFilter struct {
	Search      string   `json:"search"`
	Category    Category `json:"category"`
	StockStatus string   `json:"stock_status"`
}

type InventoryItem struct {
	Product
	UnitsPerCase int    `json:"units_per_case"`
	TotalBottles int    `json:"total_bottles"`
	StockStatus  string `json:"stock_status"`
}

type StockTransfer struct {
	ID               string    `json:"id"`
	ShopID           string    `json:"shop_id"`
	ProductID        string    `json:"product_id"`
	ProductName      string    `json:"product_name"`
	Size             Size      `json:"size"`
	Cases            int       `json:"cases"`
	BottlesGenerated int       `json:"bottles_generated"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type TransferRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Cases     int    `json:"cases" validate:"gt=0"`
}

type TransferResponse struct {
	Transfer         StockTransfer `json:"transfer"`
	Product          Product       `json:"product"`
	BottlesGenerated int           `json:"bottles_generated"`
}

// StockCountLog is the immutable snapshot written by one reconciliation of
// one product. The newest log per product is the baseline for the next count.
type StockCountLog struct {
	ID               string    `json:"id"`
	ShopID           string    `json:"shop_id"`
	ProductID        string    `json:"product_id"`
	ProductName      string    `json:"product_name"`
	WarehouseCases   int       `json:"warehouse_cases"`
	ShopBottles      int       `json:"shop_bottles"`
	CasesOpened      int       `json:"cases_opened"`
	BottlesFromCases int       `json:"bottles_from_cases"`
	ExpectedBottles  int       `json:"expected_bottles"`
	AutoSalesCount   int       `json:"auto_sales_count"`
	HasAnomaly       bool      `json:"has_anomaly"`
	HasBaseline      bool      `json:"has_baseline"`
	Note             string    `json:"note,omitempty"`
	CountedBy        string    `json:"counted_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type StockCountEntry struct {
	ProductID      string `json:"product_id" validate:"required"`
	WarehouseCases int    `json:"warehouse_cases" validate:"gte=0"`
	ShopBottles    int    `json:"shop_bottles" validate:"gte=0"`
	Note           string `json:"note,omitempty" validate:"max=500"`
}

type StockCountRequest struct {
	Entries []StockCountEntry `json:"entries" validate:"required,min=1,dive"`
}

type StockCountResponse struct {
	Logs            []StockCountLog `json:"logs"`
	ProductsCounted int             `json:"products_counted"`
	TotalAutoSales  int             `json:"total_auto_sales"`
	Anomalies       int             `json:"anomalies"`
}

type ReceiveStockEntry struct {
	ProductID string `json:"product_id" validate:"required"`
	Cases     int    `json:"cases"`
}

type ReceiveStockRequest struct {
	Entries []ReceiveStockEntry `json:"entries" validate:"dive"`
}

type ReceiveStockResponse struct {
	Count int `json:"count"`
}

type Sale struct {
	ID             string          `json:"id"`
	ShopID         string          `json:"shop_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CustomerID     string          `json:"customer_id,omitempty"`
	PaymentMode    PaymentMode     `json:"payment_mode"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	CGST           decimal.Decimal `json:"cgst"`
	SGST           decimal.Decimal `json:"sgst"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []SaleItem      `json:"items"`
}

type SaleItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	GSTRate     int             `json:"gst_rate"`
}

type SaleItemRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleRequest struct {
	Items          []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMode    PaymentMode       `json:"payment_mode" validate:"required,oneof=CASH UPI CREDIT"`
	CustomerID     string            `json:"customer_id,omitempty" validate:"required_if=PaymentMode CREDIT"`
	Discount       decimal.Decimal   `json:"discount"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"max=128"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type Purchase struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	SupplierID    string          `json:"supplier_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	PaymentStatus string          `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	CGST          decimal.Decimal `json:"cgst"`
	SGST          decimal.Decimal `json:"sgst"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []PurchaseItem  `json:"items"`
}

type PurchaseItem struct {
	ProductID   string          `json:"product_id"`
	Cases       int             `json:"cases"`
	CostPerCase decimal.Decimal `json:"cost_per_case"`
	LineTotal   decimal.Decimal `json:"line_total"`
	GSTRate     int             `json:"gst_rate"`
}

type PurchaseItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required"`
	Cases       int             `json:"cases" validate:"gt=0"`
	CostPerCase decimal.Decimal `json:"cost_per_case"`
	GSTRate     *int            `json:"gst_rate,omitempty" validate:"omitempty,gte=0,lte=28"`
}

type PurchaseRequest struct {
	SupplierID    string                `json:"supplier_id" validate:"required"`
	InvoiceNumber string                `json:"invoice_number" validate:"required,max=64"`
	PurchaseDate  string                `json:"purchase_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PaymentStatus string                `json:"payment_status,omitempty" validate:"omitempty,oneof=paid pending"`
	Items         []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

type PurchaseResponse struct {
	Purchase Purchase `json:"purchase"`
}

// GSTQuery selects an inclusive day range for the GST summary. Empty From
// means the first day of the current month; empty To means today.
type GSTQuery struct {
	From string `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// GSTMonth is one calendar month of output tax charged on sales and input
// tax paid on purchases.
type GSTMonth struct {
	Month        string          `json:"month"`
	SalesTotal   decimal.Decimal `json:"sales_total"`
	TaxableSales decimal.Decimal `json:"taxable_sales"`
	OutputCGST   decimal.Decimal `json:"output_cgst"`
	OutputSGST   decimal.Decimal `json:"output_sgst"`
	InputCGST    decimal.Decimal `json:"input_cgst"`
	InputSGST    decimal.Decimal `json:"input_sgst"`
	NetPayable   decimal.Decimal `json:"net_payable"`
}

type GSTSummary struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	SalesTotal   decimal.Decimal `json:"sales_total"`
	TaxableValue decimal.Decimal `json:"taxable_value"`
	OutputCGST   decimal.Decimal `json:"output_cgst"`
	OutputSGST   decimal.Decimal `json:"output_sgst"`
	InputCGST    decimal.Decimal `json:"input_cgst"`
	InputSGST    decimal.Decimal `json:"input_sgst"`
	NetCGST      decimal.Decimal `json:"net_cgst"`
	NetSGST      decimal.Decimal `json:"net_sgst"`
	NetPayable   decimal.Decimal `json:"net_payable"`
	Months       []GSTMonth      `json:"months"`
}

type Customer struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	Address       string          `json:"address,omitempty"`
	CreditLimit   decimal.Decimal `json:"credit_limit"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name        string           `json:"name" validate:"required,max=120"`
	Phone       string           `json:"phone,omitempty" validate:"max=20"`
	Address     string           `json:"address,omitempty" validate:"max=255"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

// CustomerStats is a customer together with the sale history the credit
// scorer reads.
type CustomerStats struct {
	Customer
	TotalSales int        `json:"total_sales"`
	LastSaleAt *time.Time `json:"last_sale_at,omitempty"`
}

type CustomerCredit struct {
	CustomerStats
	TrustScore int             `json:"trust_score"`
	Tier       string          `json:"tier"`
	Priority   decimal.Decimal `json:"priority"`
}

type CollectionQueue struct {
	ShopID           string           `json:"shop_id"`
	Customers        []CustomerCredit `json:"customers"`
	TotalOutstanding decimal.Decimal  `json:"total_outstanding"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

type Payment struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shop_id"`
	CustomerID   string          `json:"customer_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Note         string          `json:"note,omitempty"`
	RecordedBy   string          `json:"recorded_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty" validate:"max=255"`
}

type PaymentResponse struct {
	Payment    Payment         `json:"payment"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type Supplier struct {
	ID          string    `json:"id"`
	ShopID      string    `json:"shop_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	ContactName string    `json:"contact_name,omitempty"`
	GSTNumber   string    `json:"gst_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Phone       string `json:"phone,omitempty" validate:"max=20"`
	ContactName string `json:"contact_name,omitempty" validate:"max=120"`
	GSTNumber   string `json:"gst_number,omitempty" validate:"max=15"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ShopID    string    `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	ShopID    string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvoiceNumber formats a sale invoice from the sale day and the shop's
// sequence value for that day.
func InvoiceNumber(day time.Time, seq int) string {
	return fmt.Sprintf("INV-%s-%04d", day.UTC().Format("060102"), seq)
}
