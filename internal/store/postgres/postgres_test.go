package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// arrayConverter lets []string reach the mock the way pgx accepts it for ANY($n).
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

var productColumnNames = []string{
	"id", "shop_id", "name", "brand", "category", "size", "hsn_code", "mrp", "cost_price",
	"bottles_per_case", "gst_rate", "reorder_level", "warehouse_cases", "warehouse_bottles", "shop_bottles",
	"active", "created_at", "updated_at",
}

func productRows(products ...domain.Product) *sqlmock.Rows {
	rows := sqlmock.NewRows(productColumnNames)
	for _, p := range products {
		var bpc any
		if p.BottlesPerCase > 0 {
			bpc = int64(p.BottlesPerCase)
		}
		rows.AddRow(p.ID, p.ShopID, p.Name, p.Brand, string(p.Category), string(p.Size), p.HSNCode,
			p.MRP.StringFixed(2), p.CostPrice.StringFixed(2), bpc, int64(p.GSTRate), int64(p.ReorderLevel),
			int64(p.WarehouseCases), int64(p.WarehouseBottles), int64(p.ShopBottles), p.Active, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func fixtureProduct(id string, mrp int64, shopBottles int) domain.Product {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Product{
		ID: id, ShopID: "shop-1", Name: "Product " + id, Brand: "Brand", Category: domain.CategoryWhisky,
		Size: domain.SizeML750, HSNCode: "22083011", MRP: decimal.NewFromInt(mrp), CostPrice: decimal.NewFromInt(mrp / 2),
		GSTRate: 18, ReorderLevel: 10, WarehouseCases: 2, ShopBottles: shopBottles, Active: true,
		CreatedAt: at, UpdatedAt: at,
	}
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestCreateSaleCommitsPricedSaleWithSequenceInvoice(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows(fixtureProduct("p-1", 590, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).
		WithArgs(2, at, "p-1", "shop-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO invoice_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(7)))
	mock.ExpectExec(q("INSERT INTO sales (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sale, err := s.CreateSale(context.Background(), domain.Sale{
		ID:          "sale-1",
		ShopID:      "shop-1",
		PaymentMode: domain.PaymentCash,
		CreatedBy:   "staff",
		CreatedAt:   at,
		Items:       []domain.SaleItem{{ProductID: "p-1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-260302-0007", sale.InvoiceNumber)
	assert.True(t, sale.Total.Equal(decimal.NewFromInt(1180)), "total %s", sale.Total)
	assert.True(t, sale.CGST.Equal(decimal.NewFromInt(90)), "cgst %s", sale.CGST)
	assert.Equal(t, "Product p-1", sale.Items[0].ProductName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSaleRollsBackWhenLaterLineItemFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).
		WillReturnRows(productRows(fixtureProduct("p-1", 500, 10), fixtureProduct("p-2", 300, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO invoice_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(1)))
	mock.ExpectExec(q("INSERT INTO sales (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		PaymentMode: domain.PaymentUPI,
		CreatedBy:   "staff",
		Items: []domain.SaleItem{
			{ProductID: "p-1", Quantity: 1},
			{ProductID: "p-2", Quantity: 1},
		},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSaleReportsShortStockFromConditionalUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows(fixtureProduct("p-1", 500, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT shop_bottles FROM products")).
		WillReturnRows(sqlmock.NewRows([]string{"shop_bottles"}).AddRow(int64(1)))
	mock.ExpectRollback()

	_, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		PaymentMode: domain.PaymentCash,
		Items:       []domain.SaleItem{{ProductID: "p-1", Quantity: 3}},
	})
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, "not enough stock for Product p-1, available: 1", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSaleUnknownProductIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows())
	mock.ExpectRollback()

	_, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		PaymentMode: domain.PaymentCash,
		Items:       []domain.SaleItem{{ProductID: "p-foreign", Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditSaleOverLimitReportsHeadroom(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows(fixtureProduct("p-1", 1000, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO invoice_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(3)))
	mock.ExpectExec(q("INSERT INTO sales (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET credit_balance = credit_balance + $1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT credit_limit, credit_balance FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "credit_balance"}).AddRow("5000.00", "4500.00"))
	mock.ExpectRollback()

	_, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		CustomerID:  "c-1",
		PaymentMode: domain.PaymentCredit,
		Items:       []domain.SaleItem{{ProductID: "p-1", Quantity: 1}},
	})
	var creditErr *store.CreditLimitError
	require.ErrorAs(t, err, &creditErr)
	assert.Equal(t, "credit limit exceeded, available: 500.00", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferStockRejectsShortWarehouse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(productRows(fixtureProduct("p-1", 500, 0)))
	mock.ExpectRollback()

	_, _, err := s.TransferStock(context.Background(), domain.StockTransfer{ShopID: "shop-1", ProductID: "p-1", Cases: 5})
	require.ErrorIs(t, err, store.ErrInsufficientCases)
	assert.Equal(t, "only 2 cases available in warehouse", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferStockMovesCasesToShopFloor(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(productRows(fixtureProduct("p-1", 500, 4)))
	mock.ExpectExec(q("SET warehouse_cases = warehouse_cases - $1, shop_bottles = shop_bottles + $2")).
		WithArgs(2, 24, sqlmock.AnyArg(), "p-1", "shop-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO stock_transfers")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	transfer, product, err := s.TransferStock(context.Background(), domain.StockTransfer{
		ShopID: "shop-1", ProductID: "p-1", Cases: 2, CreatedBy: "manager",
	})
	require.NoError(t, err)
	assert.Equal(t, 24, transfer.BottlesGenerated)
	assert.Equal(t, 0, product.WarehouseCases)
	assert.Equal(t, 28, product.ShopBottles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPaymentOverBalanceReportsBalance(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SET credit_balance = credit_balance - $1")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(q("SELECT credit_limit, credit_balance FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "credit_balance"}).AddRow("5000.00", "1200.00"))
	mock.ExpectRollback()

	_, err := s.RecordPayment(context.Background(), domain.Payment{
		ShopID: "shop-1", CustomerID: "c-1", Amount: decimal.NewFromInt(1500),
	})
	require.ErrorIs(t, err, store.ErrPaymentExceedsBalance)
	assert.Equal(t, "payment exceeds balance of 1200.00", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePurchaseDuplicateInvoice(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(q("INSERT INTO purchases")).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.CreatePurchase(context.Background(), domain.Purchase{
		ShopID:        "shop-1",
		SupplierID:    "sup-1",
		InvoiceNumber: "DIST-001",
		PurchaseDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PaymentStatus: domain.PaymentStatusPaid,
		Items:         []domain.PurchaseItem{{ProductID: "p-1", Cases: 2, CostPerCase: decimal.NewFromInt(6000), GSTRate: 18}},
	})
	require.ErrorIs(t, err, store.ErrDuplicateInvoice)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductOtherShopIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM products WHERE id = $1 AND shop_id = $2")).
		WithArgs("p-1", "shop-2").
		WillReturnRows(productRows())

	_, err := s.GetProduct(context.Background(), "shop-2", "p-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditSaleReachingLimitExactlyCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows(fixtureProduct("p-1", 250, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO invoice_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(4)))
	mock.ExpectExec(q("INSERT INTO sales (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("WHERE id = $2 AND shop_id = $3 AND credit_balance + $1 <= credit_limit")).
		WithArgs(sqlmock.AnyArg(), "c-1", "shop-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sale, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		CustomerID:  "c-1",
		PaymentMode: domain.PaymentCredit,
		Items:       []domain.SaleItem{{ProductID: "p-1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(decimal.NewFromInt(250)), "total %s", sale.Total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditSaleOnePaiseOverLimitIsRejected(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("AND id = ANY($2)")).WillReturnRows(productRows(fixtureProduct("p-1", 250, 10)))
	mock.ExpectExec(q("SET shop_bottles = shop_bottles - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO invoice_sequences")).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(5)))
	mock.ExpectExec(q("INSERT INTO sales (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("credit_balance + $1 <= credit_limit")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT credit_limit, credit_balance FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "credit_balance"}).AddRow("5000.00", "5000.00"))
	mock.ExpectRollback()

	_, err := s.CreateSale(context.Background(), domain.Sale{
		ShopID:      "shop-1",
		CustomerID:  "c-1",
		PaymentMode: domain.PaymentCredit,
		Items:       []domain.SaleItem{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.RequireFromString("0.01")}},
	})
	require.ErrorIs(t, err, store.ErrCreditLimitExceeded)
	assert.Equal(t, "credit limit exceeded, available: 0.00", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(productRows(fixtureProduct("p-1", 500, 4)))
	mock.ExpectExec(q("SET warehouse_cases = warehouse_cases - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO stock_transfers")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	_, _, err := s.TransferStock(context.Background(), domain.StockTransfer{ShopID: "shop-1", ProductID: "p-1", Cases: 1})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadlockOnPaymentIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SET credit_balance = credit_balance - $1")).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	_, err := s.RecordPayment(context.Background(), domain.Payment{
		ShopID: "shop-1", CustomerID: "c-1", Amount: decimal.NewFromInt(100),
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGSTByMonthScansMonthlyTotals(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("GROUP BY month")).
		WithArgs("shop-1", from, to, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"month", "sales_total", "output_cgst", "output_sgst", "input_cgst", "input_sgst"}).
			AddRow("2026-03", "1180.00", "90.00", "90.00", "540.00", "540.00").
			AddRow("2026-02", "0", "0", "0", "135.00", "135.00"))

	months, err := s.GSTByMonth(context.Background(), "shop-1", from, to)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2026-03", months[0].Month)
	assert.True(t, months[0].SalesTotal.Equal(decimal.NewFromInt(1180)), "sales %s", months[0].SalesTotal)
	assert.True(t, months[1].InputSGST.Equal(decimal.NewFromInt(135)), "input sgst %s", months[1].InputSGST)
	require.NoError(t, mock.ExpectationsWereMet())
}
