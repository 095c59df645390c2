// Package ledger holds the stock and tax arithmetic shared by every
// pipeline: case to bottle conversion, the smart-balance reconciliation
// and the GST split for inclusive and exclusive prices.
package ledger

import (
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

var defaultUnitsPerCase = map[domain.Size]int{
	domain.SizeML750:     12,
	domain.SizeML375:     24,
	domain.SizeML180:     48,
	domain.SizeCan500:    24,
	domain.SizeBottle650: 12,
}

// DefaultUnitsPerCase returns the size-keyed case size, or 0 for an unknown size.
func DefaultUnitsPerCase(size domain.Size) int {
	return defaultUnitsPerCase[size]
}

// UnitsPerCase is the only conversion factor between cases and bottles.
// A positive per-product override wins over the size default.
func UnitsPerCase(product domain.Product) int {
	if product.BottlesPerCase > 0 {
		return product.BottlesPerCase
	}
	return DefaultUnitsPerCase(product.Size)
}

func IsKnownSize(size domain.Size) bool {
	_, ok := defaultUnitsPerCase[size]
	return ok
}

func HSNCode(category domain.Category) string {
	switch category {
	case domain.CategoryWine:
		return "2204"
	case domain.CategoryBeer:
		return "2203"
	default:
		return "2208"
	}
}

func StockStatus(product domain.Product) string {
	switch {
	case product.ShopBottles == 0:
		return domain.StockStatusOutOfStock
	case product.ShopBottles <= product.ReorderLevel:
		return domain.StockStatusLowStock
	default:
		return domain.StockStatusInStock
	}
}

func TotalBottles(product domain.Product) int {
	return product.ShopBottles + product.WarehouseCases*UnitsPerCase(product) + product.WarehouseBottles
}

func InventoryView(product domain.Product) domain.InventoryItem {
	return domain.InventoryItem{
		Product:      product,
		UnitsPerCase: UnitsPerCase(product),
		TotalBottles: TotalBottles(product),
		StockStatus:  StockStatus(product),
	}
}

// Count is one physical count of a product's two stock tiers.
type Count struct {
	WarehouseCases int
	ShopBottles    int
}

type Balance struct {
	CasesOpened      int
	BottlesFromCases int
	ExpectedBottles  int
	AutoSalesCount   int
	HasAnomaly       bool
}

// SmartBalance diffs a physical count against the previous count log.
// Without a baseline the count is accepted as ground truth and nothing is
// inferred. With one, bottles missing from the shelf beyond what opened
// cases explain are auto-sales, and surplus bottles are an anomaly.
func SmartBalance(prev *Count, counted Count, unitsPerCase int) Balance {
	if prev == nil {
		return Balance{ExpectedBottles: counted.ShopBottles}
	}

	casesOpened := max(0, prev.WarehouseCases-counted.WarehouseCases)
	fromCases := casesOpened * unitsPerCase
	expected := prev.ShopBottles + fromCases

	return Balance{
		CasesOpened:      casesOpened,
		BottlesFromCases: fromCases,
		ExpectedBottles:  expected,
		AutoSalesCount:   max(0, expected-counted.ShopBottles),
		HasAnomaly:       counted.ShopBottles > expected,
	}
}

var hundred = decimal.NewFromInt(100)

// InclusiveTax splits a tax-inclusive line total into its taxable value and
// tax. The two always add back to lineTotal; no rounding happens here.
func InclusiveTax(lineTotal decimal.Decimal, rate int) (taxable decimal.Decimal, tax decimal.Decimal) {
	taxable = lineTotal.Mul(hundred).Div(hundred.Add(decimal.NewFromInt(int64(rate))))
	return taxable, lineTotal.Sub(taxable)
}

// ExclusiveTax computes the tax owed on a pre-tax line total.
func ExclusiveTax(lineTotal decimal.Decimal, rate int) decimal.Decimal {
	return lineTotal.Mul(decimal.NewFromInt(int64(rate))).Div(hundred)
}

// TaxTotals accumulates unrounded CGST/SGST halves across lines. Rounding to
// two places happens once, in Totals.
type TaxTotals struct {
	cgst decimal.Decimal
	sgst decimal.Decimal
}

func (t *TaxTotals) Add(tax decimal.Decimal) {
	half := tax.Div(decimal.NewFromInt(2))
	t.cgst = t.cgst.Add(half)
	t.sgst = t.sgst.Add(half)
}

func (t TaxTotals) Totals() (cgst decimal.Decimal, sgst decimal.Decimal) {
	return t.cgst.Round(2), t.sgst.Round(2)
}

// PriceSale fills line totals, subtotal, total and the GST halves of a sale
// whose items already carry quantity, unit price and rate. Retail prices are
// tax inclusive.
func PriceSale(sale *domain.Sale) error {
	var taxes TaxTotals
	subtotal := decimal.Zero
	for i := range sale.Items {
		item := &sale.Items[i]
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.LineTotal)
		_, tax := InclusiveTax(item.LineTotal, item.GSTRate)
		taxes.Add(tax)
	}
	total := subtotal.Sub(sale.Discount)
	if !total.IsPositive() {
		return domain.Invalid("total", "must be greater than 0")
	}
	sale.Subtotal = subtotal
	sale.Total = total
	sale.CGST, sale.SGST = taxes.Totals()
	return nil
}

// PricePurchase fills line totals, the pre-tax total and the GST halves of a
// purchase. Supplier costs are tax exclusive.
func PricePurchase(purchase *domain.Purchase) {
	var taxes TaxTotals
	total := decimal.Zero
	for i := range purchase.Items {
		item := &purchase.Items[i]
		item.LineTotal = item.CostPerCase.Mul(decimal.NewFromInt(int64(item.Cases)))
		total = total.Add(item.LineTotal)
		taxes.Add(ExclusiveTax(item.LineTotal, item.GSTRate))
	}
	purchase.Total = total
	purchase.CGST, purchase.SGST = taxes.Totals()
}

// SettleGST derives taxable sales and net payable for each month and rolls
// the months up into one summary. Input tax above output tax leaves a
// negative net payable, which is carried forward as credit.
func SettleGST(months []domain.GSTMonth) domain.GSTSummary {
	summary := domain.GSTSummary{Months: make([]domain.GSTMonth, 0, len(months))}
	for _, m := range months {
		m.TaxableSales = m.SalesTotal.Sub(m.OutputCGST).Sub(m.OutputSGST)
		m.NetPayable = m.OutputCGST.Add(m.OutputSGST).Sub(m.InputCGST).Sub(m.InputSGST)
		summary.Months = append(summary.Months, m)

		summary.SalesTotal = summary.SalesTotal.Add(m.SalesTotal)
		summary.TaxableValue = summary.TaxableValue.Add(m.TaxableSales)
		summary.OutputCGST = summary.OutputCGST.Add(m.OutputCGST)
		summary.OutputSGST = summary.OutputSGST.Add(m.OutputSGST)
		summary.InputCGST = summary.InputCGST.Add(m.InputCGST)
		summary.InputSGST = summary.InputSGST.Add(m.InputSGST)
	}
	summary.NetCGST = summary.OutputCGST.Sub(summary.InputCGST)
	summary.NetSGST = summary.OutputSGST.Sub(summary.InputSGST)
	summary.NetPayable = summary.NetCGST.Add(summary.NetSGST)
	return summary
}
