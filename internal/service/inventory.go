package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/ledger"
	"shopledger/backend/internal/store"
)

const stockCountScope = "stock-count"

func (s *Service) CreateProduct(ctx context.Context, shopID string, req domain.ProductCreateRequest) (product domain.Product, err error) {
	started := time.Now()
	defer func() { s.observe("product_create", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.Product{}, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Brand = strings.TrimSpace(req.Brand)
	if err := domain.Validate(req); err != nil {
		return domain.Product{}, err
	}
	if err := domain.RequirePositive("mrp", req.MRP); err != nil {
		return domain.Product{}, err
	}
	if err := domain.RequirePositive("cost_price", req.CostPrice); err != nil {
		return domain.Product{}, err
	}

	gstRate := domain.DefaultGSTRate
	if req.GSTRate != nil {
		gstRate = *req.GSTRate
	}
	reorderLevel := domain.DefaultReorderLevel
	if req.ReorderLevel != nil {
		reorderLevel = *req.ReorderLevel
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:         shopID,
		Name:           req.Name,
		Brand:          req.Brand,
		Category:       req.Category,
		Size:           req.Size,
		HSNCode:        ledger.HSNCode(req.Category),
		MRP:            req.MRP,
		CostPrice:      req.CostPrice,
		BottlesPerCase: req.BottlesPerCase,
		GSTRate:        gstRate,
		ReorderLevel:   reorderLevel,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, shopID, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,size=%s,mrp=%s", created.Name, created.Size, created.MRP.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, shopID string, productID string, req domain.ProductUpdateRequest) (product domain.Product, err error) {
	started := time.Now()
	defer func() { s.observe("product_update", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.Product{}, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.activeProduct(ctx, shopID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, domain.Invalid("name", "is required")
		}
		updated.Name = name
	}
	if req.Brand != nil {
		brand := strings.TrimSpace(*req.Brand)
		if brand == "" {
			return domain.Product{}, domain.Invalid("brand", "is required")
		}
		updated.Brand = brand
	}
	if req.Category != nil {
		updated.Category = *req.Category
		updated.HSNCode = ledger.HSNCode(*req.Category)
	}
	if req.MRP != nil {
		if err := domain.RequirePositive("mrp", *req.MRP); err != nil {
			return domain.Product{}, err
		}
		updated.MRP = *req.MRP
	}
	if req.CostPrice != nil {
		if err := domain.RequirePositive("cost_price", *req.CostPrice); err != nil {
			return domain.Product{}, err
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.BottlesPerCase != nil {
		updated.BottlesPerCase = *req.BottlesPerCase
	}
	if req.GSTRate != nil {
		updated.GSTRate = *req.GSTRate
	}
	if req.ReorderLevel != nil {
		updated.ReorderLevel = *req.ReorderLevel
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, shopID, "product_update", "product", saved.ID,
		fmt.Sprintf("mrp=%s,gst=%d,reorder=%d", saved.MRP.StringFixed(2), saved.GSTRate, saved.ReorderLevel))
	return *saved, nil
}

// DeactivateProduct soft-deletes a product. History rows keep pointing at it.
func (s *Service) DeactivateProduct(ctx context.Context, shopID string, productID string) (err error) {
	started := time.Now()
	defer func() { s.observe("product_deactivate", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return err
	}

	existing, err := s.activeProduct(ctx, shopID, productID)
	if err != nil {
		return err
	}
	existing.Active = false
	existing.UpdatedAt = s.now()
	if _, err := s.repo.UpdateProduct(ctx, existing); err != nil {
		return err
	}

	s.logAudit(ctx, shopID, "product_deactivate", "product", existing.ID, existing.Name)
	return nil
}

func (s *Service) activeProduct(ctx context.Context, shopID string, productID string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, shopID, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, store.ErrNotFound
	}
	return *product, nil
}

func (s *Service) ListInventory(ctx context.Context, shopID string, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, shopID)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	items := make([]domain.InventoryItem, 0, len(products))
	for _, product := range products {
		if !product.Active {
			continue
		}
		if filter.Category != "" && product.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(product.Name), search) &&
			!strings.Contains(strings.ToLower(product.Brand), search) {
			continue
		}
		item := ledger.InventoryView(product)
		if filter.StockStatus != "" && item.StockStatus != filter.StockStatus {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) TransferStock(ctx context.Context, shopID string, req domain.TransferRequest) (resp domain.TransferResponse, err error) {
	started := time.Now()
	defer func() { s.observe("stock_transfer", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.TransferResponse{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.TransferResponse{}, err
	}

	transfer, product, err := s.repo.TransferStock(ctx, domain.StockTransfer{
		ShopID:    shopID,
		ProductID: strings.TrimSpace(req.ProductID),
		Cases:     req.Cases,
		CreatedBy: actorName(ctx),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.logAudit(ctx, shopID, "stock_transfer", "product", product.ID,
		fmt.Sprintf("cases=%d,bottles=%d", transfer.Cases, transfer.BottlesGenerated))
	return domain.TransferResponse{
		Transfer:         *transfer,
		Product:          *product,
		BottlesGenerated: transfer.BottlesGenerated,
	}, nil
}

func (s *Service) ListTransfers(ctx context.Context, shopID string, limit int) ([]domain.StockTransfer, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = domain.TransferHistorySize
	}
	return s.repo.ListTransfers(ctx, shopID, limit)
}

// ReconcileStock applies a physical count. Only one count per shop runs at a
// time; a concurrent submission fails with lock.ErrLocked.
func (s *Service) ReconcileStock(ctx context.Context, shopID string, req domain.StockCountRequest) (resp domain.StockCountResponse, err error) {
	started := time.Now()
	defer func() { s.observe("stock_count", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.StockCountResponse{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.StockCountResponse{}, err
	}
	seen := make(map[string]struct{}, len(req.Entries))
	for i := range req.Entries {
		req.Entries[i].ProductID = strings.TrimSpace(req.Entries[i].ProductID)
		id := req.Entries[i].ProductID
		if _, dup := seen[id]; dup {
			return domain.StockCountResponse{}, domain.Invalid(fmt.Sprintf("entries[%d].product_id", i), "is counted twice")
		}
		seen[id] = struct{}{}
	}

	release, err := s.locker.Acquire(ctx, stockCountScope, shopID)
	if err != nil {
		return domain.StockCountResponse{}, err
	}
	defer release()

	logs, err := s.repo.ReconcileStock(ctx, shopID, req.Entries, actorName(ctx), s.now())
	if err != nil {
		return domain.StockCountResponse{}, err
	}

	resp = domain.StockCountResponse{Logs: logs, ProductsCounted: len(logs)}
	for _, l := range logs {
		resp.TotalAutoSales += l.AutoSalesCount
		if l.HasAnomaly {
			resp.Anomalies++
			s.logger.Warn("stock count anomaly",
				zap.String("shop_id", shopID),
				zap.String("product_id", l.ProductID),
				zap.Int("expected_bottles", l.ExpectedBottles),
				zap.Int("counted_bottles", l.ShopBottles))
		}
	}
	s.metrics.RecordCount(resp.TotalAutoSales, resp.Anomalies)

	s.logAudit(ctx, shopID, "stock_count", "inventory", logs[0].ID,
		fmt.Sprintf("products=%d,auto_sales=%d,anomalies=%d", resp.ProductsCounted, resp.TotalAutoSales, resp.Anomalies))
	return resp, nil
}

func (s *Service) ListStockCounts(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockCountLog, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListStockCounts(ctx, shopID, strings.TrimSpace(productID), limit)
}

// ReceiveStockOnly adds delivered cases to the warehouse without a purchase
// record. Entries with no positive case count are ignored.
func (s *Service) ReceiveStockOnly(ctx context.Context, shopID string, req domain.ReceiveStockRequest) (resp domain.ReceiveStockResponse, err error) {
	started := time.Now()
	defer func() { s.observe("stock_receive", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.ReceiveStockResponse{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.ReceiveStockResponse{}, err
	}

	entries := make([]domain.ReceiveStockEntry, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if entry.Cases > 0 {
			entry.ProductID = strings.TrimSpace(entry.ProductID)
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return domain.ReceiveStockResponse{}, domain.Invalid("", "no stock quantities entered")
	}

	count, err := s.repo.ReceiveStock(ctx, shopID, entries)
	if err != nil {
		return domain.ReceiveStockResponse{}, err
	}

	s.logAudit(ctx, shopID, "stock_receive", "inventory", entries[0].ProductID, fmt.Sprintf("entries=%d", count))
	return domain.ReceiveStockResponse{Count: count}, nil
}
