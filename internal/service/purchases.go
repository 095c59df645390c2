package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
)

func (s *Service) CreateSupplier(ctx context.Context, shopID string, req domain.SupplierCreateRequest) (supplier domain.Supplier, err error) {
	started := time.Now()
	defer func() { s.observe("supplier_create", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.Supplier{}, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.ContactName = strings.TrimSpace(req.ContactName)
	req.GSTNumber = strings.ToUpper(strings.TrimSpace(req.GSTNumber))
	if err := domain.Validate(req); err != nil {
		return domain.Supplier{}, err
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ShopID:      shopID,
		Name:        req.Name,
		Phone:       req.Phone,
		ContactName: req.ContactName,
		GSTNumber:   req.GSTNumber,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, shopID, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context, shopID string) ([]domain.Supplier, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, shopID)
}

// ReceivePurchase books a supplier invoice and adds its cases to the
// warehouse. Line GST defaults to the product's own rate.
func (s *Service) ReceivePurchase(ctx context.Context, shopID string, req domain.PurchaseRequest) (resp domain.PurchaseResponse, err error) {
	started := time.Now()
	defer func() { s.observe("purchase", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.PurchaseResponse{}, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.PurchaseResponse{}, err
	}

	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.PurchaseDate = strings.TrimSpace(req.PurchaseDate)
	if err := domain.Validate(req); err != nil {
		return domain.PurchaseResponse{}, err
	}

	now := s.now()
	purchaseDate := now.Truncate(24 * time.Hour)
	if req.PurchaseDate != "" {
		parsed, err := time.Parse(time.DateOnly, req.PurchaseDate)
		if err != nil {
			return domain.PurchaseResponse{}, domain.Invalid("purchase_date", "must be a date in 2006-01-02 format")
		}
		purchaseDate = parsed
	}
	status := req.PaymentStatus
	if status == "" {
		status = domain.PaymentStatusPaid
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	for i, item := range req.Items {
		if err := domain.RequirePositive(fmt.Sprintf("items[%d].cost_per_case", i), item.CostPerCase); err != nil {
			return domain.PurchaseResponse{}, err
		}
		product, err := s.activeProduct(ctx, shopID, item.ProductID)
		if err != nil {
			return domain.PurchaseResponse{}, err
		}
		rate := product.GSTRate
		if item.GSTRate != nil {
			rate = *item.GSTRate
		}
		items = append(items, domain.PurchaseItem{
			ProductID:   product.ID,
			Cases:       item.Cases,
			CostPerCase: item.CostPerCase,
			GSTRate:     rate,
		})
	}

	saved, err := s.repo.CreatePurchase(ctx, domain.Purchase{
		ShopID:        shopID,
		SupplierID:    req.SupplierID,
		InvoiceNumber: req.InvoiceNumber,
		PurchaseDate:  purchaseDate,
		PaymentStatus: status,
		CreatedBy:     actorName(ctx),
		CreatedAt:     now,
		Items:         items,
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, shopID, "purchase_receive", "purchase", saved.ID,
		fmt.Sprintf("invoice=%s,items=%d,total=%s", saved.InvoiceNumber, len(saved.Items), saved.Total.StringFixed(2)))
	return domain.PurchaseResponse{Purchase: *saved}, nil
}

func (s *Service) ListPurchases(ctx context.Context, shopID string, limit int) ([]domain.Purchase, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPurchases(ctx, shopID, limit)
}
