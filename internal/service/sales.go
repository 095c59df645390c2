package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

// Sell records a counter sale. A repeated idempotency key returns the sale
// already stored under it, flagged as a duplicate, and changes nothing.
func (s *Service) Sell(ctx context.Context, shopID string, req domain.SaleRequest) (resp domain.SaleResponse, err error) {
	started := time.Now()
	defer func() { s.observe("sale", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.SaleResponse{}, err
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := domain.Validate(req); err != nil {
		return domain.SaleResponse{}, err
	}
	if err := domain.RequireNonNegative("discount", req.Discount); err != nil {
		return domain.SaleResponse{}, err
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for i, item := range req.Items {
		line := domain.SaleItem{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity}
		if item.UnitPrice != nil {
			if err := domain.RequirePositive(fmt.Sprintf("items[%d].unit_price", i), *item.UnitPrice); err != nil {
				return domain.SaleResponse{}, err
			}
			line.UnitPrice = *item.UnitPrice
		}
		items = append(items, line)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, shopID, req.IdempotencyKey)
		if err == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, err
		}
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		ShopID:         shopID,
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		PaymentMode:    req.PaymentMode,
		Discount:       req.Discount,
		CreatedBy:      actorName(ctx),
		CreatedAt:      s.now(),
		Items:          items,
	}
	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	// A different id means a concurrent request with the same key won.
	if saved.ID != sale.ID {
		return domain.SaleResponse{Sale: *saved, Duplicate: true}, nil
	}

	// Any sale naming a customer moves its sale count and last sale date.
	if saved.CustomerID != "" {
		s.invalidateCollections(ctx, shopID)
	}
	s.logAudit(ctx, shopID, "sale_create", "sale", saved.ID,
		fmt.Sprintf("invoice=%s,mode=%s,total=%s,items=%d", saved.InvoiceNumber, saved.PaymentMode, saved.Total.StringFixed(2), len(saved.Items)))
	return domain.SaleResponse{Sale: *saved}, nil
}

func (s *Service) GetSale(ctx context.Context, shopID string, saleID string) (domain.Sale, error) {
	if err := scope(ctx, shopID); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.FindSaleByID(ctx, shopID, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, shopID string, limit int) ([]domain.Sale, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListSales(ctx, shopID, limit)
}
