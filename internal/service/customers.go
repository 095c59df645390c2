package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
)

func (s *Service) CreateCustomer(ctx context.Context, shopID string, req domain.CustomerCreateRequest) (customer domain.Customer, err error) {
	started := time.Now()
	defer func() { s.observe("customer_create", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if err := domain.Validate(req); err != nil {
		return domain.Customer{}, err
	}
	limit := domain.DefaultCreditLimit
	if req.CreditLimit != nil {
		if err := domain.RequireNonNegative("credit_limit", *req.CreditLimit); err != nil {
			return domain.Customer{}, err
		}
		limit = *req.CreditLimit
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ShopID:      shopID,
		Name:        req.Name,
		Phone:       req.Phone,
		Address:     req.Address,
		CreditLimit: limit,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, shopID, "customer_create", "customer", created.ID,
		fmt.Sprintf("name=%s,limit=%s", created.Name, created.CreditLimit.StringFixed(2)))
	return *created, nil
}

// RecordPayment settles part or all of a khata balance.
func (s *Service) RecordPayment(ctx context.Context, shopID string, customerID string, req domain.PaymentRequest) (resp domain.PaymentResponse, err error) {
	started := time.Now()
	defer func() { s.observe("payment", started, err) }()
	if err := scope(ctx, shopID); err != nil {
		return domain.PaymentResponse{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.PaymentResponse{}, domain.Invalid("customer_id", "is required")
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := domain.Validate(req); err != nil {
		return domain.PaymentResponse{}, err
	}
	if err := domain.RequirePositive("amount", req.Amount); err != nil {
		return domain.PaymentResponse{}, err
	}

	payment, err := s.repo.RecordPayment(ctx, domain.Payment{
		ShopID:     shopID,
		CustomerID: customerID,
		Amount:     req.Amount,
		Note:       req.Note,
		RecordedBy: actorName(ctx),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	s.invalidateCollections(ctx, shopID)
	s.logAudit(ctx, shopID, "payment_record", "customer", customerID,
		fmt.Sprintf("amount=%s,balance=%s", payment.Amount.StringFixed(2), payment.BalanceAfter.StringFixed(2)))
	return domain.PaymentResponse{Payment: *payment, NewBalance: payment.BalanceAfter}, nil
}

// ListCustomers returns every customer of the shop with its credit assessment.
func (s *Service) ListCustomers(ctx context.Context, shopID string) ([]domain.CustomerCredit, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	stats, err := s.repo.ListCustomerStats(ctx, shopID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.CustomerCredit, 0, len(stats))
	for _, cs := range stats {
		result = append(result, s.collections.Assess(cs))
	}
	return result, nil
}

func (s *Service) CollectionQueue(ctx context.Context, shopID string) (domain.CollectionQueue, error) {
	if err := scope(ctx, shopID); err != nil {
		return domain.CollectionQueue{}, err
	}
	return s.collections.Queue(ctx, shopID, s.repo.ListCustomerStats)
}
