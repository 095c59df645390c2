package service

import (
	"context"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/ledger"
)

// GSTSummary nets output tax on sales against input tax on purchases for
// the inclusive day range in query, with a per-month breakdown.
func (s *Service) GSTSummary(ctx context.Context, shopID string, query domain.GSTQuery) (domain.GSTSummary, error) {
	if err := scope(ctx, shopID); err != nil {
		return domain.GSTSummary{}, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.GSTSummary{}, err
	}

	query.From = strings.TrimSpace(query.From)
	query.To = strings.TrimSpace(query.To)
	if err := domain.Validate(query); err != nil {
		return domain.GSTSummary{}, err
	}

	today := s.now().Truncate(24 * time.Hour)
	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := today
	if query.From != "" {
		from, _ = time.Parse(time.DateOnly, query.From)
	}
	if query.To != "" {
		to, _ = time.Parse(time.DateOnly, query.To)
	}
	if to.Before(from) {
		return domain.GSTSummary{}, domain.Invalid("to", "must not be before from")
	}

	months, err := s.repo.GSTByMonth(ctx, shopID, from, to.Add(24*time.Hour))
	if err != nil {
		return domain.GSTSummary{}, err
	}
	summary := ledger.SettleGST(months)
	summary.From = from.Format(time.DateOnly)
	summary.To = to.Format(time.DateOnly)
	return summary, nil
}
