// Package collection builds the khata collection queue: customers who owe
// money, ordered so that large and untrustworthy balances come first.
package collection

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/credit"
	"shopledger/backend/internal/domain"
)

type Loader func(ctx context.Context, shopID string) ([]domain.CustomerStats, error)

type Engine struct {
	cache    cache.CollectionCache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewEngine(cacheStore cache.CollectionCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopCollectionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assess scores one customer.
func (e *Engine) Assess(stats domain.CustomerStats) domain.CustomerCredit {
	score, tier := credit.Score(credit.Input{
		Balance:    stats.CreditBalance,
		Limit:      stats.CreditLimit,
		TotalSales: stats.TotalSales,
		LastSaleAt: stats.LastSaleAt,
	}, e.now())
	return domain.CustomerCredit{
		CustomerStats: stats,
		TrustScore:    score,
		Tier:          tier,
		Priority:      credit.Priority(stats.CreditBalance, score),
	}
}

// Queue returns the shop's collection queue, serving from cache when fresh.
// Cache failures degrade to a recompute; they are never returned.
func (e *Engine) Queue(ctx context.Context, shopID string, load Loader) (domain.CollectionQueue, error) {
	key := cacheKey(shopID)
	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok && cached.ShopID == shopID {
		return *cached, nil
	}

	customers, err := load(ctx, shopID)
	if err != nil {
		return domain.CollectionQueue{}, err
	}

	queue := domain.CollectionQueue{
		ShopID:           shopID,
		Customers:        make([]domain.CustomerCredit, 0, len(customers)),
		TotalOutstanding: decimal.Zero,
		GeneratedAt:      e.now(),
	}
	for _, c := range customers {
		if !c.CreditBalance.IsPositive() {
			continue
		}
		queue.Customers = append(queue.Customers, e.Assess(c))
		queue.TotalOutstanding = queue.TotalOutstanding.Add(c.CreditBalance)
	}
	Sort(queue.Customers)

	_ = e.cache.Set(ctx, key, &queue, e.cacheTTL)
	return queue, nil
}

// Invalidate drops the cached queue after a balance changes.
func (e *Engine) Invalidate(ctx context.Context, shopID string) error {
	return e.cache.Delete(ctx, cacheKey(shopID))
}

// Sort orders by collection priority, highest first, then by customer id.
func Sort(customers []domain.CustomerCredit) {
	slices.SortFunc(customers, func(a, b domain.CustomerCredit) int {
		if c := b.Priority.Cmp(a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func cacheKey(shopID string) string {
	return "collections:" + shopID
}
