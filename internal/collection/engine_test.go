package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

type mapCache struct {
	items   map[string]*domain.CollectionQueue
	deletes int
}

func (m *mapCache) Get(_ context.Context, key string) (*domain.CollectionQueue, bool, error) {
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value *domain.CollectionQueue, _ time.Duration) error {
	copied := *value
	m.items[key] = &copied
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.deletes++
	delete(m.items, key)
	return nil
}

var fixedNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestEngine(c *mapCache) *Engine {
	e := NewEngine(c, time.Minute)
	e.now = func() time.Time { return fixedNow }
	return e
}

func stats(id string, balance int64, limit int64, sales int, lastSaleDaysAgo int) domain.CustomerStats {
	s := domain.CustomerStats{
		Customer: domain.Customer{
			ID:            id,
			ShopID:        "shop-a",
			Name:          id,
			CreditBalance: decimal.NewFromInt(balance),
			CreditLimit:   decimal.NewFromInt(limit),
		},
		TotalSales: sales,
	}
	if lastSaleDaysAgo >= 0 {
		at := fixedNow.AddDate(0, 0, -lastSaleDaysAgo)
		s.LastSaleAt = &at
	}
	return s
}

func TestQueueSkipsSettledAndSortsByPriority(t *testing.T) {
	engine := newTestEngine(&mapCache{items: map[string]*domain.CollectionQueue{}})
	customers := []domain.CustomerStats{
		stats("settled", 0, 5000, 3, 2),
		stats("trusted-big", 4000, 100000, 25, 1),
		stats("risky-small", 1000, 1000, 0, -1),
		stats("mid", 3000, 10000, 6, 40),
	}

	queue, err := engine.Queue(context.Background(), "shop-a", func(context.Context, string) ([]domain.CustomerStats, error) {
		return customers, nil
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue.Customers) != 3 {
		t.Fatalf("expected 3 customers owing money, got %d", len(queue.Customers))
	}
	if queue.Customers[0].ID != "risky-small" {
		t.Fatalf("expected risky-small first, got %s", queue.Customers[0].ID)
	}
	if queue.Customers[1].ID != "mid" || queue.Customers[2].ID != "trusted-big" {
		t.Fatalf("unexpected order %s, %s", queue.Customers[1].ID, queue.Customers[2].ID)
	}
	if !queue.TotalOutstanding.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("expected 8000 outstanding, got %s", queue.TotalOutstanding)
	}
	first := queue.Customers[0]
	if first.TrustScore != 45 || first.Tier != "Risky" {
		t.Fatalf("unexpected assessment %d/%s", first.TrustScore, first.Tier)
	}
}

func TestQueueServesCacheUntilInvalidated(t *testing.T) {
	c := &mapCache{items: map[string]*domain.CollectionQueue{}}
	engine := newTestEngine(c)
	loads := 0
	load := func(context.Context, string) ([]domain.CustomerStats, error) {
		loads++
		return []domain.CustomerStats{stats("a", 100, 5000, 0, 1)}, nil
	}

	for range 3 {
		if _, err := engine.Queue(context.Background(), "shop-a", load); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}

	if err := engine.Invalidate(context.Background(), "shop-a"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := engine.Queue(context.Background(), "shop-a", load); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected reload after invalidation, got %d loads", loads)
	}
}

func TestQueuePropagatesLoadError(t *testing.T) {
	engine := NewEngine(nil, 0)
	boom := errors.New("db down")
	_, err := engine.Queue(context.Background(), "shop-a", func(context.Context, string) ([]domain.CustomerStats, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}
