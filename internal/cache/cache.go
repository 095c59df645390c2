package cache

import (
	"context"
	"time"

	"shopledger/backend/internal/domain"
)

// CollectionCache holds the computed collection queue per shop.
type CollectionCache interface {
	Get(ctx context.Context, key string) (*domain.CollectionQueue, bool, error)
	Set(ctx context.Context, key string, value *domain.CollectionQueue, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopCollectionCache struct{}

func (NoopCollectionCache) Get(_ context.Context, _ string) (*domain.CollectionQueue, bool, error) {
	return nil, false, nil
}

func (NoopCollectionCache) Set(_ context.Context, _ string, _ *domain.CollectionQueue, _ time.Duration) error {
	return nil
}

func (NoopCollectionCache) Delete(_ context.Context, _ string) error {
	return nil
}
