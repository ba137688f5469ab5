package cache

import (
	"context"
	"time"

	"agropos/backend/internal/domain"
)

// MetricsCache stores whole computed metric results keyed on input identity
// (snapshot revision + admin flag). There is no partial invalidation: a new
// revision simply uses a new key.
type MetricsCache interface {
	Get(ctx context.Context, key string) (*domain.Metrics, bool, error)
	Set(ctx context.Context, key string, value *domain.Metrics, ttl time.Duration) error
}

type NoopMetricsCache struct{}

func (NoopMetricsCache) Get(_ context.Context, _ string) (*domain.Metrics, bool, error) {
	return nil, false, nil
}

func (NoopMetricsCache) Set(_ context.Context, _ string, _ *domain.Metrics, _ time.Duration) error {
	return nil
}
