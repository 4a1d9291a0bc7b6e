package cache

import (
	"context"
	"time"

	"branchledger/backend/internal/domain"
)

// SummaryKey is the single key the cross-branch tray summary is cached under.
const SummaryKey = "branchledger:trays:summary"

type TraySummaryCache interface {
	Get(ctx context.Context, key string) (*domain.TraySummary, bool, error)
	Set(ctx context.Context, key string, value *domain.TraySummary, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopTraySummaryCache struct{}

func (NoopTraySummaryCache) Get(_ context.Context, _ string) (*domain.TraySummary, bool, error) {
	return nil, false, nil
}

func (NoopTraySummaryCache) Set(_ context.Context, _ string, _ *domain.TraySummary, _ time.Duration) error {
	return nil
}

func (NoopTraySummaryCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
