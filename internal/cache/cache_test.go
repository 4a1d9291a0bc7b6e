package cache

import (
	"context"
	"testing"
	"time"

	"branchledger/backend/internal/domain"
)

func TestNoopCacheNeverHits(t *testing.T) {
	var c TraySummaryCache = NoopTraySummaryCache{}
	ctx := context.Background()

	if err := c.Set(ctx, SummaryKey, &domain.TraySummary{BranchesCount: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, SummaryKey)
	if err != nil || ok || got != nil {
		t.Fatalf("expected miss, got %+v ok=%v err=%v", got, ok, err)
	}
	if err := c.Invalidate(ctx, SummaryKey); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}

func TestRedisCacheSkipsNilValues(t *testing.T) {
	c := NewRedisTraySummaryCache("127.0.0.1:0", "", 0)
	defer c.Close()

	if err := c.Set(context.Background(), SummaryKey, nil, time.Minute); err != nil {
		t.Fatalf("nil set must be a no-op, got %v", err)
	}
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("empty invalidate must be a no-op, got %v", err)
	}
}
